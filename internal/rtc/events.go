package rtc

import "fmt"

// EventKind identifies an Event variant
type EventKind int

const (
	KindLocalStreamPublished EventKind = iota
	KindPeerLeave
	KindTransportError
	KindRemoteStreamAdded
	KindRemoteStreamRemoved
	KindRemoteStreamSubscribed
	KindMediaAccessAllowed
	KindMediaAccessDenied
)

func (k EventKind) String() string {
	switch k {
	case KindLocalStreamPublished:
		return "stream-published"
	case KindPeerLeave:
		return "peer-leave"
	case KindTransportError:
		return "error"
	case KindRemoteStreamAdded:
		return "stream-added"
	case KindRemoteStreamRemoved:
		return "stream-removed"
	case KindRemoteStreamSubscribed:
		return "stream-subscribed"
	case KindMediaAccessAllowed:
		return "accessAllowed"
	case KindMediaAccessDenied:
		return "accessDenied"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one of the notifications below
type Event interface {
	Kind() EventKind
}

// LocalStreamPublished reports that the local stream reached the room
type LocalStreamPublished struct {
	Stream LocalStream
}

// PeerLeave reports that a participant left. Stream is nil when the
// participant never published.
type PeerLeave struct {
	UID    int
	Stream RemoteStream
}

// TransportError reports a room level failure
type TransportError struct {
	Reason string
}

// RemoteStreamAdded reports a newly published remote stream
type RemoteStreamAdded struct {
	Stream RemoteStream
}

// RemoteStreamRemoved reports that a remote stream stopped publishing
type RemoteStreamRemoved struct {
	Stream RemoteStream
}

// RemoteStreamSubscribed reports that a subscription is ready to play
type RemoteStreamSubscribed struct {
	Stream RemoteStream
}

// MediaAccessAllowed reports granted capture permission
type MediaAccessAllowed struct{}

// MediaAccessDenied reports refused capture permission
type MediaAccessDenied struct{}

func (LocalStreamPublished) Kind() EventKind   { return KindLocalStreamPublished }
func (PeerLeave) Kind() EventKind              { return KindPeerLeave }
func (TransportError) Kind() EventKind         { return KindTransportError }
func (RemoteStreamAdded) Kind() EventKind      { return KindRemoteStreamAdded }
func (RemoteStreamRemoved) Kind() EventKind    { return KindRemoteStreamRemoved }
func (RemoteStreamSubscribed) Kind() EventKind { return KindRemoteStreamSubscribed }
func (MediaAccessAllowed) Kind() EventKind     { return KindMediaAccessAllowed }
func (MediaAccessDenied) Kind() EventKind      { return KindMediaAccessDenied }
