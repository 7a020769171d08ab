// Package rtc defines the contract between conference sessions and the
// real-time communication client that carries their media.
//
// Implementations own signaling and media transport entirely. A session only
// calls the operations below and reacts to the events delivered on Events.
package rtc

import (
	"context"
	"errors"
)

// ReasonDynamicKeyTimeout is the transport error reason reported when the channel key expired
const ReasonDynamicKeyTimeout = "DYNAMIC_KEY_TIMEOUT"

var (
	// ErrMediaAccessDenied is returned by LocalStream.Init when capture permission is refused
	ErrMediaAccessDenied = errors.New("media access denied")
	// ErrNotInRoom is returned for operations that need a joined room
	ErrNotInRoom = errors.New("client has not joined a room")
	// ErrStreamGone is returned when subscribing to a stream that has left the room
	ErrStreamGone = errors.New("remote stream is no longer available")
)

// ClientConfig selects the client flavour
type ClientConfig struct {
	Mode  string
	Codec string
}

// StreamSpec describes a local capture stream
type StreamSpec struct {
	StreamID int
	Audio    bool
	Video    bool
	Screen   bool
}

// SubscribeOptions selects which media of a remote stream to receive
type SubscribeOptions struct {
	Audio bool
	Video bool
}

// ClientFactory creates RTC clients
type ClientFactory func(cfg ClientConfig) (Client, error)

// Client is a connection to an RTC room
type Client interface {
	// CreateStream prepares a local capture stream; capture starts with LocalStream.Init
	CreateStream(spec StreamSpec) (LocalStream, error)
	// Join connects to room under the numeric identity uid
	Join(ctx context.Context, channelKey, room string, uid int) error
	// Publish sends a local stream to the room
	Publish(ctx context.Context, stream LocalStream) error
	// Subscribe requests media of a remote stream. Success is reported by a
	// RemoteStreamSubscribed event.
	Subscribe(ctx context.Context, stream RemoteStream, opts SubscribeOptions) error
	// Leave disconnects from the room
	Leave(ctx context.Context) error
	// RenewChannelKey replaces an expired channel key
	RenewChannelKey(ctx context.Context, token string) error
	// Events delivers client and local stream notifications
	Events() <-chan Event
}

// LocalStream is the local audio/video capture
type LocalStream interface {
	ID() string
	// Init acquires the capture devices
	Init(ctx context.Context) error
	// Play renders the stream into the named surface
	Play(elementID string) error
	Close()
	MuteAudio()
	UnmuteAudio()
	MuteVideo()
	UnmuteVideo()
}

// RemoteStream is media published by another participant
type RemoteStream interface {
	ID() string
	Play(elementID string) error
	Stop()
}
