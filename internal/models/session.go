package models

import (
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested entity is not found
var ErrNotFound = errors.New("entity not found")

// SessionStatus represents where a conference session is in its lifecycle
type SessionStatus int

const (
	SessionStatusIdle SessionStatus = iota
	SessionStatusJoining
	SessionStatusActive
	SessionStatusOngoingElsewhere
	SessionStatusLeft
)

// String returns the string representation of a session status
func (s SessionStatus) String() string {
	switch s {
	case SessionStatusIdle:
		return "idle"
	case SessionStatusJoining:
		return "joining"
	case SessionStatusActive:
		return "active"
	case SessionStatusOngoingElsewhere:
		return "ongoing_elsewhere"
	case SessionStatusLeft:
		return "left"
	default:
		return "unknown"
	}
}

// CanJoin reports whether a join may be started from this status
func (s SessionStatus) CanJoin() bool {
	return s != SessionStatusJoining && s != SessionStatusActive
}

// MarshalText encodes the status by name
func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *SessionStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []SessionStatus{
		SessionStatusIdle,
		SessionStatusJoining,
		SessionStatusActive,
		SessionStatusOngoingElsewhere,
		SessionStatusLeft,
	} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return errors.New("unknown session status: " + string(text))
}

// TriState is a flag that may also be unset. It encodes to JSON null, true or false.
type TriState int8

const (
	Unset TriState = iota
	True
	False
)

// Of converts a bool into a set TriState
func Of(b bool) TriState {
	if b {
		return True
	}
	return False
}

// IsTrue reports whether the flag is set and true
func (t TriState) IsTrue() bool { return t == True }

// IsSet reports whether the flag holds a value
func (t TriState) IsSet() bool { return t != Unset }

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "null"
	}
}

// MarshalJSON encodes the flag as null, true or false
func (t TriState) MarshalJSON() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalJSON decodes null, true or false
func (t *TriState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null":
		*t = Unset
	case "true":
		*t = True
	case "false":
		*t = False
	default:
		return errors.New("invalid tri-state value: " + string(data))
	}
	return nil
}

// Notification holds the banners shown to the user during a session
type Notification struct {
	MediaDenied    TriState `json:"mediaDenied"`
	RemoteLeft     TriState `json:"remoteLeft"`
	Waiting        TriState `json:"waiting"`
	OngoingMeeting TriState `json:"ongoingMeeting"`
}

// InitialNotification is the banner state of a freshly opened session
func InitialNotification() Notification {
	return Notification{Waiting: True}
}

// LeftNotification is the banner state after leaving a meeting
func LeftNotification() Notification {
	return Notification{MediaDenied: False, Waiting: True}
}

// SessionSnapshot is a point-in-time copy of a conference session's state
type SessionSnapshot struct {
	ID             string        `json:"id"`
	JoinCode       string        `json:"joinCode"`
	DisplayName    string        `json:"displayName"`
	MeetingDetails string        `json:"meetingDetails"`
	LocalCallID    string        `json:"localCallId"`
	RemoteCalls    []string      `json:"remoteCalls"`
	MuteAudio      bool          `json:"muteAudio"`
	MuteVideo      bool          `json:"muteVideo"`
	Status         SessionStatus `json:"status"`
	Joined         TriState      `json:"joined"`
	Notify         Notification  `json:"notify"`
	Location       string        `json:"location"`
	LastError      string        `json:"lastError,omitempty"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Clone returns a deep copy of the snapshot
func (s *SessionSnapshot) Clone() *SessionSnapshot {
	c := *s
	c.RemoteCalls = append([]string{}, s.RemoteCalls...)
	return &c
}

// SortSessions orders snapshots by last update, oldest first, then by id
func SortSessions(sessions []*SessionSnapshot) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.Before(sessions[j].UpdatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
