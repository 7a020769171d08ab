// Package loopback is an in-process rtc implementation. Clients created by the
// same Hub meet in named rooms and see each other's published streams, which
// makes the conference flow runnable without a media backend.
package loopback

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/rtc"
)

var ErrAlreadyInRoom = errors.New("client has already joined a room")

const eventBuffer = 64

// Option configures a Hub
type Option func(*Hub)

// WithDeniedMedia makes every capture request fail as if permission was refused
func WithDeniedMedia() Option {
	return func(h *Hub) { h.denyMedia = true }
}

// WithKeyTTL expires channel keys after ttl, reported as a DYNAMIC_KEY_TIMEOUT
// transport error. RenewChannelKey starts a new period.
func WithKeyTTL(ttl time.Duration) Option {
	return func(h *Hub) { h.keyTTL = ttl }
}

// Hub connects loopback clients
type Hub struct {
	log       *zap.Logger
	denyMedia bool
	keyTTL    time.Duration

	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
	// streams numbers the clients so stream ids stay unique when identities collide
	streams int
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		log:   logger.Named("loopback"),
		rooms: make(map[string]map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Factory returns a client factory bound to this hub
func (h *Hub) Factory() rtc.ClientFactory {
	return func(cfg rtc.ClientConfig) (rtc.Client, error) {
		h.mu.Lock()
		h.streams++
		streamID := strconv.Itoa(h.streams)
		h.mu.Unlock()

		h.log.Debug("creating client",
			zap.String("mode", cfg.Mode), zap.String("codec", cfg.Codec), zap.String("stream_id", streamID))
		return &client{
			hub:      h,
			cfg:      cfg,
			streamID: streamID,
			events:   make(chan rtc.Event, eventBuffer),
		}, nil
	}
}

// Participants returns the number of clients joined to room
func (h *Hub) Participants(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Rooms returns the number of rooms with at least one participant
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// client state is guarded by hub.mu
type client struct {
	hub      *Hub
	cfg      rtc.ClientConfig
	streamID string
	events   chan rtc.Event

	room      string
	uid       int
	joined    bool
	published bool
	keyTimer  *time.Timer
}

// emit never blocks; an event for a client that stopped reading is dropped
func (c *client) emit(ev rtc.Event) {
	select {
	case c.events <- ev:
	default:
		c.hub.log.Warn("dropping event for slow client",
			zap.Int("uid", c.uid), zap.Stringer("kind", ev.Kind()))
	}
}

func (c *client) stream() *remoteStream {
	return &remoteStream{id: c.streamID}
}

func (c *client) CreateStream(spec rtc.StreamSpec) (rtc.LocalStream, error) {
	return &localStream{client: c, spec: spec}, nil
}

func (c *client) Join(ctx context.Context, channelKey, room string, uid int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.joined {
		return ErrAlreadyInRoom
	}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}

	// The newcomer learns about streams that are already up
	for other := range members {
		if other.published {
			c.emit(rtc.RemoteStreamAdded{Stream: other.stream()})
		}
	}

	members[c] = struct{}{}
	c.room, c.uid, c.joined = room, uid, true
	c.armKeyTimer()

	h.log.Info("client joined room", zap.String("room", room), zap.Int("uid", uid), zap.Int("participants", len(members)))
	return nil
}

func (c *client) Publish(ctx context.Context, stream rtc.LocalStream) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.joined {
		return rtc.ErrNotInRoom
	}
	if c.published {
		return nil
	}
	c.published = true

	c.emit(rtc.LocalStreamPublished{Stream: stream})
	for other := range h.rooms[c.room] {
		if other != c {
			other.emit(rtc.RemoteStreamAdded{Stream: c.stream()})
		}
	}
	return nil
}

func (c *client) Subscribe(ctx context.Context, stream rtc.RemoteStream, opts rtc.SubscribeOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.joined {
		return rtc.ErrNotInRoom
	}

	for other := range h.rooms[c.room] {
		if other != c && other.published && other.streamID == stream.ID() {
			c.emit(rtc.RemoteStreamSubscribed{Stream: stream})
			return nil
		}
	}
	return rtc.ErrStreamGone
}

func (c *client) Leave(ctx context.Context) error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.joined {
		return rtc.ErrNotInRoom
	}

	members := h.rooms[c.room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}

	for other := range members {
		ev := rtc.PeerLeave{UID: c.uid}
		if c.published {
			ev.Stream = c.stream()
		}
		other.emit(ev)
	}

	if c.keyTimer != nil {
		c.keyTimer.Stop()
		c.keyTimer = nil
	}
	h.log.Info("client left room", zap.String("room", c.room), zap.Int("uid", c.uid))
	c.joined, c.published = false, false
	return nil
}

func (c *client) RenewChannelKey(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.joined {
		return rtc.ErrNotInRoom
	}
	c.armKeyTimer()
	return nil
}

func (c *client) Events() <-chan rtc.Event {
	return c.events
}

// armKeyTimer must be called with hub.mu held
func (c *client) armKeyTimer() {
	if c.hub.keyTTL <= 0 {
		return
	}
	if c.keyTimer != nil {
		c.keyTimer.Stop()
	}
	c.keyTimer = time.AfterFunc(c.hub.keyTTL, func() {
		c.hub.mu.Lock()
		defer c.hub.mu.Unlock()
		if c.joined {
			c.emit(rtc.TransportError{Reason: rtc.ReasonDynamicKeyTimeout})
		}
	})
}

// unpublish withdraws the client's stream while it stays in the room
func (c *client) unpublish() {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.joined || !c.published {
		return
	}
	c.published = false
	for other := range h.rooms[c.room] {
		if other != c {
			other.emit(rtc.RemoteStreamRemoved{Stream: c.stream()})
		}
	}
}

type localStream struct {
	client *client
	spec   rtc.StreamSpec

	mu      sync.Mutex
	surface string
	audio   bool
	video   bool
}

func (s *localStream) ID() string { return strconv.Itoa(s.spec.StreamID) }

func (s *localStream) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.client.hub.denyMedia {
		s.client.emit(rtc.MediaAccessDenied{})
		return rtc.ErrMediaAccessDenied
	}
	s.client.emit(rtc.MediaAccessAllowed{})
	return nil
}

func (s *localStream) Play(elementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surface = elementID
	return nil
}

func (s *localStream) Close() {
	s.client.unpublish()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surface = ""
}

func (s *localStream) MuteAudio()   { s.setMuted(&s.audio, true) }
func (s *localStream) UnmuteAudio() { s.setMuted(&s.audio, false) }
func (s *localStream) MuteVideo()   { s.setMuted(&s.video, true) }
func (s *localStream) UnmuteVideo() { s.setMuted(&s.video, false) }

func (s *localStream) setMuted(flag *bool, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*flag = v
}

type remoteStream struct {
	id string

	mu      sync.Mutex
	surface string
}

func (r *remoteStream) ID() string { return r.id }

func (r *remoteStream) Play(elementID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surface = elementID
	return nil
}

func (r *remoteStream) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surface = ""
}
