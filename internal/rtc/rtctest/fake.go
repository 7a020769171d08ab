// Package rtctest provides a scripted rtc.Client for tests
package rtctest

import (
	"context"
	"strconv"
	"sync"

	"github.com/navikt/zconf/internal/rtc"
)

// Client is an rtc.Client that records calls and fails on demand.
// Set the *Err fields before handing the client to the code under test.
type Client struct {
	InitErr      error
	CreateErr    error
	JoinErr      error
	PublishErr   error
	SubscribeErr error
	LeaveErr     error
	RenewErr     error
	// InitGate, when set, holds LocalStream.Init until it is closed or the context ends
	InitGate chan struct{}

	mu          sync.Mutex
	events      chan rtc.Event
	calls       []string
	config      rtc.ClientConfig
	room        string
	uid         int
	renewTokens []string
	subscribed  []rtc.SubscribeOptions
	stream      *LocalStream
}

// NewClient creates a fake client with a buffered event channel
func NewClient() *Client {
	return &Client{events: make(chan rtc.Event, 64)}
}

// Factory returns a factory handing out this client
func (c *Client) Factory() rtc.ClientFactory {
	return func(cfg rtc.ClientConfig) (rtc.Client, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.config = cfg
		c.calls = append(c.calls, "create-client")
		return c, nil
	}
}

// Emit delivers an event to the session as the SDK would
func (c *Client) Emit(ev rtc.Event) {
	c.events <- ev
}

func (c *Client) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

// Calls returns the recorded call names in order
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.calls...)
}

// CallCount returns how often the named call was made
func (c *Client) CallCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call == name {
			n++
		}
	}
	return n
}

// Config returns the configuration the client was created with
func (c *Client) Config() rtc.ClientConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Room returns the room and identity of the last Join call
func (c *Client) Room() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.uid
}

// RenewTokens returns the tokens passed to RenewChannelKey
func (c *Client) RenewTokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.renewTokens...)
}

// SubscribeOptions returns the options of every Subscribe call
func (c *Client) SubscribeOptions() []rtc.SubscribeOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]rtc.SubscribeOptions{}, c.subscribed...)
}

// Stream returns the last local stream created, or nil
func (c *Client) Stream() *LocalStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Client) CreateStream(spec rtc.StreamSpec) (rtc.LocalStream, error) {
	c.record("create-stream")
	if c.CreateErr != nil {
		return nil, c.CreateErr
	}

	s := &LocalStream{client: c, spec: spec}
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
	return s, nil
}

func (c *Client) Join(ctx context.Context, channelKey, room string, uid int) error {
	c.mu.Lock()
	c.calls = append(c.calls, "join")
	c.room = room
	c.uid = uid
	c.mu.Unlock()
	return c.JoinErr
}

func (c *Client) Publish(ctx context.Context, stream rtc.LocalStream) error {
	c.record("publish")
	return c.PublishErr
}

func (c *Client) Subscribe(ctx context.Context, stream rtc.RemoteStream, opts rtc.SubscribeOptions) error {
	c.mu.Lock()
	c.calls = append(c.calls, "subscribe")
	c.subscribed = append(c.subscribed, opts)
	c.mu.Unlock()
	return c.SubscribeErr
}

func (c *Client) Leave(ctx context.Context) error {
	c.record("leave")
	return c.LeaveErr
}

func (c *Client) RenewChannelKey(ctx context.Context, token string) error {
	c.mu.Lock()
	c.calls = append(c.calls, "renew")
	c.renewTokens = append(c.renewTokens, token)
	c.mu.Unlock()
	return c.RenewErr
}

func (c *Client) Events() <-chan rtc.Event {
	return c.events
}

// LocalStream is the fake capture stream created by Client
type LocalStream struct {
	client *Client
	spec   rtc.StreamSpec

	mu          sync.Mutex
	playedOn    string
	closed      bool
	audioMuted  bool
	videoMuted  bool
	muteHistory []string
}

func (s *LocalStream) ID() string { return strconv.Itoa(s.spec.StreamID) }

// Spec returns the spec the stream was created with
func (s *LocalStream) Spec() rtc.StreamSpec { return s.spec }

func (s *LocalStream) Init(ctx context.Context) error {
	s.client.record("init")
	if s.client.InitGate != nil {
		select {
		case <-s.client.InitGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.client.InitErr
}

func (s *LocalStream) Play(elementID string) error {
	s.client.record("play-local")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playedOn = elementID
	return nil
}

func (s *LocalStream) Close() {
	s.client.record("close-stream")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *LocalStream) MuteAudio()   { s.mute("mute-audio", &s.audioMuted, true) }
func (s *LocalStream) UnmuteAudio() { s.mute("unmute-audio", &s.audioMuted, false) }
func (s *LocalStream) MuteVideo()   { s.mute("mute-video", &s.videoMuted, true) }
func (s *LocalStream) UnmuteVideo() { s.mute("unmute-video", &s.videoMuted, false) }

func (s *LocalStream) mute(name string, flag *bool, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*flag = value
	s.muteHistory = append(s.muteHistory, name)
}

// PlayedOn returns the surface the stream was played on
func (s *LocalStream) PlayedOn() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playedOn
}

// Closed reports whether Close was called
func (s *LocalStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Muted returns the audio and video mute state
func (s *LocalStream) Muted() (audio, video bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioMuted, s.videoMuted
}

// MuteHistory returns the mute primitives invoked, in order
func (s *LocalStream) MuteHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.muteHistory...)
}

// RemoteStream is a fake remote participant stream
type RemoteStream struct {
	id string

	mu       sync.Mutex
	playedOn string
	stopped  bool
}

// NewRemoteStream creates a remote stream with the given id
func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (r *RemoteStream) ID() string { return r.id }

func (r *RemoteStream) Play(elementID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playedOn = elementID
	return nil
}

func (r *RemoteStream) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

// PlayedOn returns the surface the stream was played on, or ""
func (r *RemoteStream) PlayedOn() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playedOn
}

// Stopped reports whether Stop was called
func (r *RemoteStream) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}
