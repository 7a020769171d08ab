// Package session implements the lifecycle of a single conference session.
//
// A Session owns one goroutine, started with Run. Every state change happens on
// that goroutine: API calls, RTC events, completions of RTC calls and playback
// timers are all delivered to it as messages, so the state needs no locking.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/ident"
	"github.com/navikt/zconf/internal/models"
	"github.com/navikt/zconf/internal/rtc"
	"github.com/navikt/zconf/internal/utils"
)

const (
	// DefaultDisplayName is used when joining without a name
	DefaultDisplayName = "You"
	// LocalCallID is the render surface of the local preview
	LocalCallID = "agora_local"
	// ConferencePath is the location of the conference view without a code
	ConferencePath = "/conference"
)

var (
	ErrMissingJoinCode = errors.New("a join code is required")
	ErrAlreadyJoined   = errors.New("session is already joining or in a meeting")
	ErrNotJoined       = errors.New("session has no local stream")
	ErrClosed          = errors.New("session is closed")
)

// Config tunes session behaviour
type Config struct {
	// PlaybackDelay is the wait between a remote subscription and playing it
	PlaybackDelay time.Duration
	// RenewalToken is passed to the client when the channel key expires
	RenewalToken string
	// CallTimeout bounds Leave and RenewChannelKey calls
	CallTimeout time.Duration
	Client      rtc.ClientConfig
}

// DefaultConfig returns the standard session configuration
func DefaultConfig() Config {
	return Config{
		PlaybackDelay: 1100 * time.Millisecond,
		CallTimeout:   5 * time.Second,
		Client:        rtc.ClientConfig{Mode: "rtc", Codec: "h264"},
	}
}

// Route is what the conference view is opened with
type Route struct {
	// Code is the path parameter, possibly empty
	Code string
	// Details is the decoded details query parameter
	Details string
}

// JoinRequest carries the join form
type JoinRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Options are the collaborators of a Session
type Options struct {
	Config    Config
	NewClient rtc.ClientFactory
	IDs       ident.Generator
	Logger    *zap.Logger
	// OnChange receives a copy of the state after every change. It is called
	// on the session goroutine and must not call back into the session.
	OnChange func(*models.SessionSnapshot)
}

// Session is a conference session bound to one visitor
type Session struct {
	id        string
	cfg       Config
	newClient rtc.ClientFactory
	uid       int
	log       *zap.Logger
	onChange  func(*models.SessionSnapshot)

	cmds chan func()
	done chan struct{}

	// Everything below is owned by the Run goroutine.
	ctx           context.Context
	state         models.SessionSnapshot
	client        rtc.Client
	events        <-chan rtc.Event
	local         rtc.LocalStream
	attempt       int
	attemptCtx    context.Context
	cancelAttempt context.CancelFunc
	remotes       map[string]rtc.RemoteStream
	playbacks     map[string]*time.Timer
}

// New creates a session bound to route. Call Run to start it.
func New(id string, route Route, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := opts.IDs
	if ids == nil {
		ids = ident.NewRandomGenerator()
	}

	location := ConferencePath
	if route.Code != "" {
		location = ConferencePath + "/" + route.Code
	}

	return &Session{
		id:        id,
		cfg:       opts.Config,
		newClient: opts.NewClient,
		uid:       ids.Identity(),
		log:       logger.With(zap.String("session_id", id)),
		onChange:  opts.OnChange,
		cmds:      make(chan func()),
		done:      make(chan struct{}),
		state: models.SessionSnapshot{
			ID:             id,
			JoinCode:       route.Code,
			MeetingDetails: route.Details,
			LocalCallID:    LocalCallID,
			RemoteCalls:    []string{},
			Status:         models.SessionStatusIdle,
			Joined:         models.Unset,
			Notify:         models.InitialNotification(),
			Location:       location,
			UpdatedAt:      time.Now(),
		},
		remotes:   make(map[string]rtc.RemoteStream),
		playbacks: make(map[string]*time.Timer),
	}
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// UID returns the RTC identity used when joining
func (s *Session) UID() int { return s.uid }

// Done is closed once Run has returned and the session is torn down
func (s *Session) Done() <-chan struct{} { return s.done }

// Run processes commands and RTC events until ctx is cancelled. A joined
// session is left before Run returns.
func (s *Session) Run(ctx context.Context) {
	s.ctx = ctx
	defer close(s.done)
	defer s.teardown()

	s.changed()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				continue
			}
			s.handleEvent(ev)
		}
	}
}

// Join starts joining the meeting. It returns once the join has been started;
// capture, connect and publish continue in the background and their outcome
// shows up in the session state.
func (s *Session) Join(ctx context.Context, req JoinRequest) error {
	var err error
	if execErr := s.exec(ctx, func() { err = s.join(req) }); execErr != nil {
		return execErr
	}
	return err
}

// Leave leaves the meeting and resets the session to its initial form state
func (s *Session) Leave(ctx context.Context) error {
	return s.exec(ctx, func() {
		s.leave()
		s.changed()
	})
}

// ToggleAudio flips the audio mute flag and returns the new value
func (s *Session) ToggleAudio(ctx context.Context) (bool, error) {
	return s.toggle(ctx, &s.state.MuteAudio, func(l rtc.LocalStream) func() {
		if s.state.MuteAudio {
			return l.UnmuteAudio
		}
		return l.MuteAudio
	})
}

// ToggleVideo flips the video mute flag and returns the new value
func (s *Session) ToggleVideo(ctx context.Context) (bool, error) {
	return s.toggle(ctx, &s.state.MuteVideo, func(l rtc.LocalStream) func() {
		if s.state.MuteVideo {
			return l.UnmuteVideo
		}
		return l.MuteVideo
	})
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot(ctx context.Context) (*models.SessionSnapshot, error) {
	var snap *models.SessionSnapshot
	if err := s.exec(ctx, func() { snap = s.state.Clone() }); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Session) toggle(ctx context.Context, flag *bool, primitive func(rtc.LocalStream) func()) (bool, error) {
	var muted bool
	var err error
	execErr := s.exec(ctx, func() {
		if s.local == nil {
			err = ErrNotJoined
			return
		}
		primitive(s.local)()
		*flag = !*flag
		muted = *flag
		s.changed()
	})
	if execErr != nil {
		return false, execErr
	}
	return muted, err
}

// exec runs fn on the session goroutine and waits for it to finish
func (s *Session) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// An accepted command always runs to completion before the loop exits
	<-finished
	return nil
}

// post delivers fn to the session goroutine if the join attempt it belongs to
// is still current. It is used by helper goroutines and timers.
func (s *Session) post(attempt int, fn func()) {
	cmd := func() {
		if attempt != s.attempt {
			return
		}
		fn()
		s.changed()
	}

	select {
	case s.cmds <- cmd:
	case <-s.done:
	}
}

func (s *Session) changed() {
	s.state.UpdatedAt = time.Now()
	if s.onChange != nil {
		s.onChange(s.state.Clone())
	}
}

func (s *Session) join(req JoinRequest) error {
	if !s.state.Status.CanJoin() {
		return ErrAlreadyJoined
	}

	code := strings.TrimSpace(req.Code)
	if code == "" && s.state.JoinCode == "" {
		return ErrMissingJoinCode
	}
	if code != "" {
		s.state.JoinCode = code
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultDisplayName
	}
	s.state.DisplayName = name

	s.state.Joined = models.True
	s.state.Notify.OngoingMeeting = models.False
	s.state.Status = models.SessionStatusJoining
	s.state.LastError = ""

	s.log.Info("joining meeting",
		utils.SafeString("join_code", s.state.JoinCode),
		utils.SafeString("display_name", name),
		zap.Int("uid", s.uid))

	s.attempt++
	s.attemptCtx, s.cancelAttempt = context.WithCancel(s.ctx)

	client, err := s.newClient(s.cfg.Client)
	if err != nil {
		s.fail("create client", err)
		s.changed()
		return nil
	}

	local, err := client.CreateStream(rtc.StreamSpec{StreamID: s.uid, Audio: true, Video: true})
	if err != nil {
		s.client, s.events = client, client.Events()
		s.fail("create local stream", err)
		s.changed()
		return nil
	}

	s.client, s.events, s.local = client, client.Events(), local
	go s.connect(s.attemptCtx, s.attempt, client, local, s.state.JoinCode)

	s.changed()
	return nil
}

// connect runs capture, connect and publish strictly in sequence
func (s *Session) connect(ctx context.Context, attempt int, client rtc.Client, local rtc.LocalStream, room string) {
	if err := local.Init(ctx); err != nil {
		s.post(attempt, func() { s.captureFailed(err) })
		return
	}

	if err := local.Play(LocalCallID); err != nil {
		s.post(attempt, func() { s.log.Warn("failed to play local preview", zap.Error(err)) })
	}

	if err := client.Join(ctx, "", room, s.uid); err != nil {
		s.post(attempt, func() { s.fail("join room", err) })
		return
	}
	s.post(attempt, func() { s.log.Info("joined room", utils.SafeString("room", room)) })

	if err := client.Publish(ctx, local); err != nil {
		s.post(attempt, func() { s.fail("publish local stream", err) })
	}
}

func (s *Session) captureFailed(err error) {
	s.log.Error("getUserMedia failed", zap.Error(err))
	s.state.Notify.MediaDenied = models.True
	s.state.Notify.Waiting = models.True
	s.state.LastError = "capture: " + err.Error()
}

func (s *Session) fail(op string, err error) {
	s.log.Error("failed to "+op, zap.Error(err))
	s.state.Notify.Waiting = models.True
	s.state.LastError = fmt.Sprintf("%s: %v", op, err)
}

func (s *Session) handleEvent(ev rtc.Event) {
	switch e := ev.(type) {
	case rtc.MediaAccessAllowed:
		s.log.Debug("media access allowed")
		s.state.Notify.MediaDenied = models.False

	case rtc.MediaAccessDenied:
		s.log.Info("media access denied")
		s.state.Notify.MediaDenied = models.True

	case rtc.LocalStreamPublished:
		s.log.Info("local stream published")

	case rtc.PeerLeave:
		if e.Stream == nil {
			s.log.Debug("peer without stream left", zap.Int("uid", e.UID))
			return
		}
		e.Stream.Stop()
		s.dropRemote(RemoteCallID(e.Stream))
		s.remoteLeft()
		s.log.Info("peer left the channel", zap.Int("uid", e.UID))

	case rtc.TransportError:
		s.log.Warn("transport error", zap.String("reason", e.Reason))
		if e.Reason == rtc.ReasonDynamicKeyTimeout {
			s.renewChannelKey()
		}
		return

	case rtc.RemoteStreamAdded:
		if e.Stream != nil {
			s.subscribe(e.Stream)
		}
		return

	case rtc.RemoteStreamRemoved:
		if e.Stream == nil {
			return
		}
		e.Stream.Stop()
		for callID := range s.remotes {
			s.dropRemote(callID)
		}
		s.state.RemoteCalls = []string{}
		s.remoteLeft()
		s.log.Info("remote stream removed", zap.String("stream_id", e.Stream.ID()))

	case rtc.RemoteStreamSubscribed:
		if e.Stream == nil {
			return
		}
		s.remoteSubscribed(e.Stream)

	default:
		s.log.Debug("ignoring rtc event", zap.Stringer("kind", ev.Kind()))
		return
	}

	s.changed()
}

func (s *Session) subscribe(stream rtc.RemoteStream) {
	client, ctx, attempt := s.client, s.attemptCtx, s.attempt
	go func() {
		opts := rtc.SubscribeOptions{Audio: true, Video: true}
		if err := client.Subscribe(ctx, stream, opts); err != nil {
			s.post(attempt, func() {
				s.log.Warn("remote subscribe failed", zap.String("stream_id", stream.ID()), zap.Error(err))
				s.state.Notify.Waiting = models.True
			})
		}
	}()
}

func (s *Session) remoteSubscribed(stream rtc.RemoteStream) {
	callID := RemoteCallID(stream)

	if len(s.state.RemoteCalls) > 0 {
		// Only 1:1 calls are supported; someone else already holds this meeting
		s.log.Warn("another participant arrived, leaving", zap.String("call_id", callID))
		s.leave()
		s.state.Notify.OngoingMeeting = models.True
		s.state.Joined = models.Unset
		s.state.Status = models.SessionStatusOngoingElsewhere
		return
	}

	s.state.RemoteCalls = append(s.state.RemoteCalls, callID)
	s.remotes[callID] = stream
	s.schedulePlayback(callID, stream)

	s.state.Notify.RemoteLeft = models.False
	s.state.Notify.Waiting = models.False
	s.state.Status = models.SessionStatusActive
	s.log.Info("remote joined the channel", zap.String("call_id", callID))
}

func (s *Session) schedulePlayback(callID string, stream rtc.RemoteStream) {
	attempt := s.attempt
	s.playbacks[callID] = time.AfterFunc(s.cfg.PlaybackDelay, func() {
		s.post(attempt, func() {
			if _, tracked := s.remotes[callID]; !tracked {
				return
			}
			delete(s.playbacks, callID)
			if err := stream.Play(callID); err != nil {
				s.log.Warn("failed to play remote stream", zap.String("call_id", callID), zap.Error(err))
			}
		})
	})
}

func (s *Session) dropRemote(callID string) {
	if t, ok := s.playbacks[callID]; ok {
		t.Stop()
		delete(s.playbacks, callID)
	}
	delete(s.remotes, callID)

	kept := s.state.RemoteCalls[:0]
	for _, id := range s.state.RemoteCalls {
		if id != callID {
			kept = append(kept, id)
		}
	}
	s.state.RemoteCalls = kept
}

func (s *Session) remoteLeft() {
	s.state.Notify.RemoteLeft = models.True
	if len(s.state.RemoteCalls) == 0 && s.state.Status == models.SessionStatusActive {
		s.state.Status = models.SessionStatusJoining
	}
}

func (s *Session) renewChannelKey() {
	if s.client == nil {
		return
	}
	client, parent, attempt, token := s.client, s.attemptCtx, s.attempt, s.cfg.RenewalToken
	go func() {
		ctx, cancel := context.WithTimeout(parent, s.cfg.CallTimeout)
		defer cancel()
		err := client.RenewChannelKey(ctx, token)
		s.post(attempt, func() {
			if err != nil {
				s.log.Error("renew channel key failed", zap.Error(err))
				return
			}
			s.log.Info("renewed channel key")
		})
	}()
}

func (s *Session) leave() {
	// Completions of the current attempt are stale from here on
	s.attempt++
	if s.cancelAttempt != nil {
		s.cancelAttempt()
		s.cancelAttempt = nil
	}

	for callID := range s.remotes {
		s.dropRemote(callID)
	}
	for callID, t := range s.playbacks {
		t.Stop()
		delete(s.playbacks, callID)
	}

	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
		if err := s.client.Leave(ctx); err != nil {
			s.log.Warn("leave channel failed", zap.Error(err))
		} else {
			s.log.Info("left channel")
		}
		cancel()
	}
	if s.local != nil {
		s.local.Close()
	}
	s.client, s.events, s.local = nil, nil, nil

	s.state.RemoteCalls = []string{}
	s.state.DisplayName = ""
	s.state.JoinCode = ""
	s.state.MuteAudio = false
	s.state.MuteVideo = false
	s.state.Joined = models.False
	s.state.Notify = models.LeftNotification()
	s.state.Status = models.SessionStatusLeft
	s.state.Location = ConferencePath
}

func (s *Session) teardown() {
	if s.state.Joined == models.True {
		s.leave()
	}
	for callID, t := range s.playbacks {
		t.Stop()
		delete(s.playbacks, callID)
	}
	if s.cancelAttempt != nil {
		s.cancelAttempt()
	}
	s.changed()
	s.log.Debug("session torn down")
}

// RemoteCallID names the render surface of a remote stream
func RemoteCallID(stream rtc.RemoteStream) string {
	return "id: " + stream.ID()
}
