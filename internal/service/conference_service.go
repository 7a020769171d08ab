package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/appointment"
	"github.com/navikt/zconf/internal/ident"
	"github.com/navikt/zconf/internal/models"
	"github.com/navikt/zconf/internal/repository"
	"github.com/navikt/zconf/internal/rtc"
	"github.com/navikt/zconf/internal/session"
	"github.com/navikt/zconf/internal/utils"
)

// ErrShuttingDown is returned by Open once Shutdown has been called
var ErrShuttingDown = errors.New("conference service is shutting down")

const persistTimeout = 2 * time.Second

// SessionUpdateCallback is called with every new snapshot of a session
type SessionUpdateCallback func(*models.SessionSnapshot)

// SessionCloseCallback is called with the id of a session once it is closed
type SessionCloseCallback func(id string)

// Recorder receives session metrics
type Recorder interface {
	RecordSessionOpened()
	RecordSessionClosed(status models.SessionStatus)
	RecordTransition(from, to *models.SessionSnapshot)
}

// RouteParams is what the conference view is opened with
type RouteParams struct {
	// Code is the path code, possibly empty
	Code string
	// Details is the raw base64 details query value
	Details string
}

// Options are the collaborators of a ConferenceService
type Options struct {
	Session   session.Config
	NewClient rtc.ClientFactory
	IDs       ident.Generator
	Logger    *zap.Logger
	Metrics   Recorder
	// Now is the clock idle sessions are measured against, time.Now when nil
	Now func() time.Time
}

type liveSession struct {
	sess   *session.Session
	cancel context.CancelFunc
	// last is only touched on the session goroutine until Done is closed
	last *models.SessionSnapshot
}

// ConferenceService owns the running conference sessions, persists their
// snapshots and tells listeners about changes
type ConferenceService struct {
	repo      repository.Repository
	cfg       session.Config
	newClient rtc.ClientFactory
	ids       ident.Generator
	log       *zap.Logger
	metrics   Recorder
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.RWMutex
	sessions        map[string]*liveSession
	closing         bool
	updateCallbacks []SessionUpdateCallback
	closeCallbacks  []SessionCloseCallback
}

// NewConferenceService creates a service storing snapshots in repo
func NewConferenceService(repo repository.Repository, opts Options) *ConferenceService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := opts.IDs
	if ids == nil {
		ids = ident.NewRandomGenerator()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConferenceService{
		repo:      repo,
		cfg:       opts.Session,
		newClient: opts.NewClient,
		ids:       ids,
		log:       logger,
		metrics:   opts.Metrics,
		now:       now,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*liveSession),
	}
}

// RegisterUpdateCallback registers a callback function to be called when session data changes
func (s *ConferenceService) RegisterUpdateCallback(callback SessionUpdateCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCallbacks = append(s.updateCallbacks, callback)
}

// RegisterCloseCallback registers a callback function to be called when a session is closed
func (s *ConferenceService) RegisterCloseCallback(callback SessionCloseCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCallbacks = append(s.closeCallbacks, callback)
}

// Open starts a session bound to the route code and the decoded details
func (s *ConferenceService) Open(ctx context.Context, params RouteParams) (*models.SessionSnapshot, error) {
	id := uuid.NewString()
	route := session.Route{
		Code:    params.Code,
		Details: appointment.DecodeDetails(params.Details),
	}

	live := &liveSession{}
	live.sess = session.New(id, route, session.Options{
		Config:    s.cfg,
		NewClient: s.newClient,
		IDs:       s.ids,
		Logger:    s.log,
		OnChange:  func(snap *models.SessionSnapshot) { s.sessionChanged(live, snap) },
	})

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	var sessCtx context.Context
	sessCtx, live.cancel = context.WithCancel(s.ctx)
	s.sessions[id] = live
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSessionOpened()
	}
	go live.sess.Run(sessCtx)

	s.log.Info("opened conference session",
		zap.String("session_id", id),
		utils.SafeString("join_code", params.Code))

	return live.sess.Snapshot(ctx)
}

// sessionChanged runs on the session goroutine
func (s *ConferenceService) sessionChanged(live *liveSession, snap *models.SessionSnapshot) {
	if s.metrics != nil && live.last != nil {
		s.metrics.RecordTransition(live.last, snap)
	}
	live.last = snap

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.repo.SaveSession(ctx, snap); err != nil {
		s.log.Error("failed to persist session", zap.String("session_id", snap.ID), zap.Error(err))
	}

	s.mu.RLock()
	callbacks := s.updateCallbacks
	s.mu.RUnlock()
	for _, callback := range callbacks {
		callback(snap)
	}
}

func (s *ConferenceService) lookup(id string) (*liveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, ok := s.sessions[id]
	return live, ok
}

// live returns the running session or an error telling why there is none
func (s *ConferenceService) live(ctx context.Context, id string) (*liveSession, error) {
	if live, ok := s.lookup(id); ok {
		return live, nil
	}
	if _, err := s.repo.GetSession(ctx, id); err == nil {
		return nil, session.ErrClosed
	}
	return nil, models.ErrNotFound
}

// Get returns the current snapshot of a running session, or the last stored
// snapshot of one that is no longer running
func (s *ConferenceService) Get(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	if live, ok := s.lookup(id); ok {
		snap, err := live.sess.Snapshot(ctx)
		if !errors.Is(err, session.ErrClosed) {
			return snap, err
		}
	}
	return s.repo.GetSession(ctx, id)
}

// List returns stored sessions. Left sessions are only included when includeLeft is set.
func (s *ConferenceService) List(ctx context.Context, includeLeft bool) ([]*models.SessionSnapshot, error) {
	if includeLeft {
		return s.repo.ListAllSessions(ctx)
	}
	return s.repo.ListSessions(ctx)
}

// Join starts joining the meeting and returns the resulting snapshot
func (s *ConferenceService) Join(ctx context.Context, id string, req session.JoinRequest) (*models.SessionSnapshot, error) {
	live, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := live.sess.Join(ctx, req); err != nil {
		return nil, err
	}
	return live.sess.Snapshot(ctx)
}

// Leave leaves the meeting and returns the reset snapshot
func (s *ConferenceService) Leave(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	live, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := live.sess.Leave(ctx); err != nil {
		return nil, err
	}
	return live.sess.Snapshot(ctx)
}

// ToggleAudio flips the audio mute flag of a session
func (s *ConferenceService) ToggleAudio(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	return s.toggle(ctx, id, (*session.Session).ToggleAudio)
}

// ToggleVideo flips the video mute flag of a session
func (s *ConferenceService) ToggleVideo(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	return s.toggle(ctx, id, (*session.Session).ToggleVideo)
}

func (s *ConferenceService) toggle(ctx context.Context, id string, fn func(*session.Session, context.Context) (bool, error)) (*models.SessionSnapshot, error) {
	live, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := fn(live.sess, ctx); err != nil {
		return nil, err
	}
	return live.sess.Snapshot(ctx)
}

// Close tears a session down, leaving the meeting if it is joined, and
// removes its stored snapshot. A session is closed at most once.
func (s *ConferenceService) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	live, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		if err := s.repo.DeleteSession(ctx, id); err != nil {
			return err
		}
		s.notifyClosed(id)
		return nil
	}

	if err := s.stop(ctx, live); err != nil {
		return err
	}
	if err := s.repo.DeleteSession(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.notifyClosed(id)

	s.log.Info("closed conference session", zap.String("session_id", id))
	return nil
}

// Shutdown closes every running session. Their final snapshots stay stored.
func (s *ConferenceService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	sessions := make([]*liveSession, 0, len(s.sessions))
	for id, live := range s.sessions {
		sessions = append(sessions, live)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	s.cancel()

	var errs []error
	for _, live := range sessions {
		if err := s.stop(ctx, live); err != nil {
			errs = append(errs, err)
			continue
		}
		s.notifyClosed(live.sess.ID())
	}

	s.log.Info("conference service stopped", zap.Int("sessions", len(sessions)))
	return errors.Join(errs...)
}

// CloseIdle closes running sessions that have been Idle or Left for longer
// than maxIdle and returns how many were closed
func (s *ConferenceService) CloseIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	s.mu.RLock()
	candidates := make([]*liveSession, 0, len(s.sessions))
	for _, live := range s.sessions {
		candidates = append(candidates, live)
	}
	s.mu.RUnlock()

	cutoff := s.now().Add(-maxIdle)
	closed := 0
	var errs []error
	for _, live := range candidates {
		snap, err := live.sess.Snapshot(ctx)
		if err != nil {
			if !errors.Is(err, session.ErrClosed) {
				errs = append(errs, err)
			}
			continue
		}
		if snap.Status != models.SessionStatusIdle && snap.Status != models.SessionStatusLeft {
			continue
		}
		if snap.UpdatedAt.After(cutoff) {
			continue
		}

		if err := s.Close(ctx, snap.ID); err != nil {
			errs = append(errs, fmt.Errorf("closing idle session %s: %w", snap.ID, err))
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

// RunIdleReaper closes idle sessions every interval until ctx is done or the
// service shuts down
func (s *ConferenceService) RunIdleReaper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.CloseIdle(ctx, maxIdle)
			if err != nil {
				s.log.Warn("failed to close idle sessions", zap.Error(err))
			}
			if n > 0 {
				s.log.Info("closed idle sessions", zap.Int("sessions", n))
			}
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// Count returns the number of running sessions
func (s *ConferenceService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *ConferenceService) stop(ctx context.Context, live *liveSession) error {
	live.cancel()
	select {
	case <-live.sess.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for session %s to stop: %w", live.sess.ID(), ctx.Err())
	}

	if s.metrics != nil {
		status := models.SessionStatusIdle
		if live.last != nil {
			status = live.last.Status
		}
		s.metrics.RecordSessionClosed(status)
	}
	return nil
}

func (s *ConferenceService) notifyClosed(id string) {
	s.mu.RLock()
	callbacks := s.closeCallbacks
	s.mu.RUnlock()
	for _, callback := range callbacks {
		callback(id)
	}
}
