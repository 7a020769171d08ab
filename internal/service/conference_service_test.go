package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/navikt/zconf/internal/appointment"
	"github.com/navikt/zconf/internal/config"
	"github.com/navikt/zconf/internal/ident"
	"github.com/navikt/zconf/internal/models"
	"github.com/navikt/zconf/internal/repository"
	"github.com/navikt/zconf/internal/repository/memory"
	"github.com/navikt/zconf/internal/rtc"
	"github.com/navikt/zconf/internal/rtc/loopback"
	"github.com/navikt/zconf/internal/rtc/rtctest"
	"github.com/navikt/zconf/internal/service"
	"github.com/navikt/zconf/internal/session"
)

// MockRecorder is a mock for the metrics recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordSessionOpened() {
	m.Called()
}

func (m *MockRecorder) RecordSessionClosed(status models.SessionStatus) {
	m.Called(status)
}

func (m *MockRecorder) RecordTransition(from, to *models.SessionSnapshot) {
	m.Called(from, to)
}

func sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.PlaybackDelay = 10 * time.Millisecond
	cfg.CallTimeout = time.Second
	return cfg
}

func newService(t *testing.T, repo repository.Repository, factory rtc.ClientFactory, recorder service.Recorder) *service.ConferenceService {
	t.Helper()
	svc := service.NewConferenceService(repo, service.Options{
		Session:   sessionConfig(),
		NewClient: factory,
		IDs:       ident.Fixed{Code: 12345, UID: 42},
		Logger:    zaptest.NewLogger(t),
		Metrics:   recorder,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, svc.Shutdown(ctx))
	})
	return svc
}

func waitForStatus(t *testing.T, svc *service.ConferenceService, id string, status models.SessionStatus) *models.SessionSnapshot {
	t.Helper()
	var snap *models.SessionSnapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = svc.Get(context.Background(), id)
		return err == nil && snap.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestOpenBindsRoute(t *testing.T) {
	repo := memory.NewRepository()
	svc := newService(t, repo, rtctest.NewClient().Factory(), nil)
	ctx := context.Background()

	details := appointment.EncodeDetails(models.Appointment{Title: "Standup", Creator: "Alice"}.Details())
	snap, err := svc.Open(ctx, service.RouteParams{Code: "12345", Details: details})
	require.NoError(t, err)

	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "12345", snap.JoinCode)
	assert.Equal(t, "Standup - Alice", snap.MeetingDetails)
	assert.Equal(t, "/conference/12345", snap.Location)
	assert.Equal(t, models.SessionStatusIdle, snap.Status)
	assert.Equal(t, 1, svc.Count())

	stored, err := repo.GetSession(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, stored.ID)
	assert.Equal(t, "Standup - Alice", stored.MeetingDetails)
}

func TestOpenWithInvalidDetails(t *testing.T) {
	svc := newService(t, memory.NewRepository(), rtctest.NewClient().Factory(), nil)

	snap, err := svc.Open(context.Background(), service.RouteParams{Details: "%%%not-base64"})
	require.NoError(t, err)
	assert.Equal(t, "", snap.MeetingDetails)
	assert.Equal(t, "", snap.JoinCode)
	assert.Equal(t, "/conference", snap.Location)
}

func TestJoinLeaveAndToggles(t *testing.T) {
	client := rtctest.NewClient()
	repo := memory.NewRepository()
	svc := newService(t, repo, client.Factory(), nil)
	ctx := context.Background()

	opened, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)
	id := opened.ID

	_, err = svc.ToggleAudio(ctx, id)
	assert.ErrorIs(t, err, session.ErrNotJoined)

	joined, err := svc.Join(ctx, id, session.JoinRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusJoining, joined.Status)
	assert.Equal(t, "You", joined.DisplayName)

	_, err = svc.Join(ctx, id, session.JoinRequest{})
	assert.ErrorIs(t, err, session.ErrAlreadyJoined)

	require.Eventually(t, func() bool { return client.CallCount("publish") == 1 }, time.Second, 5*time.Millisecond)

	muted, err := svc.ToggleAudio(ctx, id)
	require.NoError(t, err)
	assert.True(t, muted.MuteAudio)

	muted, err = svc.ToggleVideo(ctx, id)
	require.NoError(t, err)
	assert.True(t, muted.MuteVideo)

	left, err := svc.Leave(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusLeft, left.Status)
	assert.Equal(t, models.LeftNotification(), left.Notify)

	stored, err := repo.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusLeft, stored.Status)

	active, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUnknownSession(t *testing.T) {
	svc := newService(t, memory.NewRepository(), rtctest.NewClient().Factory(), nil)
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.Join(ctx, "missing", session.JoinRequest{Code: "1"})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.Leave(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, svc.Close(ctx, "missing"), models.ErrNotFound)
}

func TestCloseLeavesJoinedSession(t *testing.T) {
	client := rtctest.NewClient()
	repo := memory.NewRepository()
	svc := newService(t, repo, client.Factory(), nil)
	ctx := context.Background()

	var mu sync.Mutex
	var closed []string
	svc.RegisterCloseCallback(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		closed = append(closed, id)
	})

	opened, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)
	_, err = svc.Join(ctx, opened.ID, session.JoinRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.CallCount("publish") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Close(ctx, opened.ID))
	assert.Equal(t, 1, client.CallCount("leave"))
	assert.Equal(t, 0, svc.Count())

	_, err = repo.GetSession(ctx, opened.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Closing twice does not tear down again
	assert.ErrorIs(t, svc.Close(ctx, opened.ID), models.ErrNotFound)
	assert.Equal(t, 1, client.CallCount("leave"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{opened.ID}, closed)
}

// skewedClock runs ahead of the wall clock by a settable amount
type skewedClock struct {
	ahead atomic.Int64
}

func (c *skewedClock) now() time.Time {
	return time.Now().Add(time.Duration(c.ahead.Load()))
}

func (c *skewedClock) advance(d time.Duration) {
	c.ahead.Add(int64(d))
}

func TestCloseIdleSessions(t *testing.T) {
	client := rtctest.NewClient()
	repo := memory.NewRepository()
	clock := &skewedClock{}
	svc := service.NewConferenceService(repo, service.Options{
		Session:   sessionConfig(),
		NewClient: client.Factory(),
		IDs:       ident.Fixed{Code: 12345, UID: 42},
		Logger:    zaptest.NewLogger(t),
		Now:       clock.now,
	})
	t.Cleanup(func() {
		assert.NoError(t, svc.Shutdown(context.Background()))
	})
	ctx := context.Background()

	var mu sync.Mutex
	var closed []string
	svc.RegisterCloseCallback(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		closed = append(closed, id)
	})

	idle, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)

	joined, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)
	_, err = svc.Join(ctx, joined.ID, session.JoinRequest{})
	require.NoError(t, err)

	left, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)
	_, err = svc.Join(ctx, left.ID, session.JoinRequest{})
	require.NoError(t, err)
	_, err = svc.Leave(ctx, left.ID)
	require.NoError(t, err)

	n, err := svc.CloseIdle(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "recent sessions are kept")
	assert.Equal(t, 3, svc.Count())

	clock.advance(time.Hour)
	n, err = svc.CloseIdle(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, svc.Count())

	_, err = repo.GetSession(ctx, idle.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = repo.GetSession(ctx, left.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	snap, err := svc.Get(ctx, joined.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusJoining, snap.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{idle.ID, left.ID}, closed)
}

func TestIdleReaper(t *testing.T) {
	clock := &skewedClock{}
	svc := service.NewConferenceService(memory.NewRepository(), service.Options{
		Session:   sessionConfig(),
		NewClient: rtctest.NewClient().Factory(),
		Logger:    zaptest.NewLogger(t),
		Now:       clock.now,
	})
	t.Cleanup(func() {
		assert.NoError(t, svc.Shutdown(context.Background()))
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		svc.RunIdleReaper(ctx, 5*time.Millisecond, time.Minute)
	}()

	_, err := svc.Open(ctx, service.RouteParams{})
	require.NoError(t, err)

	// Give the reaper a few sweeps that must leave the fresh session alone
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, svc.Count())

	clock.advance(time.Hour)
	require.Eventually(t, func() bool { return svc.Count() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestShutdownKeepsFinalSnapshots(t *testing.T) {
	client := rtctest.NewClient()
	repo := memory.NewRepository()
	svc := service.NewConferenceService(repo, service.Options{
		Session:   sessionConfig(),
		NewClient: client.Factory(),
		Logger:    zaptest.NewLogger(t),
	})
	ctx := context.Background()

	opened, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)
	_, err = svc.Join(ctx, opened.ID, session.JoinRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.CallCount("publish") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Shutdown(ctx))
	assert.Equal(t, 1, client.CallCount("leave"))

	stored, err := repo.GetSession(ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusLeft, stored.Status)

	// The stored snapshot outlives the loop
	snap, err := svc.Get(ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusLeft, snap.Status)

	_, err = svc.Join(ctx, opened.ID, session.JoinRequest{})
	assert.ErrorIs(t, err, session.ErrClosed)

	_, err = svc.Open(ctx, service.RouteParams{})
	assert.ErrorIs(t, err, service.ErrShuttingDown)
}

func TestUpdateCallbacks(t *testing.T) {
	client := rtctest.NewClient()
	svc := newService(t, memory.NewRepository(), client.Factory(), nil)
	ctx := context.Background()

	var mu sync.Mutex
	var statuses []models.SessionStatus
	svc.RegisterUpdateCallback(func(snap *models.SessionSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, snap.Status)
	})

	opened, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)
	_, err = svc.Join(ctx, opened.ID, session.JoinRequest{})
	require.NoError(t, err)
	_, err = svc.Leave(ctx, opened.ID)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, statuses)
	assert.Equal(t, models.SessionStatusIdle, statuses[0])
	assert.Contains(t, statuses, models.SessionStatusJoining)
	assert.Equal(t, models.SessionStatusLeft, statuses[len(statuses)-1])
}

func TestMetricsRecorded(t *testing.T) {
	client := rtctest.NewClient()
	recorder := new(MockRecorder)
	recorder.On("RecordSessionOpened").Return().Once()
	recorder.On("RecordTransition", mock.Anything, mock.Anything).Return()
	recorder.On("RecordSessionClosed", models.SessionStatusLeft).Return().Once()

	svc := newService(t, memory.NewRepository(), client.Factory(), recorder)
	ctx := context.Background()

	opened, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)
	_, err = svc.Join(ctx, opened.ID, session.JoinRequest{})
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, opened.ID))

	recorder.AssertExpectations(t)
	recorder.AssertCalled(t, "RecordTransition",
		mock.MatchedBy(func(s *models.SessionSnapshot) bool { return s.Status == models.SessionStatusIdle }),
		mock.MatchedBy(func(s *models.SessionSnapshot) bool { return s.Status == models.SessionStatusJoining }))
}

func TestRedisBackedService(t *testing.T) {
	mr := miniredis.RunT(t)
	repo, err := repository.NewRepository(config.RedisConfig{
		Enabled:    true,
		Host:       mr.Host(),
		Port:       mr.Port(),
		KeyPrefix:  "zconf:",
		SessionTTL: time.Hour,
	})
	require.NoError(t, err)

	svc := newService(t, repo, rtctest.NewClient().Factory(), nil)
	ctx := context.Background()

	opened, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("zconf:sessions:"+opened.ID))

	sessions, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, opened.ID, sessions[0].ID)

	require.NoError(t, svc.Close(ctx, opened.ID))
	assert.False(t, mr.Exists("zconf:sessions:"+opened.ID))
}

func TestTwoVisitorsMeetOverLoopback(t *testing.T) {
	hub := loopback.NewHub(zaptest.NewLogger(t))
	svc := service.NewConferenceService(memory.NewRepository(), service.Options{
		Session:   sessionConfig(),
		NewClient: hub.Factory(),
		IDs:       ident.NewSeededGenerator(1),
		Logger:    zaptest.NewLogger(t),
	})
	t.Cleanup(func() { assert.NoError(t, svc.Shutdown(context.Background())) })
	ctx := context.Background()

	alice, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)
	bob, err := svc.Open(ctx, service.RouteParams{Code: "12345"})
	require.NoError(t, err)

	_, err = svc.Join(ctx, alice.ID, session.JoinRequest{Name: "Alice"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Participants("12345") == 1 }, time.Second, 5*time.Millisecond)

	_, err = svc.Join(ctx, bob.ID, session.JoinRequest{Name: "Bob"})
	require.NoError(t, err)

	aliceSnap := waitForStatus(t, svc, alice.ID, models.SessionStatusActive)
	bobSnap := waitForStatus(t, svc, bob.ID, models.SessionStatusActive)
	assert.Len(t, aliceSnap.RemoteCalls, 1)
	assert.Len(t, bobSnap.RemoteCalls, 1)
	assert.Equal(t, models.False, aliceSnap.Notify.Waiting)
	assert.Equal(t, models.False, aliceSnap.Notify.MediaDenied)

	_, err = svc.Leave(ctx, bob.ID)
	require.NoError(t, err)

	aliceSnap = waitForStatus(t, svc, alice.ID, models.SessionStatusJoining)
	assert.Equal(t, models.True, aliceSnap.Notify.RemoteLeft)
	assert.Empty(t, aliceSnap.RemoteCalls)
	assert.Equal(t, 1, hub.Participants("12345"))
}
