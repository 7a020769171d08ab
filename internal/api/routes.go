package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/config"
)

// RequestObserver records request durations per route
type RequestObserver interface {
	ObserveRequest(route string, code int, elapsed time.Duration)
}

// Dependencies are the collaborators of the API routes
type Dependencies struct {
	Appointments AppointmentCreator
	Conferences  ConferenceServicer
	PublicURL    string
	RateLimit    config.RateLimitConfig
	Logger       *zap.Logger
	// Metrics is optional; when set, /metrics is served and requests are observed
	Metrics        RequestObserver
	MetricsHandler http.Handler
	// OnAppointmentCreated is optional
	OnAppointmentCreated func()
	ReadinessChecks      []ReadinessCheck
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(deps Dependencies) *http.ServeMux {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	handle := func(pattern, route string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(deps.Metrics, route, h))
	}
	limited := func(h http.HandlerFunc) http.HandlerFunc {
		return RateLimitMiddleware(deps.RateLimit, h).ServeHTTP
	}

	// Health check endpoints for Kubernetes
	mux.HandleFunc("GET /health/live", HealthLiveHandler)
	mux.HandleFunc("GET /health/ready", NewHealthReadyHandler(logger, deps.ReadinessChecks...))

	if deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", deps.MetricsHandler)
	}

	appointments := NewAppointmentHandler(deps.Appointments, deps.PublicURL, logger, deps.OnAppointmentCreated)
	handle("POST /api/appointments", "/api/appointments", limited(appointments.Create))

	sessions := NewSessionHandler(deps.Conferences, logger)
	handle("POST /api/sessions", "/api/sessions", limited(sessions.Open))
	handle("GET /api/sessions", "/api/sessions", sessions.List)
	handle("GET /api/sessions/{id}", "/api/sessions/{id}", sessions.Get)
	handle("DELETE /api/sessions/{id}", "/api/sessions/{id}", sessions.Close)
	handle("POST /api/sessions/{id}/join", "/api/sessions/{id}/join", sessions.Join)
	handle("POST /api/sessions/{id}/leave", "/api/sessions/{id}/leave", sessions.Leave)
	handle("POST /api/sessions/{id}/audio", "/api/sessions/{id}/audio", sessions.ToggleAudio)
	handle("POST /api/sessions/{id}/video", "/api/sessions/{id}/video", sessions.ToggleVideo)

	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(observer RequestObserver, route string, next http.Handler) http.Handler {
	if observer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		observer.ObserveRequest(route, rec.code, time.Since(start))
	})
}
