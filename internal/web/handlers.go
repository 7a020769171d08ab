package web

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/api"
	"github.com/navikt/zconf/internal/appointment"
	"github.com/navikt/zconf/internal/config"
	"github.com/navikt/zconf/internal/models"
	"github.com/navikt/zconf/internal/service"
	"github.com/navikt/zconf/internal/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

// formTimeLayout is the value format of a datetime-local input
const formTimeLayout = "2006-01-02T15:04"

// Options are the collaborators of the web handler
type Options struct {
	Appointments AppointmentCreator
	Conferences  ConferenceOpener
	SSE          *SSEManager
	PublicURL    string
	// RateLimit bounds how often a client may open a conference view
	RateLimit config.RateLimitConfig
	Logger    *zap.Logger
	// OnAppointmentCreated is optional
	OnAppointmentCreated func()
}

// Handler manages web UI requests
type Handler struct {
	appointments AppointmentCreator
	conferences  ConferenceOpener
	sseManager   *SSEManager
	publicURL    string
	rateLimit    config.RateLimitConfig
	log          *zap.Logger
	onCreated    func()
	templates    *template.Template
	now          func() time.Time
}

// NewHandler creates a new web UI handler
func NewHandler(opts Options) (*Handler, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sseManager := opts.SSE
	if sseManager == nil {
		sseManager = NewSSEManager(logger)
	}

	return &Handler{
		appointments: opts.Appointments,
		conferences:  opts.Conferences,
		sseManager:   sseManager,
		publicURL:    opts.PublicURL,
		rateLimit:    opts.RateLimit,
		log:          logger,
		onCreated:    opts.OnAppointmentCreated,
		templates:    tmpl,
		now:          time.Now,
	}, nil
}

func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatTime":     formatTime,
		"formatDateTime": formatDateTime,
		"statusClass":    statusClass,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return tmpl, nil
}

// formatTime is a template helper function to format time
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

// SetupRoutes registers web UI routes on the given mux
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.Handle("GET /events", h.sseManager)

	mux.HandleFunc("GET /home", h.page("home.html", "Home"))
	mux.HandleFunc("GET /about", h.page("about.html", "About"))
	mux.HandleFunc("GET /appointment", h.page("appointment.html", "New appointment"))
	mux.HandleFunc("POST /appointment", h.handleCreateAppointment)

	// Every conference view starts a session, so it is limited like POST /api/sessions
	conference := api.RateLimitMiddleware(h.rateLimit, http.HandlerFunc(h.handleConference))
	mux.Handle("GET /conference", conference)
	mux.Handle("GET /conference/{code}", conference)

	// Everything else, including the root path, lands on the home page
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/home", http.StatusFound)
	})
}

type pageData struct {
	Title       string
	Year        int
	Error       string
	Appointment *models.Appointment
	Link        string
	Session     *models.SessionSnapshot
}

func (h *Handler) newPage(title string) pageData {
	return pageData{Title: title, Year: h.now().Year()}
}

func (h *Handler) page(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, http.StatusOK, name, h.newPage(title))
	}
}

func (h *Handler) render(w http.ResponseWriter, code int, name string, data pageData) {
	var buf strings.Builder
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		h.log.Error("failed to render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(buf.String()))
}

// handleCreateAppointment creates an appointment from the submitted form and
// shows its shareable link
func (h *Handler) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	data := h.newPage("New appointment")

	if err := r.ParseForm(); err != nil {
		data.Error = "Invalid form submission"
		h.render(w, http.StatusBadRequest, "appointment.html", data)
		return
	}

	draft := models.Appointment{
		Title:   r.PostForm.Get("title"),
		Creator: r.PostForm.Get("creator"),
	}
	if raw := strings.TrimSpace(r.PostForm.Get("time")); raw != "" {
		t, err := time.ParseInLocation(formTimeLayout, raw, time.Local)
		if err != nil {
			data.Error = "Invalid time"
			h.render(w, http.StatusBadRequest, "appointment.html", data)
			return
		}
		draft.Time = t
	}

	appt := h.appointments.CreateMeeting(draft)
	if h.onCreated != nil {
		h.onCreated()
	}
	h.log.Info("created appointment from form",
		zap.Int("code", appt.Code),
		utils.SafeString("title", appt.Title))

	data.Appointment = &appt
	data.Link = appointment.Link(utils.RequestOrigin(r, h.publicURL), appt)
	h.render(w, http.StatusCreated, "appointment.html", data)
}

// handleConference opens a session bound to the path code and details query
func (h *Handler) handleConference(w http.ResponseWriter, r *http.Request) {
	snap, err := h.conferences.Open(r.Context(), service.RouteParams{
		Code:    r.PathValue("code"),
		Details: r.URL.Query().Get("details"),
	})
	if err != nil {
		if errors.Is(err, service.ErrShuttingDown) {
			http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
			return
		}
		h.log.Error("failed to open conference session", zap.Error(err))
		http.Error(w, "Failed to open conference", http.StatusInternalServerError)
		return
	}

	data := h.newPage("Conference")
	data.Session = snap
	h.render(w, http.StatusOK, "conference.html", data)
}

// NotifySessionUpdate sends a session snapshot to the subscribers of its stream
func (h *Handler) NotifySessionUpdate(snap *models.SessionSnapshot) {
	h.sseManager.NotifySessionUpdate(snap)
}

// SessionClosed disconnects the subscribers of a closed session
func (h *Handler) SessionClosed(id string) {
	h.sseManager.RemoveSession(id)
}

// Shutdown gracefully shuts down the web handler and its SSE manager
func (h *Handler) Shutdown() {
	h.sseManager.Shutdown()
}
