package web

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/models"
)

// AdminHandler manages admin dashboard requests
type AdminHandler struct {
	sessions  SessionAdministrator
	auth      *AuthMiddleware
	templates *template.Template
	log       *zap.Logger
	now       func() time.Time
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(sessions SessionAdministrator, auth *AuthMiddleware, logger *zap.Logger) (*AdminHandler, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AdminHandler{
		sessions:  sessions,
		auth:      auth,
		templates: tmpl,
		log:       logger.Named("admin"),
		now:       time.Now,
	}, nil
}

// SetupAdminRoutes registers admin routes on the given mux with authentication
func (h *AdminHandler) SetupAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin", h.auth.RequireAuth(h.handleDashboard))
	mux.HandleFunc("GET /admin/sessions/{id}", h.auth.RequireAuth(h.handleSessionDetail))
	mux.HandleFunc("POST /admin/sessions/{id}/close", h.auth.RequireAuth(h.handleCloseSession))
}

// AdminStats holds statistics for the admin dashboard
type AdminStats struct {
	Total            int
	Idle             int
	Joining          int
	Active           int
	OngoingElsewhere int
	Left             int
	// MediaDenied counts sessions whose camera or microphone was refused
	MediaDenied int
}

// calculateStats computes statistics for the admin dashboard
func calculateStats(sessions []*models.SessionSnapshot) AdminStats {
	stats := AdminStats{Total: len(sessions)}
	for _, s := range sessions {
		switch s.Status {
		case models.SessionStatusIdle:
			stats.Idle++
		case models.SessionStatusJoining:
			stats.Joining++
		case models.SessionStatusActive:
			stats.Active++
		case models.SessionStatusOngoingElsewhere:
			stats.OngoingElsewhere++
		case models.SessionStatusLeft:
			stats.Left++
		}
		if s.Notify.MediaDenied.IsTrue() {
			stats.MediaDenied++
		}
	}
	return stats
}

type adminPage struct {
	Title       string
	Year        int
	LastUpdated string
	Stats       AdminStats
	Sessions    []*models.SessionSnapshot
	Session     *models.SessionSnapshot
}

func (h *AdminHandler) newPage(title string) adminPage {
	now := h.now()
	return adminPage{
		Title:       title,
		Year:        now.Year(),
		LastUpdated: formatDateTime(now),
	}
}

// handleDashboard renders session statistics and every stored session
func (h *AdminHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context(), true)
	if err != nil {
		h.log.Error("failed to list sessions", zap.Error(err))
		http.Error(w, "Failed to get sessions", http.StatusInternalServerError)
		return
	}

	data := h.newPage("Admin")
	data.Sessions = sessions
	data.Stats = calculateStats(sessions)
	h.render(w, "admin_dashboard.html", data)
}

// handleSessionDetail shows a single session
func (h *AdminHandler) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to get session", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "Failed to get session", http.StatusInternalServerError)
		return
	}

	data := h.newPage("Session " + id)
	data.Session = snap
	h.render(w, "admin_session.html", data)
}

// handleCloseSession closes a session, leaving its meeting if joined
func (h *AdminHandler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sessions.Close(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to close session", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "Failed to close session", http.StatusInternalServerError)
		return
	}

	h.log.Info("session closed by admin", zap.String("session_id", id))
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (h *AdminHandler) render(w http.ResponseWriter, name string, data adminPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		// Headers may already be written
		h.log.Error("failed to render admin template", zap.String("template", name), zap.Error(err))
	}
}

// formatDateTime formats a time for display in admin interface
func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// statusClass returns CSS class for session status
func statusClass(status models.SessionStatus) string {
	switch status {
	case models.SessionStatusActive:
		return "status-active"
	case models.SessionStatusJoining:
		return "status-joining"
	case models.SessionStatusOngoingElsewhere:
		return "status-error"
	case models.SessionStatusLeft:
		return "status-ended"
	default:
		return "status-idle"
	}
}
