package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/models"
	"github.com/navikt/zconf/internal/service"
	"github.com/navikt/zconf/internal/session"
)

// OpenSessionRequest is the body of POST /api/sessions. Details is the raw
// base64 value of the details query parameter of an appointment link.
type OpenSessionRequest struct {
	Code    string `json:"code"`
	Details string `json:"details"`
}

// SessionHandler handles conference session requests
type SessionHandler struct {
	conferences ConferenceServicer
	log         *zap.Logger
}

// NewSessionHandler creates a session handler backed by conferences
func NewSessionHandler(conferences ConferenceServicer, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		conferences: conferences,
		log:         logger,
	}
}

// Open handles POST /api/sessions
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	snap, err := h.conferences.Open(r.Context(), service.RouteParams{Code: req.Code, Details: req.Details})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+snap.ID)
	writeJSON(w, http.StatusCreated, snap)
}

// List handles GET /api/sessions. Left sessions are included with ?all=true.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	sessions, err := h.conferences.List(r.Context(), all)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if sessions == nil {
		sessions = []*models.SessionSnapshot{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// Get handles GET /api/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.conferences.Get)
}

// Close handles DELETE /api/sessions/{id}
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.conferences.Close(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Join handles POST /api/sessions/{id}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req session.JoinRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	snap, err := h.conferences.Join(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Leave handles POST /api/sessions/{id}/leave
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.conferences.Leave)
}

// ToggleAudio handles POST /api/sessions/{id}/audio
func (h *SessionHandler) ToggleAudio(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.conferences.ToggleAudio)
}

// ToggleVideo handles POST /api/sessions/{id}/video
func (h *SessionHandler) ToggleVideo(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.conferences.ToggleVideo)
}

type sessionOp func(ctx context.Context, id string) (*models.SessionSnapshot, error)

func (h *SessionHandler) respond(w http.ResponseWriter, r *http.Request, op sessionOp) {
	snap, err := op(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// decodeOptional decodes a JSON body into v when one is present
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
