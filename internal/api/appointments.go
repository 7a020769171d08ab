package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/appointment"
	"github.com/navikt/zconf/internal/models"
	"github.com/navikt/zconf/internal/utils"
)

// AppointmentRequest is the body of POST /api/appointments
type AppointmentRequest struct {
	Title   string    `json:"title"`
	Creator string    `json:"creator"`
	Time    time.Time `json:"time"`
}

// AppointmentResponse describes a created appointment and its shareable link
type AppointmentResponse struct {
	Code    int       `json:"code"`
	Title   string    `json:"title"`
	Creator string    `json:"creator,omitempty"`
	Time    time.Time `json:"time"`
	Details string    `json:"details"`
	Link    string    `json:"link"`
}

// AppointmentHandler handles appointment creation
type AppointmentHandler struct {
	appointments AppointmentCreator
	publicURL    string
	log          *zap.Logger
	onCreated    func()
}

// NewAppointmentHandler creates an appointment handler. Links use publicURL as
// origin when set and the request origin otherwise.
func NewAppointmentHandler(appointments AppointmentCreator, publicURL string, logger *zap.Logger, onCreated func()) *AppointmentHandler {
	return &AppointmentHandler{
		appointments: appointments,
		publicURL:    publicURL,
		log:          logger,
		onCreated:    onCreated,
	}
}

// Create handles POST /api/appointments
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req AppointmentRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	appt := h.appointments.CreateMeeting(models.Appointment{
		Title:   req.Title,
		Creator: req.Creator,
		Time:    req.Time,
	})
	if h.onCreated != nil {
		h.onCreated()
	}

	h.log.Info("created appointment",
		zap.Int("code", appt.Code),
		utils.SafeString("title", appt.Title))

	writeJSON(w, http.StatusCreated, AppointmentResponse{
		Code:    appt.Code,
		Title:   appt.Title,
		Creator: appt.Creator,
		Time:    appt.Time,
		Details: appt.Details(),
		Link:    appointment.Link(utils.RequestOrigin(r, h.publicURL), appt),
	})
}
