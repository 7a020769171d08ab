package web

import (
	"context"

	"github.com/navikt/zconf/internal/models"
	"github.com/navikt/zconf/internal/service"
)

// ConferenceOpener opens conference sessions for the conference view
type ConferenceOpener interface {
	Open(ctx context.Context, params service.RouteParams) (*models.SessionSnapshot, error)
}

// AppointmentCreator creates appointments from the appointment form
type AppointmentCreator interface {
	CreateMeeting(draft models.Appointment) models.Appointment
}

// SessionAdministrator lists, inspects and closes sessions for the admin dashboard
type SessionAdministrator interface {
	List(ctx context.Context, includeLeft bool) ([]*models.SessionSnapshot, error)
	Get(ctx context.Context, id string) (*models.SessionSnapshot, error)
	Close(ctx context.Context, id string) error
}
