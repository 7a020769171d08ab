package api

import (
	"context"

	"github.com/navikt/zconf/internal/models"
	"github.com/navikt/zconf/internal/service"
	"github.com/navikt/zconf/internal/session"
)

// ConferenceServicer defines the conference operations needed by API handlers
type ConferenceServicer interface {
	Open(ctx context.Context, params service.RouteParams) (*models.SessionSnapshot, error)
	Get(ctx context.Context, id string) (*models.SessionSnapshot, error)
	List(ctx context.Context, includeLeft bool) ([]*models.SessionSnapshot, error)
	Join(ctx context.Context, id string, req session.JoinRequest) (*models.SessionSnapshot, error)
	Leave(ctx context.Context, id string) (*models.SessionSnapshot, error)
	ToggleAudio(ctx context.Context, id string) (*models.SessionSnapshot, error)
	ToggleVideo(ctx context.Context, id string) (*models.SessionSnapshot, error)
	Close(ctx context.Context, id string) error
}

// AppointmentCreator creates appointments
type AppointmentCreator interface {
	CreateMeeting(draft models.Appointment) models.Appointment
}

// ReadinessCheck reports whether a dependency can serve requests
type ReadinessCheck func(ctx context.Context) error
