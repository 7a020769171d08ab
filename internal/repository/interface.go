// Package repository defines interfaces for data storage
package repository

import (
	"context"

	"github.com/navikt/zconf/internal/models"
)

// Repository stores the latest snapshot of each conference session
type Repository interface {
	SaveSession(ctx context.Context, session *models.SessionSnapshot) error
	// GetSession returns models.ErrNotFound for unknown ids
	GetSession(ctx context.Context, id string) (*models.SessionSnapshot, error)
	// ListSessions returns sessions that have not been left
	ListSessions(ctx context.Context) ([]*models.SessionSnapshot, error)
	ListAllSessions(ctx context.Context) ([]*models.SessionSnapshot, error)
	DeleteSession(ctx context.Context, id string) error
}
