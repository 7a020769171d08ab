// Package memory provides an in-memory implementation of the repository interface
package memory

import (
	"context"
	"sync"

	"github.com/navikt/zconf/internal/models"
)

// Repository implements the repository interface with in-memory storage
type Repository struct {
	sessions map[string]*models.SessionSnapshot
	mu       sync.RWMutex
}

// NewRepository creates a new in-memory repository
func NewRepository() *Repository {
	return &Repository{
		sessions: make(map[string]*models.SessionSnapshot),
	}
}

// SaveSession stores a copy of the snapshot, replacing any previous one
func (r *Repository) SaveSession(ctx context.Context, session *models.SessionSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session.Clone()
	return nil
}

// GetSession retrieves a session by ID
func (r *Repository) GetSession(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return session.Clone(), nil
}

// ListSessions returns all sessions that have not been left
func (r *Repository) ListSessions(ctx context.Context) ([]*models.SessionSnapshot, error) {
	return r.list(func(s *models.SessionSnapshot) bool {
		return s.Status != models.SessionStatusLeft
	}), nil
}

// ListAllSessions returns all sessions, including left ones
func (r *Repository) ListAllSessions(ctx context.Context) ([]*models.SessionSnapshot, error) {
	return r.list(func(*models.SessionSnapshot) bool { return true }), nil
}

func (r *Repository) list(keep func(*models.SessionSnapshot) bool) []*models.SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*models.SessionSnapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		if keep(s) {
			sessions = append(sessions, s.Clone())
		}
	}
	models.SortSessions(sessions)
	return sessions
}

// DeleteSession removes a session by ID
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return models.ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}
