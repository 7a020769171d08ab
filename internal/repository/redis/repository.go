// Package redis provides a Redis/Valkey implementation of the repository interface
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/navikt/zconf/internal/config"
	"github.com/navikt/zconf/internal/models"
	"github.com/redis/go-redis/v9"
)

// Repository implements the repository interface with Redis storage
type Repository struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRepository creates a new Redis repository
func NewRepository(cfg config.RedisConfig) (*Repository, error) {
	var client *redis.Client

	// Use URI if provided, otherwise build connection from individual parameters
	if cfg.URI != "" {
		opt, err := redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URI: %w", err)
		}

		// Use DB from config if not specified in the URI
		if opt.DB == 0 {
			opt.DB = cfg.DB
		}
		if opt.Password == "" && cfg.Password != "" {
			opt.Password = cfg.Password
		}

		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Repository{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.SessionTTL,
	}, nil
}

// Close closes the Redis connection
func (r *Repository) Close() error {
	return r.client.Close()
}

// Ping checks that Redis is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// sessionKey returns the Redis key for a session
func (r *Repository) sessionKey(id string) string {
	return fmt.Sprintf("%ssessions:%s", r.keyPrefix, id)
}

// SaveSession stores the snapshot as JSON with the configured TTL
func (r *Repository) SaveSession(ctx context.Context, session *models.SessionSnapshot) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, r.sessionKey(session.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (r *Repository) GetSession(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.SessionSnapshot
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// ListSessions returns all sessions that have not been left
func (r *Repository) ListSessions(ctx context.Context) ([]*models.SessionSnapshot, error) {
	return r.list(ctx, func(s *models.SessionSnapshot) bool {
		return s.Status != models.SessionStatusLeft
	})
}

// ListAllSessions returns all sessions, including left ones
func (r *Repository) ListAllSessions(ctx context.Context) ([]*models.SessionSnapshot, error) {
	return r.list(ctx, func(*models.SessionSnapshot) bool { return true })
}

func (r *Repository) list(ctx context.Context, keep func(*models.SessionSnapshot) bool) ([]*models.SessionSnapshot, error) {
	keys, err := r.client.Keys(ctx, r.sessionKey("*")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(keys) == 0 {
		return []*models.SessionSnapshot{}, nil
	}

	// Use MGET to retrieve all session data in a single roundtrip
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session data: %w", err)
	}

	sessions := make([]*models.SessionSnapshot, 0, len(values))
	for _, v := range values {
		// Keys may expire between KEYS and MGET
		strData, ok := v.(string)
		if !ok {
			continue
		}

		var session models.SessionSnapshot
		if err := json.Unmarshal([]byte(strData), &session); err != nil {
			continue
		}
		if keep(&session) {
			sessions = append(sessions, &session)
		}
	}

	models.SortSessions(sessions)
	return sessions, nil
}

// DeleteSession removes a session by ID
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if deleted == 0 {
		return models.ErrNotFound
	}
	return nil
}
