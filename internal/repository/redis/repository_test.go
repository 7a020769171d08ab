// Package redis_test provides tests for the Redis repository
package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/navikt/zconf/internal/config"
	"github.com/navikt/zconf/internal/models"
	"github.com/navikt/zconf/internal/repository/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Repository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Enabled:    true,
		Host:       mr.Host(),
		Port:       mr.Port(),
		KeyPrefix:  "test:",
		SessionTTL: time.Hour * 24,
	}

	repo, err := redis.NewRepository(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo, mr
}

func snapshot(id string, status models.SessionStatus, updated time.Time) *models.SessionSnapshot {
	return &models.SessionSnapshot{
		ID:             id,
		JoinCode:       "12345",
		DisplayName:    "Alice",
		MeetingDetails: "Standup - Alice",
		LocalCallID:    "agora_local",
		RemoteCalls:    []string{"id: 7"},
		MuteVideo:      true,
		Status:         status,
		Joined:         models.True,
		Notify: models.Notification{
			MediaDenied: models.False,
			Waiting:     models.False,
			RemoteLeft:  models.False,
		},
		Location:  "/conference/12345",
		UpdatedAt: updated,
	}
}

// TestRedisWithURI tests connection with URI format
func TestRedisWithURI(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Enabled:    true,
		URI:        fmt.Sprintf("redis://%s:%s", mr.Host(), mr.Port()),
		KeyPrefix:  "test:",
		SessionTTL: time.Hour,
	}

	repo, err := redis.NewRepository(cfg)
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.SaveSession(ctx, snapshot("uri", models.SessionStatusIdle, time.Now())))

	retrieved, err := repo.GetSession(ctx, "uri")
	require.NoError(t, err)
	assert.Equal(t, "uri", retrieved.ID)
}

func TestRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	_, err := redis.NewRepository(config.RedisConfig{Enabled: true, Host: host, Port: port})
	assert.Error(t, err)
}

func TestInvalidURI(t *testing.T) {
	_, err := redis.NewRepository(config.RedisConfig{Enabled: true, URI: "not-a-redis-uri://"})
	assert.Error(t, err)
}

func TestSessionRepository(t *testing.T) {
	repo, mr := setupTestRedis(t)
	ctx := context.Background()

	session := snapshot("session123", models.SessionStatusActive, time.Now().Truncate(time.Millisecond))

	t.Run("SaveAndGetSession", func(t *testing.T) {
		require.NoError(t, repo.SaveSession(ctx, session))

		saved, err := repo.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, session.UpdatedAt.Equal(saved.UpdatedAt))

		saved.UpdatedAt = session.UpdatedAt
		assert.Equal(t, session, saved)
	})

	t.Run("StoredAsJSONWithTTL", func(t *testing.T) {
		key := "test:sessions:session123"
		require.True(t, mr.Exists(key))
		assert.Equal(t, 24*time.Hour, mr.TTL(key))

		raw, err := mr.Get(key)
		require.NoError(t, err)
		assert.Contains(t, raw, `"status":"active"`)
		assert.Contains(t, raw, `"joined":true`)
		assert.Contains(t, raw, `"ongoingMeeting":null`)
	})

	t.Run("ExpiredSessionIsGone", func(t *testing.T) {
		mr.FastForward(25 * time.Hour)

		_, err := repo.GetSession(ctx, session.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("DeleteSession", func(t *testing.T) {
		require.NoError(t, repo.SaveSession(ctx, session))
		require.NoError(t, repo.DeleteSession(ctx, session.ID))

		_, err := repo.GetSession(ctx, session.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.ErrorIs(t, repo.DeleteSession(ctx, session.ID), models.ErrNotFound)
	})
}

func TestListSessions(t *testing.T) {
	repo, mr := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	empty, err := repo.ListAllSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, repo.SaveSession(ctx, snapshot("b", models.SessionStatusActive, now.Add(2*time.Second))))
	require.NoError(t, repo.SaveSession(ctx, snapshot("a", models.SessionStatusJoining, now)))
	require.NoError(t, repo.SaveSession(ctx, snapshot("left", models.SessionStatusLeft, now.Add(time.Second))))

	// Keys outside the prefix and corrupt values are skipped
	require.NoError(t, mr.Set("other:sessions:x", "{}"))
	require.NoError(t, mr.Set("test:sessions:corrupt", "not json"))

	sessions, err := repo.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)

	all, err := repo.ListAllSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "left", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})
}
