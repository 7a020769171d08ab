package repository

import (
	"fmt"

	"github.com/navikt/zconf/internal/config"
	"github.com/navikt/zconf/internal/repository/memory"
	"github.com/navikt/zconf/internal/repository/redis"
)

// NewRepository returns the redis repository when it is enabled and the
// in-memory repository otherwise
func NewRepository(cfg config.RedisConfig) (Repository, error) {
	if !cfg.Enabled {
		return memory.NewRepository(), nil
	}

	repo, err := redis.NewRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis repository: %w", err)
	}
	return repo, nil
}
