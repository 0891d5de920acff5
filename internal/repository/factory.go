package repository

import (
	"fmt"

	"github.com/pushpaanand/teleconsult/internal/config"
	"github.com/pushpaanand/teleconsult/internal/repository/memory"
	"github.com/pushpaanand/teleconsult/internal/repository/redis"
)

// NewRepository returns the Redis repository when enabled, otherwise the in-memory one
func NewRepository(cfg config.RedisConfig) (Repository, error) {
	if !cfg.Enabled {
		return memory.NewRepository(cfg.PageCacheTTL, cfg.RoomStatusTTL), nil
	}

	repo, err := redis.NewRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis repository: %w", err)
	}
	return repo, nil
}
