// Package redis provides a Redis/Valkey implementation of the repository interface
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pushpaanand/teleconsult/internal/config"
	"github.com/pushpaanand/teleconsult/internal/models"
)

// Repository implements the repository interface with Redis storage
type Repository struct {
	client        *redis.Client
	keyPrefix     string
	resolutionTTL time.Duration
	statusTTL     time.Duration
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
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Repository{
		client:        client,
		keyPrefix:     cfg.KeyPrefix,
		resolutionTTL: cfg.PageCacheTTL,
		statusTTL:     cfg.RoomStatusTTL,
	}, nil
}

// Close closes the Redis connection
func (r *Repository) Close() error {
	return r.client.Close()
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// resolutionKey returns the Redis key for a tab's cached resolution
func (r *Repository) resolutionKey(tabKey string) string {
	return fmt.Sprintf("%sresolutions:%s", r.keyPrefix, tabKey)
}

// roomStatusKey returns the Redis key for a page session's room status
func (r *Repository) roomStatusKey(sessionID string) string {
	return fmt.Sprintf("%ssessions:%s:room-status", r.keyPrefix, sessionID)
}

// SaveResolution stores the resolved token and bundle for a tab
func (r *Repository) SaveResolution(ctx context.Context, tabKey string, res models.CachedResolution) error {
	if err := r.set(ctx, r.resolutionKey(tabKey), res, r.resolutionTTL); err != nil {
		return fmt.Errorf("failed to save resolution: %w", err)
	}
	return nil
}

// GetResolution returns the cached resolution for a tab
func (r *Repository) GetResolution(ctx context.Context, tabKey string) (models.CachedResolution, error) {
	var res models.CachedResolution
	if err := r.get(ctx, r.resolutionKey(tabKey), &res); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return res, err
		}
		return res, fmt.Errorf("failed to get resolution: %w", err)
	}
	return res, nil
}

// DeleteResolution forgets a tab's cached resolution
func (r *Repository) DeleteResolution(ctx context.Context, tabKey string) error {
	if err := r.client.Del(ctx, r.resolutionKey(tabKey)).Err(); err != nil {
		return fmt.Errorf("failed to delete resolution: %w", err)
	}
	return nil
}

// SaveRoomStatus stores the latest room status of a page session
func (r *Repository) SaveRoomStatus(ctx context.Context, sessionID string, snapshot models.RoomStatusSnapshot) error {
	if err := r.set(ctx, r.roomStatusKey(sessionID), snapshot, r.statusTTL); err != nil {
		return fmt.Errorf("failed to save room status: %w", err)
	}
	return nil
}

// GetRoomStatus returns the latest stored room status of a page session
func (r *Repository) GetRoomStatus(ctx context.Context, sessionID string) (models.RoomStatusSnapshot, error) {
	var snapshot models.RoomStatusSnapshot
	if err := r.get(ctx, r.roomStatusKey(sessionID), &snapshot); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return snapshot, err
		}
		return snapshot, fmt.Errorf("failed to get room status: %w", err)
	}
	return snapshot, nil
}

// DeleteRoomStatus removes a page session's room status
func (r *Repository) DeleteRoomStatus(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.roomStatusKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete room status: %w", err)
	}
	return nil
}

func (r *Repository) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *Repository) get(ctx context.Context, key string, dest any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}
