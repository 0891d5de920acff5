// Package memory provides an in-memory implementation of the repository interface
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pushpaanand/teleconsult/internal/models"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Repository implements the repository interface with in-memory storage.
// Expired entries are dropped lazily on read.
type Repository struct {
	mu          sync.RWMutex
	resolutions map[string]entry[models.CachedResolution]
	statuses    map[string]entry[models.RoomStatusSnapshot]

	resolutionTTL time.Duration
	statusTTL     time.Duration
	now           func() time.Time
}

// NewRepository creates a new in-memory repository. A zero TTL keeps entries forever.
func NewRepository(resolutionTTL, statusTTL time.Duration) *Repository {
	return &Repository{
		resolutions:   make(map[string]entry[models.CachedResolution]),
		statuses:      make(map[string]entry[models.RoomStatusSnapshot]),
		resolutionTTL: resolutionTTL,
		statusTTL:     statusTTL,
		now:           time.Now,
	}
}

func (r *Repository) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return r.now().Add(ttl)
}

// SaveResolution stores the resolved token and bundle for a tab
func (r *Repository) SaveResolution(ctx context.Context, tabKey string, res models.CachedResolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolutions[tabKey] = entry[models.CachedResolution]{value: res, expiresAt: r.expiry(r.resolutionTTL)}
	return nil
}

// GetResolution returns the cached resolution for a tab
func (r *Repository) GetResolution(ctx context.Context, tabKey string) (models.CachedResolution, error) {
	r.mu.RLock()
	e, ok := r.resolutions[tabKey]
	r.mu.RUnlock()

	if !ok {
		return models.CachedResolution{}, models.ErrNotFound
	}
	if e.expired(r.now()) {
		r.mu.Lock()
		delete(r.resolutions, tabKey)
		r.mu.Unlock()
		return models.CachedResolution{}, models.ErrNotFound
	}
	return e.value, nil
}

// DeleteResolution forgets a tab's cached resolution
func (r *Repository) DeleteResolution(ctx context.Context, tabKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.resolutions, tabKey)
	return nil
}

// SaveRoomStatus stores the latest room status of a page session
func (r *Repository) SaveRoomStatus(ctx context.Context, sessionID string, snapshot models.RoomStatusSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot.ParticipantNames = append([]string(nil), snapshot.ParticipantNames...)
	r.statuses[sessionID] = entry[models.RoomStatusSnapshot]{value: snapshot, expiresAt: r.expiry(r.statusTTL)}
	return nil
}

// GetRoomStatus returns the latest stored room status of a page session
func (r *Repository) GetRoomStatus(ctx context.Context, sessionID string) (models.RoomStatusSnapshot, error) {
	r.mu.RLock()
	e, ok := r.statuses[sessionID]
	r.mu.RUnlock()

	if !ok || e.expired(r.now()) {
		return models.RoomStatusSnapshot{}, models.ErrNotFound
	}
	snapshot := e.value
	snapshot.ParticipantNames = append([]string(nil), snapshot.ParticipantNames...)
	return snapshot, nil
}

// DeleteRoomStatus removes a page session's room status
func (r *Repository) DeleteRoomStatus(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.statuses, sessionID)
	return nil
}

// Ping always succeeds for the in-memory store
func (r *Repository) Ping(ctx context.Context) error {
	return nil
}

// Close releases nothing; it exists to satisfy the interface
func (r *Repository) Close() error {
	return nil
}
