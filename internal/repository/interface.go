// Package repository defines interfaces for page-scoped data storage
package repository

import (
	"context"

	"github.com/pushpaanand/teleconsult/internal/models"
)

// Repository stores the short-lived data of consultation pages. Nothing here is durable:
// entries expire on their own and a missing entry is never an error the user sees.
type Repository interface {
	// Parameter bundle cache, keyed by browser tab
	SaveResolution(ctx context.Context, tabKey string, res models.CachedResolution) error
	GetResolution(ctx context.Context, tabKey string) (models.CachedResolution, error)
	DeleteResolution(ctx context.Context, tabKey string) error

	// Room status snapshots, keyed by page session id
	SaveRoomStatus(ctx context.Context, sessionID string, snapshot models.RoomStatusSnapshot) error
	GetRoomStatus(ctx context.Context, sessionID string) (models.RoomStatusSnapshot, error)
	DeleteRoomStatus(ctx context.Context, sessionID string) error

	Ping(ctx context.Context) error
	Close() error
}
