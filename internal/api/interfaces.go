package api

import (
	"context"
	"net/url"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/session"
)

// SessionManager defines the page session operations needed by API handlers
type SessionManager interface {
	Open(ctx context.Context, tabKey string, params url.Values) (*session.Machine, error)
	Get(id string) (*session.Machine, error)
	List() []session.Summary
	Close(id string) error
}

// RoomStatusReader reads the stored room status of a page session
type RoomStatusReader interface {
	GetRoomStatus(ctx context.Context, sessionID string) (models.RoomStatusSnapshot, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// StreamCloser drops the event stream of a closed page session
type StreamCloser interface {
	Forget(id string)
}
