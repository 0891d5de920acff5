// Package provider is the boundary around the third-party real-time video service.
// The Adapter enforces the contract the session state machine relies on; a Provider
// implementation (see httpkit) does the actual talking.
package provider

import (
	"context"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/uitree"
)

// KitConfig is what the underlying provider needs to build a kit instance
type KitConfig struct {
	AppID        uint32
	ServerSecret string
}

// JoinOptions describes one join request
type JoinOptions struct {
	Token     string
	RoomID    string
	UserID    string
	UserName  string
	Container *uitree.Node
}

// Hooks are invoked by a kit from any goroutine. Kits are not trusted to call them
// exactly once; the Adapter filters duplicates.
type Hooks struct {
	OnJoinRoom func()
	OnError    func(err error)
	// OnLeaveRoom reports the call ending without a local leave
	OnLeaveRoom func(err error)
	// OnHangUpRequested reports the provider's own hang-up control being used
	OnHangUpRequested func()
}

// Kit is one instance of the provider's prebuilt room interface
type Kit interface {
	// JoinRoom issues the join and returns; the outcome arrives through hooks, or never
	JoinRoom(ctx context.Context, opts JoinOptions, hooks Hooks) error
	Participants(ctx context.Context) ([]models.Participant, error)
	Destroy()
}

// Provider creates kit instances
type Provider interface {
	Create(ctx context.Context, cfg KitConfig) (Kit, error)
}
