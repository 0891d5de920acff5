// Package providertest provides a controllable in-memory video provider for tests
package providertest

import (
	"context"
	"errors"
	"sync"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/provider"
	"github.com/pushpaanand/teleconsult/internal/uitree"
)

// JoinBehavior decides what a fake kit does when asked to join
type JoinBehavior int

const (
	// JoinSucceeds fires OnJoinRoom asynchronously
	JoinSucceeds JoinBehavior = iota
	// JoinFails fires OnError asynchronously
	JoinFails
	// JoinSilent fires nothing, like a provider that drops its callbacks
	JoinSilent
)

// ErrJoinRejected is the error fake kits report for JoinFails
var ErrJoinRejected = errors.New("room rejected the join")

// Provider is a fake provider.Provider
type Provider struct {
	mu        sync.Mutex
	behavior  JoinBehavior
	createErr error
	kits      []*Kit
}

// New returns a fake provider whose kits join successfully
func New() *Provider {
	return &Provider{behavior: JoinSucceeds}
}

// Create implements provider.Provider
func (p *Provider) Create(ctx context.Context, cfg provider.KitConfig) (provider.Kit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.createErr != nil {
		return nil, p.createErr
	}
	kit := &Kit{cfg: cfg, behavior: p.behavior}
	p.kits = append(p.kits, kit)
	return kit, nil
}

// SetBehavior changes the join behaviour of kits created from now on
func (p *Provider) SetBehavior(b JoinBehavior) {
	p.mu.Lock()
	p.behavior = b
	p.mu.Unlock()
}

// SetCreateErr makes Create fail with err; nil restores success
func (p *Provider) SetCreateErr(err error) {
	p.mu.Lock()
	p.createErr = err
	p.mu.Unlock()
}

// Creates returns how many kits were created
func (p *Provider) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.kits)
}

// Joins returns the number of JoinRoom calls across all kits
func (p *Provider) Joins() int {
	p.mu.Lock()
	kits := append([]*Kit(nil), p.kits...)
	p.mu.Unlock()

	total := 0
	for _, k := range kits {
		total += k.Joins()
	}
	return total
}

// LastKit returns the most recently created kit, or nil
func (p *Provider) LastKit() *Kit {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.kits) == 0 {
		return nil
	}
	return p.kits[len(p.kits)-1]
}

// Kit is a fake provider.Kit. It renders one video tile for the local participant
// into the container on a successful join.
type Kit struct {
	cfg      provider.KitConfig
	behavior JoinBehavior

	mu              sync.Mutex
	opts            provider.JoinOptions
	hooks           provider.Hooks
	joins           int
	destroyed       int
	tile            *uitree.Node
	participants    []models.Participant
	participantsErr error
	panicOnDestroy  bool
}

// JoinRoom implements provider.Kit
func (k *Kit) JoinRoom(ctx context.Context, opts provider.JoinOptions, hooks provider.Hooks) error {
	k.mu.Lock()
	k.opts = opts
	k.hooks = hooks
	k.joins++
	behavior := k.behavior
	k.mu.Unlock()

	switch behavior {
	case JoinSucceeds:
		go k.EmitJoined()
	case JoinFails:
		go k.EmitError(ErrJoinRejected)
	}
	return nil
}

// Participants implements provider.Kit
func (k *Kit) Participants(ctx context.Context) ([]models.Participant, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.participantsErr != nil {
		return nil, k.participantsErr
	}
	return append([]models.Participant(nil), k.participants...), nil
}

// Destroy implements provider.Kit
func (k *Kit) Destroy() {
	k.mu.Lock()
	k.destroyed++
	tile := k.tile
	k.tile = nil
	container := k.opts.Container
	panics := k.panicOnDestroy
	k.mu.Unlock()

	if tile != nil {
		_, _ = uitree.RemoveChild(container, tile)
	}
	if panics {
		panic("fake kit teardown failure")
	}
}

// EmitJoined renders the local tile and fires OnJoinRoom
func (k *Kit) EmitJoined() {
	k.mu.Lock()
	hooks := k.hooks
	container := k.opts.Container
	if k.tile == nil && container != nil {
		k.tile = uitree.NewNode("video", "tile-"+k.opts.UserID)
	}
	tile := k.tile
	k.mu.Unlock()

	if tile != nil && tile.Parent() == nil {
		_, _ = uitree.AppendChild(container, tile)
	}
	if hooks.OnJoinRoom != nil {
		hooks.OnJoinRoom()
	}
}

// EmitError fires OnError
func (k *Kit) EmitError(err error) {
	k.mu.Lock()
	hooks := k.hooks
	k.mu.Unlock()
	if hooks.OnError != nil {
		hooks.OnError(err)
	}
}

// EmitLeft fires OnLeaveRoom, as when the network drops
func (k *Kit) EmitLeft(err error) {
	k.mu.Lock()
	hooks := k.hooks
	k.mu.Unlock()
	if hooks.OnLeaveRoom != nil {
		hooks.OnLeaveRoom(err)
	}
}

// EmitHangUp fires OnHangUpRequested, as when the provider's own end button is clicked
func (k *Kit) EmitHangUp() {
	k.mu.Lock()
	hooks := k.hooks
	k.mu.Unlock()
	if hooks.OnHangUpRequested != nil {
		hooks.OnHangUpRequested()
	}
}

// SetParticipants sets what Participants returns
func (k *Kit) SetParticipants(ps ...models.Participant) {
	k.mu.Lock()
	k.participants = ps
	k.participantsErr = nil
	k.mu.Unlock()
}

// SetParticipantsErr makes Participants fail
func (k *Kit) SetParticipantsErr(err error) {
	k.mu.Lock()
	k.participantsErr = err
	k.mu.Unlock()
}

// PanicOnDestroy makes Destroy panic after cleaning up
func (k *Kit) PanicOnDestroy() {
	k.mu.Lock()
	k.panicOnDestroy = true
	k.mu.Unlock()
}

// Config returns the configuration the kit was created with
func (k *Kit) Config() provider.KitConfig {
	return k.cfg
}

// Options returns the options of the last join
func (k *Kit) Options() provider.JoinOptions {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.opts
}

// Joins returns how many times JoinRoom was called
func (k *Kit) Joins() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.joins
}

// Destroyed reports how many times Destroy was called
func (k *Kit) Destroyed() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.destroyed
}
