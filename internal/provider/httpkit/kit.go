// Package httpkit implements the video provider on top of a hosted prebuilt-room service:
// a small REST API for membership and an SSE stream of room events. The kit renders
// participant tiles into the container it is lent.
package httpkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/provider"
	"github.com/pushpaanand/teleconsult/internal/uitree"
	"github.com/pushpaanand/teleconsult/internal/utils"
)

// Room event names emitted by the service
const (
	EventParticipantJoined = "participant-joined"
	EventStreamReady       = "stream-ready"
	EventParticipantLeft   = "participant-left"
	EventHangUpRequested   = "hangup-requested"
	EventRoomClosed        = "room-closed"
	EventError             = "error"
)

var errRoomClosed = errors.New("room closed by the service")

// RoomEvent is the data payload of every room event
type RoomEvent struct {
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Provider creates kits against one room service
type Provider struct {
	baseURL       string
	httpClient    *http.Client
	reconnects    uint64
	reconnectWait time.Duration
	log           zerolog.Logger
}

// New creates a provider for the service at baseURL
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Provider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		reconnects:    3,
		reconnectWait: time.Second,
		log:           logger.With().Str("component", "httpkit").Logger(),
	}
}

// Create implements provider.Provider
func (p *Provider) Create(ctx context.Context, cfg provider.KitConfig) (provider.Kit, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid room service url %q", p.baseURL)
	}
	if cfg.AppID == 0 {
		return nil, fmt.Errorf("kit requires an application id")
	}
	return &Kit{
		provider: p,
		appID:    cfg.AppID,
		tiles:    make(map[string]*uitree.Node),
		log:      p.log.With().Uint32("app_id", cfg.AppID).Logger(),
	}, nil
}

// Kit is one prebuilt room instance
type Kit struct {
	provider *Provider
	appID    uint32
	log      zerolog.Logger

	mu        sync.Mutex
	client    *APIClient
	opts      provider.JoinOptions
	hooks     provider.Hooks
	streamID  string
	tiles     map[string]*uitree.Node
	joined    bool
	finished  bool
	destroyed bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// JoinRoom implements provider.Kit. The membership call and the event subscription run in
// the background; the local stream becoming ready is the join signal.
func (k *Kit) JoinRoom(ctx context.Context, opts provider.JoinOptions, hooks provider.Hooks) error {
	if opts.Container == nil {
		return fmt.Errorf("join requires a container")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.destroyed {
		return fmt.Errorf("kit destroyed")
	}
	if k.done != nil {
		return fmt.Errorf("kit already joined room %s", k.opts.RoomID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	k.opts = opts
	k.hooks = hooks
	k.client = NewAPIClient(k.provider.baseURL, opts.Token, k.provider.httpClient)
	k.cancel = cancel
	k.done = make(chan struct{})
	k.log = k.log.With().
		Str("room_id", utils.SanitizeLogString(opts.RoomID)).
		Str("user_id", utils.MaskIdentifier(opts.UserID)).
		Logger()

	go k.run(runCtx)
	return nil
}

func (k *Kit) run(ctx context.Context) {
	defer close(k.done)

	streamID, err := k.client.AddParticipant(ctx, k.opts.RoomID, k.opts.UserID, k.opts.UserName)
	if err != nil {
		k.fail(fmt.Errorf("failed to join room: %w", err))
		return
	}
	k.mu.Lock()
	k.streamID = streamID
	k.mu.Unlock()

	if err := k.placeholder(k.opts.UserID); err != nil {
		k.fail(err)
		return
	}

	client := sse.NewClient(k.client.EventsURL(k.opts.RoomID))
	client.Headers["Authorization"] = "Bearer " + k.opts.Token
	client.Connection = &http.Client{Transport: k.provider.httpClient.Transport}
	client.ReconnectStrategy = backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(k.provider.reconnectWait), k.provider.reconnects),
		ctx,
	)

	err = client.SubscribeWithContext(ctx, streamID, func(msg *sse.Event) {
		if ctx.Err() != nil {
			return
		}
		if err := k.handle(string(msg.Event), msg.Data); err != nil {
			k.fail(err)
		}
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("event stream ended")
	}
	k.fail(fmt.Errorf("lost room event stream: %w", err))
}

func (k *Kit) handle(name string, data []byte) error {
	var ev RoomEvent
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ev); err != nil {
			k.log.Warn().Err(err).Str("event", name).Msg("Ignoring malformed room event")
			return nil
		}
	}
	k.log.Debug().Str("event", name).Str("participant", utils.MaskIdentifier(ev.UserID)).Msg("Room event")

	switch name {
	case EventParticipantJoined:
		return k.placeholder(ev.UserID)
	case EventStreamReady:
		if err := k.showTile(ev.UserID); err != nil {
			return err
		}
		if ev.UserID == k.opts.UserID {
			k.markJoined()
		}
	case EventParticipantLeft:
		return k.removeTile(ev.UserID)
	case EventHangUpRequested:
		if hook := k.hooks.OnHangUpRequested; hook != nil {
			hook()
		}
	case EventRoomClosed:
		return errRoomClosed
	case EventError:
		msg := ev.Message
		if msg == "" {
			msg = "room service reported an error"
		}
		return errors.New(msg)
	default:
		k.log.Debug().Str("event", name).Msg("Ignoring unknown room event")
	}
	return nil
}

func (k *Kit) markJoined() {
	k.mu.Lock()
	if k.joined || k.finished {
		k.mu.Unlock()
		return
	}
	k.joined = true
	hook := k.hooks.OnJoinRoom
	k.mu.Unlock()

	k.log.Info().Msg("Local stream ready")
	if hook != nil {
		hook()
	}
}

// fail ends the kit's run once: before the join it is a join error, afterwards the call ended
func (k *Kit) fail(err error) {
	k.mu.Lock()
	if k.finished || k.destroyed {
		k.mu.Unlock()
		return
	}
	k.finished = true
	joined := k.joined
	hooks := k.hooks
	cancel := k.cancel
	k.mu.Unlock()

	k.log.Warn().Err(err).Bool("joined", joined).Msg("Room session ended")
	cancel()

	if joined {
		if hooks.OnLeaveRoom != nil {
			hooks.OnLeaveRoom(err)
		}
		return
	}
	if hooks.OnError != nil {
		hooks.OnError(err)
	}
}

// placeholder inserts a connecting tile for a participant whose stream is not ready yet
func (k *Kit) placeholder(userID string) error {
	if userID == "" {
		return nil
	}
	k.mu.Lock()
	_, exists := k.tiles[userID]
	k.mu.Unlock()
	if exists {
		return nil
	}

	node := uitree.NewNode("div", "placeholder-"+userID)
	if _, err := uitree.AppendChild(k.opts.Container, node); err != nil {
		return fmt.Errorf("failed to render placeholder: %w", err)
	}

	k.mu.Lock()
	k.tiles[userID] = node
	k.mu.Unlock()
	return nil
}

// showTile swaps a participant's placeholder for its video tile
func (k *Kit) showTile(userID string) error {
	if userID == "" {
		return nil
	}
	k.mu.Lock()
	current := k.tiles[userID]
	k.mu.Unlock()

	if current != nil && current.Tag == "video" {
		return nil
	}

	tile := uitree.NewNode("video", "tile-"+userID)
	var err error
	if current == nil {
		_, err = uitree.AppendChild(k.opts.Container, tile)
	} else {
		_, err = uitree.ReplaceChild(k.opts.Container, tile, current)
	}
	if err != nil {
		return fmt.Errorf("failed to render video tile: %w", err)
	}

	k.mu.Lock()
	k.tiles[userID] = tile
	k.mu.Unlock()
	return nil
}

func (k *Kit) removeTile(userID string) error {
	k.mu.Lock()
	node := k.tiles[userID]
	delete(k.tiles, userID)
	k.mu.Unlock()

	if node == nil {
		return nil
	}
	if _, err := uitree.RemoveChild(k.opts.Container, node); err != nil {
		return fmt.Errorf("failed to remove tile: %w", err)
	}
	return nil
}

// Participants implements provider.Kit
func (k *Kit) Participants(ctx context.Context) ([]models.Participant, error) {
	k.mu.Lock()
	client := k.client
	room := k.opts.RoomID
	k.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("kit has not joined a room")
	}
	return client.ListParticipants(ctx, room)
}

// Destroy implements provider.Kit. It stops the event subscription, leaves the room on a
// best-effort basis and removes every tile it rendered.
func (k *Kit) Destroy() {
	k.mu.Lock()
	if k.destroyed {
		k.mu.Unlock()
		return
	}
	k.destroyed = true
	// A finished run may be the caller, reporting its failure through the hooks
	wait := !k.finished
	cancel := k.cancel
	done := k.done
	client := k.client
	tiles := k.tiles
	k.tiles = make(map[string]*uitree.Node)
	k.mu.Unlock()

	if cancel != nil {
		cancel()
		if wait {
			<-done
		}
	}

	if client != nil {
		ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.RemoveParticipant(ctx, k.opts.RoomID, k.opts.UserID); err != nil {
			k.log.Debug().Err(err).Msg("Leaving room failed")
		}
		stop()
	}

	for _, node := range tiles {
		if parent := node.Parent(); parent != nil {
			_, _ = uitree.RemoveChild(parent, node)
		}
	}
}
