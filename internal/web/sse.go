// Package web pushes page session changes to the presentation layer over server-sent events
package web

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"

	"github.com/pushpaanand/teleconsult/internal/session"
	"github.com/pushpaanand/teleconsult/internal/utils"
)

// Event names published on a page session stream
const (
	EventState      = "state"
	EventRoomStatus = "room-status"
)

// SubscriberTracker is told when a page session gains or loses a subscriber
type SubscriberTracker interface {
	Attached(id string)
	Detached(id string)
}

// latest holds the newest event of each kind on a stream
type latest struct {
	state      *sse.Event
	roomStatus *sse.Event
}

// Broadcaster keeps one SSE stream per page session. Subscribers join with
// GET /events?stream={session id}. History is not replayed: a new subscriber is sent
// the current state and room status instead.
type Broadcaster struct {
	server *sse.Server
	log    zerolog.Logger

	mu      sync.Mutex
	streams map[string]*latest
	tracker SubscriberTracker
}

// NewBroadcaster creates a new broadcaster
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		log:     logger.With().Str("component", "sse").Logger(),
		streams: make(map[string]*latest),
	}
	b.server = sse.NewWithCallback(b.subscribed, b.unsubscribed)
	b.server.AutoStream = false
	b.server.AutoReplay = false
	return b
}

// TrackSubscribers reports subscriber changes to t
func (b *Broadcaster) TrackSubscribers(t SubscriberTracker) {
	b.mu.Lock()
	b.tracker = t
	b.mu.Unlock()
}

// HandleUpdate publishes a session update. It is registered as a session.UpdateCallback
// and must not block.
func (b *Broadcaster) HandleUpdate(update session.Update) {
	if update.Closed {
		b.Forget(update.SessionID)
		return
	}

	var (
		name    string
		payload any
	)
	switch {
	case update.State != nil:
		name, payload = EventState, update.State
	case update.RoomStatus != nil:
		name, payload = EventRoomStatus, update.RoomStatus
	default:
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Str("session_id", update.SessionID).Msg("Failed to encode session update")
		return
	}

	ev := &sse.Event{Event: []byte(name), Data: data}

	// Publishing under the lock keeps a resend to a new subscriber from overtaking this event
	b.mu.Lock()
	last := b.ensureStream(update.SessionID)
	if name == EventState {
		last.state = ev
	} else {
		last.roomStatus = ev
	}
	b.server.Publish(update.SessionID, ev)
	b.mu.Unlock()

	b.log.Debug().Str("session_id", update.SessionID).Str("event", name).Msg("Published session update")
}

// ensureStream must be called with b.mu held
func (b *Broadcaster) ensureStream(id string) *latest {
	if last, ok := b.streams[id]; ok {
		return last
	}
	b.server.CreateStream(id)
	last := &latest{}
	b.streams[id] = last
	return last
}

// subscribed runs once the subscriber is registered on the stream, so the resend reaches it
func (b *Broadcaster) subscribed(id string, _ *sse.Subscriber) {
	b.mu.Lock()
	tracker := b.tracker
	if last, ok := b.streams[id]; ok {
		for _, ev := range []*sse.Event{last.state, last.roomStatus} {
			if ev != nil {
				b.server.Publish(id, &sse.Event{Event: ev.Event, Data: ev.Data})
			}
		}
	}
	b.mu.Unlock()

	if tracker != nil {
		tracker.Attached(id)
	}
}

func (b *Broadcaster) unsubscribed(id string, _ *sse.Subscriber) {
	b.mu.Lock()
	tracker := b.tracker
	b.mu.Unlock()

	if tracker != nil {
		tracker.Detached(id)
	}
}

// Forget removes the stream of a closed page session and disconnects its subscribers
func (b *Broadcaster) Forget(id string) {
	b.mu.Lock()
	_, ok := b.streams[id]
	delete(b.streams, id)
	b.mu.Unlock()

	if ok {
		b.server.RemoveStream(id)
	}
}

// HasStream reports whether a page session has published anything yet
func (b *Broadcaster) HasStream(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.streams[id]
	return ok
}

// ServeHTTP implements the http.Handler interface for SSE connections
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("stream")
	if id == "" {
		http.Error(w, "stream parameter is required", http.StatusBadRequest)
		return
	}
	if !b.HasStream(id) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	// Disable nginx proxy buffering
	w.Header().Set("X-Accel-Buffering", "no")

	b.log.Info().
		Str("session_id", utils.SanitizeLogString(id)).
		Str("remote_addr", r.RemoteAddr).
		Msg("SSE client connected")
	b.server.ServeHTTP(w, r)
	b.log.Info().Str("session_id", utils.SanitizeLogString(id)).Msg("SSE client disconnected")
}

// Close disconnects every subscriber
func (b *Broadcaster) Close() {
	b.server.Close()

	b.mu.Lock()
	b.streams = make(map[string]*latest)
	b.mu.Unlock()
}
