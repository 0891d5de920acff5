package session

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/provider"
	"github.com/pushpaanand/teleconsult/internal/uitree"
	"github.com/pushpaanand/teleconsult/internal/utils"
)

// ErrShuttingDown is returned by Open once Shutdown has begun
var ErrShuttingDown = errors.New("session manager is shutting down")

// Update is pushed to registered callbacks whenever a page session changes.
// At most one of State and RoomStatus is set; Closed marks the session's removal.
type Update struct {
	SessionID  string
	State      *models.SessionState
	RoomStatus *models.RoomStatusSnapshot
	Closed     bool
}

// UpdateCallback is a function type for session update callbacks
type UpdateCallback func(Update)

// RoomStatusStore persists the latest room status of each page session
type RoomStatusStore interface {
	SaveRoomStatus(ctx context.Context, sessionID string, snapshot models.RoomStatusSnapshot) error
	DeleteRoomStatus(ctx context.Context, sessionID string) error
}

// ManagerConfig holds what the manager passes on to every machine
type ManagerConfig struct {
	Credentials    provider.Credentials
	FallbackWindow time.Duration
	PollInterval   time.Duration
	// Retention is how long a terminal page session, or one nobody is watching, is kept
	// before it is closed. Zero disables reaping.
	Retention time.Duration

	Resolver Resolver
	// NewAdapter returns a fresh adapter for each page session
	NewAdapter func() Adapter
	Store      RoomStatusStore
	Ledger     Recorder
	PostCall   PostCallLookup
	Logger     zerolog.Logger
}

// Summary is the listing view of one page session
type Summary struct {
	ID        string           `json:"id"`
	Kind      models.StateKind `json:"kind"`
	RoomID    string           `json:"room_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type entry struct {
	machine   *Machine
	createdAt time.Time

	// guarded by Manager.mu
	subscribers int
	idleSince   time.Time
	endedAt     time.Time
}

// Manager owns every open page session
type Manager struct {
	cfg ManagerConfig
	log zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
	closing  bool

	stopReaper chan struct{}
	reaperDone chan struct{}
	stopOnce   sync.Once

	callbacksMu     sync.RWMutex
	updateCallbacks []UpdateCallback
}

// NewManager creates a new Manager
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		cfg:             cfg,
		log:             cfg.Logger.With().Str("component", "session_manager").Logger(),
		sessions:        make(map[string]*entry),
		updateCallbacks: make([]UpdateCallback, 0),
		stopReaper:      make(chan struct{}),
		reaperDone:      make(chan struct{}),
	}
	if cfg.Retention > 0 {
		go m.reapLoop()
	} else {
		close(m.reaperDone)
	}
	return m
}

// RegisterUpdateCallback registers a callback function to be called when a session changes
func (m *Manager) RegisterUpdateCallback(callback UpdateCallback) {
	m.callbacksMu.Lock()
	m.updateCallbacks = append(m.updateCallbacks, callback)
	m.callbacksMu.Unlock()
}

// notifyUpdate calls all registered callbacks with the update
func (m *Manager) notifyUpdate(update Update) {
	m.callbacksMu.RLock()
	callbacks := append([]UpdateCallback(nil), m.updateCallbacks...)
	m.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		callback(update)
	}
}

// Open starts a page session for one page load. tabKey identifies the browser tab so a
// reload can reuse earlier parameter resolution.
func (m *Manager) Open(ctx context.Context, tabKey string, params url.Values) (*Machine, error) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}

	id := uuid.NewString()
	machine := NewMachine(Config{
		ID:             id,
		TabKey:         tabKey,
		Params:         params,
		Credentials:    m.cfg.Credentials,
		FallbackWindow: m.cfg.FallbackWindow,
		PollInterval:   m.cfg.PollInterval,
		Resolver:       m.cfg.Resolver,
		Adapter:        m.cfg.NewAdapter(),
		Ledger:         m.cfg.Ledger,
		PostCall:       m.cfg.PostCall,
		Logger:         m.cfg.Logger,
	})
	now := time.Now()
	m.sessions[id] = &entry{machine: machine, createdAt: now, idleSince: now}
	m.mu.Unlock()

	machine.OnTransition(func(prev, next models.SessionState) {
		if next.Kind.Terminal() {
			m.markEnded(id)
		}
		state := next
		m.notifyUpdate(Update{SessionID: id, State: &state})
	})
	machine.OnRoomStatus(func(snapshot models.RoomStatusSnapshot) {
		m.saveRoomStatus(id, snapshot)
		m.notifyUpdate(Update{SessionID: id, RoomStatus: &snapshot})
	})

	machine.Start(ctx)
	machine.AttachContainer(uitree.NewPage())

	m.log.Info().
		Str("session_id", id).
		Str("tab", utils.SanitizeLogString(tabKey)).
		Msg("Page session opened")
	return machine, nil
}

func (m *Manager) saveRoomStatus(id string, snapshot models.RoomStatusSnapshot) {
	if m.cfg.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.cfg.Store.SaveRoomStatus(ctx, id, snapshot); err != nil {
		m.log.Warn().Err(err).Str("session_id", id).Msg("Failed to store room status")
	}
}

// Get returns an open page session
func (m *Manager) Get(id string) (*Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return e.machine, nil
}

// List returns all open page sessions, oldest first
func (m *Manager) List() []Summary {
	m.mu.RLock()
	summaries := make([]Summary, 0, len(m.sessions))
	for id, e := range m.sessions {
		appt, _ := e.machine.Appointment()
		summaries = append(summaries, Summary{
			ID:        id,
			Kind:      e.machine.State().Kind,
			RoomID:    appt.RoomID,
			CreatedAt: e.createdAt,
		})
	}
	m.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Close tears down one page session and forgets it
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return models.ErrNotFound
	}
	e.machine.Close()

	if m.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.cfg.Store.DeleteRoomStatus(ctx, id); err != nil {
			m.log.Warn().Err(err).Str("session_id", id).Msg("Failed to delete room status")
		}
	}

	m.notifyUpdate(Update{SessionID: id, Closed: true})
	m.log.Info().Str("session_id", id).Msg("Page session closed")
	return nil
}

// Shutdown closes every page session and refuses new ones
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopReaper) })
	<-m.reaperDone

	m.mu.Lock()
	m.closing = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = m.Close(id)
		}(id)
	}
	wg.Wait()
	m.log.Info().Int("sessions", len(ids)).Msg("All page sessions closed")
}

func (m *Manager) markEnded(id string) {
	m.mu.Lock()
	if e, ok := m.sessions[id]; ok && e.endedAt.IsZero() {
		e.endedAt = time.Now()
	}
	m.mu.Unlock()
}

// Attached records a subscriber to a page session's updates
func (m *Manager) Attached(id string) {
	m.mu.Lock()
	if e, ok := m.sessions[id]; ok {
		e.subscribers++
	}
	m.mu.Unlock()
}

// Detached records that a subscriber went away. A session left without subscribers
// is closed once Retention passes.
func (m *Manager) Detached(id string) {
	m.mu.Lock()
	if e, ok := m.sessions[id]; ok && e.subscribers > 0 {
		e.subscribers--
		if e.subscribers == 0 {
			e.idleSince = time.Now()
		}
	}
	m.mu.Unlock()
}

func (m *Manager) reapLoop() {
	defer close(m.reaperDone)

	interval := m.cfg.Retention / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopReaper:
			return
		case now := <-ticker.C:
			m.reap(now)
		}
	}
}

// reap closes page sessions that ended, or lost every subscriber, more than Retention ago
func (m *Manager) reap(now time.Time) int {
	m.mu.RLock()
	var expired []string
	for id, e := range m.sessions {
		switch {
		case !e.endedAt.IsZero() && now.Sub(e.endedAt) >= m.cfg.Retention:
			expired = append(expired, id)
		case e.subscribers == 0 && now.Sub(e.idleSince) >= m.cfg.Retention:
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	reaped := 0
	for _, id := range expired {
		if err := m.Close(id); err == nil {
			reaped++
			m.log.Info().Str("session_id", id).Msg("Reaped page session")
		}
	}
	return reaped
}
