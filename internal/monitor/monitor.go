// Package monitor polls the provider for who is in the room while a call is live
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/uitree"
)

// DefaultInterval is used when Config.Interval is not positive
const DefaultInterval = 2 * time.Second

var errNoSource = errors.New("no participant source available")

// Config wires a Monitor to what it observes
type Config struct {
	Interval time.Duration
	// Participants reads the provider's structured participant list
	Participants func(ctx context.Context) ([]models.Participant, error)
	// Container is inspected for video elements when structured data is unavailable
	Container *uitree.Node
	// OnSnapshot receives every successfully computed snapshot
	OnSnapshot func(models.RoomStatusSnapshot)
	Logger     zerolog.Logger
}

// Monitor is a read-only observer of room membership. Failed polls keep the previous
// snapshot and are never reported to the caller.
type Monitor struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu      sync.Mutex
	latest  models.RoomStatusSnapshot
	hasData bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped monitor
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Monitor{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "room_monitor").Logger(),
		now: time.Now,
	}
}

// Start polls once immediately and then every interval until Stop or ctx is done.
// Starting a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
}

// Stop halts polling and waits for an in-flight poll to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the monitor is polling
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// Latest returns the last good snapshot, if any poll has succeeded
func (m *Monitor) Latest() (models.RoomStatusSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.hasData
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, m.cfg.Interval)
	defer cancel()

	snapshot, err := m.read(pollCtx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.Debug().Err(err).Msg("Room status poll failed, keeping previous snapshot")
		return
	}

	m.mu.Lock()
	m.latest = snapshot
	m.hasData = true
	m.mu.Unlock()

	if m.cfg.OnSnapshot != nil {
		m.cfg.OnSnapshot(snapshot)
	}
}

func (m *Monitor) read(ctx context.Context) (models.RoomStatusSnapshot, error) {
	var sourceErr error
	if m.cfg.Participants != nil {
		participants, err := m.cfg.Participants(ctx)
		// An empty list means the provider has no roster yet; the local tile is a better count
		if err == nil && (len(participants) > 0 || m.cfg.Container == nil) {
			return models.SnapshotFromParticipants(participants, m.now()), nil
		}
		sourceErr = err
	}

	if m.cfg.Container == nil {
		if sourceErr == nil {
			sourceErr = errNoSource
		}
		return models.RoomStatusSnapshot{}, sourceErr
	}

	return models.RoomStatusSnapshot{
		ParticipantCount: m.cfg.Container.CountTag("video"),
		ParticipantNames: []string{},
		Source:           models.SourceMediaElements,
		PolledAt:         m.now(),
	}, nil
}
