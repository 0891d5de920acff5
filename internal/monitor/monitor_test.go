package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/uitree"
)

type source struct {
	mu           sync.Mutex
	participants []models.Participant
	err          error
	calls        atomic.Int32
}

func (s *source) read(ctx context.Context) ([]models.Participant, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.participants, nil
}

func (s *source) set(err error, ps ...models.Participant) {
	s.mu.Lock()
	s.err = err
	s.participants = ps
	s.mu.Unlock()
}

type collector struct {
	mu        sync.Mutex
	snapshots []models.RoomStatusSnapshot
}

func (c *collector) add(s models.RoomStatusSnapshot) {
	c.mu.Lock()
	c.snapshots = append(c.snapshots, s)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshots)
}

func TestMonitor_ImmediatePollFromProvider(t *testing.T) {
	src := &source{}
	src.set(nil, models.Participant{ID: "U1", Name: "Jane"}, models.Participant{ID: "D1"})
	col := &collector{}

	m := New(Config{Interval: time.Hour, Participants: src.read, OnSnapshot: col.add, Logger: zerolog.Nop()})
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return col.count() == 1 }, time.Second, 5*time.Millisecond)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, 2, latest.ParticipantCount)
	assert.Equal(t, []string{"Jane", "D1"}, latest.ParticipantNames)
	assert.Equal(t, models.SourceProvider, latest.Source)
	assert.False(t, latest.PolledAt.IsZero())
}

func TestMonitor_FallsBackToMediaElements(t *testing.T) {
	src := &source{}
	src.set(errors.New("participant list unavailable"))

	container := uitree.NewNode("div", uitree.ContainerID)
	_, _ = uitree.AppendChild(container, uitree.NewNode("video", "tile-U1"))
	_, _ = uitree.AppendChild(container, uitree.NewNode("video", "tile-D1"))
	_, _ = uitree.AppendChild(container, uitree.NewNode("div", "placeholder-X"))

	m := New(Config{Interval: time.Hour, Participants: src.read, Container: container, Logger: zerolog.Nop()})
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { _, ok := m.Latest(); return ok }, time.Second, 5*time.Millisecond)
	latest, _ := m.Latest()
	assert.Equal(t, 2, latest.ParticipantCount)
	assert.Empty(t, latest.ParticipantNames)
	assert.Equal(t, models.SourceMediaElements, latest.Source)
}

func TestMonitor_EmptyRosterCountsMediaElements(t *testing.T) {
	src := &source{}
	container := uitree.NewNode("div", uitree.ContainerID)
	_, _ = uitree.AppendChild(container, uitree.NewNode("video", "tile-U1"))

	m := New(Config{Interval: time.Hour, Participants: src.read, Container: container, Logger: zerolog.Nop()})
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { _, ok := m.Latest(); return ok }, time.Second, 5*time.Millisecond)
	latest, _ := m.Latest()
	assert.Equal(t, 1, latest.ParticipantCount)
	assert.Equal(t, models.SourceMediaElements, latest.Source)
}

func TestMonitor_FailedPollKeepsPreviousSnapshot(t *testing.T) {
	src := &source{}
	src.set(nil, models.Participant{ID: "U1", Name: "Jane"})
	col := &collector{}

	m := New(Config{Interval: 10 * time.Millisecond, Participants: src.read, OnSnapshot: col.add, Logger: zerolog.Nop()})
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return col.count() >= 1 }, time.Second, 5*time.Millisecond)

	src.set(errors.New("timeout"))
	published := col.count()
	calls := src.calls.Load()
	require.Eventually(t, func() bool { return src.calls.Load() >= calls+3 }, time.Second, 5*time.Millisecond)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, 1, latest.ParticipantCount)
	assert.LessOrEqual(t, col.count(), published+1, "failed polls publish nothing")

	// Recovers on the next good poll
	src.set(nil, models.Participant{ID: "U1"}, models.Participant{ID: "D1"})
	require.Eventually(t, func() bool {
		latest, _ := m.Latest()
		return latest.ParticipantCount == 2
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_NoSourceAtAll(t *testing.T) {
	m := New(Config{Interval: 10 * time.Millisecond, Logger: zerolog.Nop()})
	m.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	_, ok := m.Latest()
	assert.False(t, ok)
}

func TestMonitor_StopHaltsPolling(t *testing.T) {
	src := &source{}
	m := New(Config{Interval: 5 * time.Millisecond, Participants: src.read, Logger: zerolog.Nop()})

	m.Start(context.Background())
	m.Start(context.Background())
	assert.True(t, m.Running())
	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, time.Second, time.Millisecond)

	m.Stop()
	assert.False(t, m.Running())
	calls := src.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.calls.Load())

	// Stop is idempotent and a stopped monitor can be started again
	m.Stop()
	m.Start(context.Background())
	require.Eventually(t, func() bool { return src.calls.Load() > calls }, time.Second, time.Millisecond)
	m.Stop()
}

func TestNew_DefaultInterval(t *testing.T) {
	m := New(Config{})
	assert.Equal(t, DefaultInterval, m.cfg.Interval)
}
