// Package session drives one consultation page through its lifecycle: parameter
// resolution, joining the provider room, the in-call phase and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/monitor"
	"github.com/pushpaanand/teleconsult/internal/provider"
	"github.com/pushpaanand/teleconsult/internal/resolver"
	"github.com/pushpaanand/teleconsult/internal/uitree"
)

var (
	// ErrCommandRejected is returned for a command that is not valid in the current state
	ErrCommandRejected = errors.New("command not valid in current state")
	// ErrClosed is returned for commands sent to a closed machine
	ErrClosed = errors.New("session closed")
)

// DefaultFallbackWindow bounds the wait for a join callback
const DefaultFallbackWindow = 8 * time.Second

// Resolver resolves inbound page parameters
type Resolver interface {
	Resolve(ctx context.Context, tabKey string, params url.Values) (models.AppointmentContext, error)
}

// Adapter is the provider adapter contract the machine relies on
type Adapter interface {
	CreateSession(ctx context.Context, creds provider.Credentials) (*provider.Session, error)
	Join(ctx context.Context, s *provider.Session, appt models.AppointmentContext, container *uitree.Node, cb provider.Callbacks) error
	Leave(s *provider.Session)
	IsLive(s *provider.Session) bool
	Participants(ctx context.Context, s *provider.Session) ([]models.Participant, error)
}

// Recorder keeps the outcome of ended consultations
type Recorder interface {
	Record(ctx context.Context, rec models.ConsultationRecord) error
}

// PostCallLookup finds the scripted post-call screen for a department
type PostCallLookup interface {
	Lookup(department string) (models.PostCallAction, bool)
}

// Config holds everything one machine needs
type Config struct {
	ID          string
	TabKey      string
	Params      url.Values
	Credentials provider.Credentials

	FallbackWindow time.Duration
	PollInterval   time.Duration

	Resolver Resolver
	Adapter  Adapter
	Ledger   Recorder
	PostCall PostCallLookup
	Logger   zerolog.Logger
}

// TransitionFunc observes state changes
type TransitionFunc func(prev, next models.SessionState)

// RoomStatusFunc observes room status snapshots
type RoomStatusFunc func(snapshot models.RoomStatusSnapshot)

// Machine is the session state machine of one page. All transitions run on a single
// goroutine draining an ordered mailbox, so no two transitions ever interleave.
// Observers are called on that goroutine and must not block.
type Machine struct {
	id        string
	cfg       Config
	log       zerolog.Logger
	createdAt time.Time

	// mailbox
	mu      sync.Mutex
	queue   []event
	notify  chan struct{}
	started bool
	stopped bool
	done    chan struct{}
	cancel  context.CancelFunc

	// observable state
	stateMu    sync.RWMutex
	state      models.SessionState
	appt       models.AppointmentContext
	hasAppt    bool
	roomStatus models.RoomStatusSnapshot
	hasStatus  bool

	listenersMu  sync.RWMutex
	onTransition []TransitionFunc
	onRoomStatus []RoomStatusFunc

	// owned by the machine goroutine
	ctx         context.Context
	page        *uitree.Page
	psession    *provider.Session
	attempt     int
	fallback    *time.Timer
	monitor     *monitor.Monitor
	lease       *uitree.Lease
	connectedAt time.Time
}

// NewMachine creates a machine in Loading. Nothing happens until Start.
func NewMachine(cfg Config) *Machine {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = DefaultFallbackWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = monitor.DefaultInterval
	}

	return &Machine{
		id:        cfg.ID,
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "session").Str("session_id", cfg.ID).Logger(),
		createdAt: time.Now(),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		state:     models.Loading(),
	}
}

// ID returns the page session id
func (m *Machine) ID() string {
	return m.id
}

// OnTransition registers an observer of state changes
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.listenersMu.Lock()
	m.onTransition = append(m.onTransition, fn)
	m.listenersMu.Unlock()
}

// OnRoomStatus registers an observer of room status snapshots
func (m *Machine) OnRoomStatus(fn RoomStatusFunc) {
	m.listenersMu.Lock()
	m.onRoomStatus = append(m.onRoomStatus, fn)
	m.listenersMu.Unlock()
}

// Start begins parameter resolution and event processing. Starting twice does nothing.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Unlock()

	go m.loop()
	go m.resolve(m.ctx)
}

// AttachContainer hands the page whose container the provider renders into.
// Connecting starts once both the context and the page are ready.
func (m *Machine) AttachContainer(page *uitree.Page) {
	m.enqueue(pageEvent{page: page})
}

// State returns the current state
func (m *Machine) State() models.SessionState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Appointment returns the resolved context, once resolution has succeeded
func (m *Machine) Appointment() (models.AppointmentContext, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.appt, m.hasAppt
}

// RoomStatus returns the latest snapshot published while in call
func (m *Machine) RoomStatus() (models.RoomStatusSnapshot, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.roomStatus, m.hasStatus
}

// Done is closed once the machine has shut down
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// RequestEnd opens the end-call confirmation. Valid only in call.
func (m *Machine) RequestEnd(ctx context.Context) error {
	return m.command(ctx, cmdRequestEnd)
}

// ConfirmEnd ends the call. Valid only while the confirmation is pending.
func (m *Machine) ConfirmEnd(ctx context.Context) error {
	return m.command(ctx, cmdConfirmEnd)
}

// CancelEnd dismisses the confirmation and returns to the call
func (m *Machine) CancelEnd(ctx context.Context) error {
	return m.command(ctx, cmdCancelEnd)
}

// RetryConnect creates a new provider session and joins again. Valid only after an init error.
func (m *Machine) RetryConnect(ctx context.Context) error {
	return m.command(ctx, cmdRetryConnect)
}

// Close tears the session down, as when the page unloads, and waits for the machine to stop
func (m *Machine) Close() {
	m.mu.Lock()
	started := m.started
	if !started {
		m.stopped = true
	}
	m.mu.Unlock()

	if !started {
		m.closeDone()
		return
	}
	m.enqueue(closeEvent{})
	<-m.done
}

func (m *Machine) closeDone() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func (m *Machine) command(ctx context.Context, kind commandKind) error {
	reply := make(chan error, 1)
	if !m.enqueue(commandEvent{kind: kind, reply: reply}) {
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

func (m *Machine) enqueue(ev event) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *Machine) next() (event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	ev := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return ev, true
}

func (m *Machine) loop() {
	defer m.closeDone()

	for range m.notify {
		for {
			ev, ok := m.next()
			if !ok {
				break
			}
			if m.handle(ev) {
				m.shutdown()
				return
			}
		}
	}
}

// shutdown stops the mailbox and rejects whatever was still queued
func (m *Machine) shutdown() {
	m.mu.Lock()
	m.stopped = true
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, ev := range pending {
		if cmd, ok := ev.(commandEvent); ok {
			cmd.reply <- ErrClosed
		}
	}
	m.cancel()
}

func (m *Machine) resolve(ctx context.Context) {
	appt, err := m.cfg.Resolver.Resolve(ctx, m.cfg.TabKey, m.cfg.Params)
	m.enqueue(resolvedEvent{appt: appt, err: err})
}

// handle processes one event and reports whether the machine should stop
func (m *Machine) handle(ev event) bool {
	switch e := ev.(type) {
	case resolvedEvent:
		m.handleResolved(e)
	case pageEvent:
		m.handlePage(e)
	case joinedEvent:
		m.handleJoined(e)
	case joinFailedEvent:
		m.handleJoinFailed(e)
	case leftEvent:
		m.handleLeft(e)
	case leaveRequestedEvent:
		m.handleLeaveRequested(e)
	case fallbackEvent:
		m.handleFallback(e)
	case roomStatusEvent:
		m.handleRoomStatus(e)
	case commandEvent:
		e.reply <- m.handleCommand(e.kind)
	case closeEvent:
		m.handleClose()
		return true
	default:
		m.log.Error().Str("event", fmt.Sprintf("%T", ev)).Msg("Unknown event")
	}
	return false
}

func (m *Machine) handleResolved(e resolvedEvent) {
	if m.State().Kind != models.StateLoading {
		return
	}

	if e.err != nil {
		reason := resolver.ReasonOf(e.err)
		if reason == "" {
			reason = models.DenialContextInvalid
		}
		m.log.Warn().Err(e.err).Str("reason", string(reason)).Msg("Parameter resolution failed")
		m.transition(models.AccessDenied(reason, e.err.Error()))
		return
	}

	m.stateMu.Lock()
	m.appt = e.appt
	m.hasAppt = true
	m.stateMu.Unlock()

	m.transition(models.ContextReady())
	m.connect()
}

func (m *Machine) handlePage(e pageEvent) {
	if e.page == nil || m.page != nil {
		return
	}
	m.page = e.page
	if m.State().Kind == models.StateContextReady {
		m.connect()
	}
}

// connect issues one join attempt from ContextReady or InitError
func (m *Machine) connect() {
	if m.page == nil {
		m.log.Debug().Msg("Waiting for the page container before connecting")
		return
	}

	appt, _ := m.Appointment()
	if err := appt.Validate(); err != nil {
		m.log.Warn().Err(err).Msg("Appointment context failed the re-check before connecting")
		m.transition(models.AccessDenied(models.DenialContextInvalid, err.Error()))
		m.teardown()
		return
	}

	if m.lease == nil {
		m.lease = uitree.Install(m.log)
	}

	m.attempt++
	attempt := m.attempt
	m.transition(models.Connecting())

	s, err := m.cfg.Adapter.CreateSession(m.ctx, m.cfg.Credentials)
	if err != nil {
		m.log.Error().Err(err).Int("attempt", attempt).Msg("Failed to create provider session")
		m.transition(models.InitError(err.Error(), provider.Retryable(err)))
		return
	}
	m.psession = s

	if err := m.cfg.Adapter.Join(m.ctx, s, appt, m.page.Container, m.callbacks(attempt)); err != nil {
		m.log.Error().Err(err).Int("attempt", attempt).Msg("Failed to issue join")
		m.cfg.Adapter.Leave(s)
		m.psession = nil
		m.transition(models.InitError(err.Error(), provider.Retryable(err)))
		return
	}

	m.fallback = time.AfterFunc(m.cfg.FallbackWindow, func() {
		m.enqueue(fallbackEvent{attempt: attempt})
	})
	m.log.Info().Int("attempt", attempt).Msg("Join issued")
}

func (m *Machine) callbacks(attempt int) provider.Callbacks {
	return provider.Callbacks{
		OnJoined: func() {
			m.enqueue(joinedEvent{attempt: attempt})
		},
		OnError: func(err error) {
			m.enqueue(joinFailedEvent{attempt: attempt, err: err})
		},
		OnLeft: func(err error) {
			m.enqueue(leftEvent{attempt: attempt, err: err})
		},
		OnLeaveRequested: func() {
			m.enqueue(leaveRequestedEvent{attempt: attempt})
		},
	}
}

func (m *Machine) handleJoined(e joinedEvent) {
	if e.attempt != m.attempt {
		return
	}

	switch m.State().Kind {
	case models.StateConnecting:
		m.stopFallback()
		m.enterCall()
	case models.StateInCall, models.StateLeaveConfirmPending:
		m.log.Debug().Int("attempt", e.attempt).Msg("Join confirmed after optimistic fallback")
	}
}

func (m *Machine) handleJoinFailed(e joinFailedEvent) {
	if e.attempt != m.attempt {
		return
	}

	switch m.State().Kind {
	case models.StateConnecting:
		m.stopFallback()
		m.psession = nil
		m.transition(models.InitError(e.err.Error(), provider.Retryable(e.err)))
	case models.StateInCall, models.StateLeaveConfirmPending:
		m.end(models.OutcomeErrorAborted, e.err.Error())
	}
}

func (m *Machine) handleLeft(e leftEvent) {
	if e.attempt != m.attempt {
		return
	}

	switch m.State().Kind {
	case models.StateInCall, models.StateLeaveConfirmPending:
		reason := "call ended by provider"
		if e.err != nil {
			reason = e.err.Error()
		}
		m.end(models.OutcomeErrorAborted, reason)
	}
}

func (m *Machine) handleLeaveRequested(e leaveRequestedEvent) {
	if e.attempt != m.attempt {
		return
	}
	if m.State().Kind == models.StateInCall {
		m.log.Info().Msg("Provider hang-up redirected to end-call confirmation")
		m.transition(models.LeaveConfirmPending())
	}
}

func (m *Machine) handleFallback(e fallbackEvent) {
	if e.attempt != m.attempt || m.State().Kind != models.StateConnecting {
		return
	}
	m.fallback = nil

	if m.cfg.Adapter.IsLive(m.psession) {
		m.log.Warn().Int("attempt", e.attempt).Dur("window", m.cfg.FallbackWindow).
			Msg("No join callback within window, provider session is live; assuming joined")
		m.enterCall()
		return
	}

	m.log.Warn().Int("attempt", e.attempt).Dur("window", m.cfg.FallbackWindow).Msg("Join timed out")
	m.cfg.Adapter.Leave(m.psession)
	m.psession = nil
	m.transition(models.InitError("timed out waiting to join the consultation room", true))
}

func (m *Machine) handleRoomStatus(e roomStatusEvent) {
	if m.State().Kind != models.StateInCall {
		return
	}

	m.stateMu.Lock()
	m.roomStatus = e.snapshot
	m.hasStatus = true
	m.stateMu.Unlock()

	m.listenersMu.RLock()
	listeners := append([]RoomStatusFunc(nil), m.onRoomStatus...)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(e.snapshot)
	}
}

func (m *Machine) handleCommand(kind commandKind) error {
	state := m.State()

	switch {
	case kind == cmdRequestEnd && state.Kind == models.StateInCall:
		m.transition(models.LeaveConfirmPending())
		return nil
	case kind == cmdCancelEnd && state.Kind == models.StateLeaveConfirmPending:
		m.transition(models.InCall())
		return nil
	case kind == cmdConfirmEnd && state.Kind == models.StateLeaveConfirmPending:
		m.end(models.OutcomeCompleted, "")
		return nil
	case kind == cmdRetryConnect && state.Kind == models.StateInitError:
		m.log.Info().Msg("Retrying connection")
		m.connect()
		return nil
	}

	m.log.Debug().Str("command", kind.String()).Str("state", state.Kind.String()).Msg("Command rejected")
	return fmt.Errorf("%w: %s while %s", ErrCommandRejected, kind, state.Kind)
}

func (m *Machine) handleClose() {
	switch m.State().Kind {
	case models.StateConnecting, models.StateInCall, models.StateLeaveConfirmPending:
		m.end(models.OutcomeErrorAborted, "page closed")
	default:
		m.teardown()
	}
	m.log.Info().Msg("Session closed")
}

func (m *Machine) enterCall() {
	if m.connectedAt.IsZero() {
		m.connectedAt = time.Now()
	}
	m.transition(models.InCall())
}

// end moves to Ended, tears down and, for a completed call, shows the post-call script
func (m *Machine) end(outcome models.Outcome, reason string) {
	m.transition(models.Ended(outcome, reason))
	m.teardown()
	m.record(outcome, reason)

	if outcome != models.OutcomeCompleted || m.cfg.PostCall == nil {
		return
	}
	appt, _ := m.Appointment()
	if action, ok := m.cfg.PostCall.Lookup(appt.Department); ok {
		m.transition(models.PostCall(action))
	}
}

func (m *Machine) teardown() {
	m.stopFallback()
	m.stopMonitor()

	if m.psession != nil {
		m.cfg.Adapter.Leave(m.psession)
		m.psession = nil
	}
	if m.page != nil {
		if n := m.page.ClearContainer(); n > 0 {
			m.log.Debug().Int("nodes", n).Msg("Cleared provider container")
		}
	}
	if m.lease != nil {
		m.lease.Release()
		m.lease = nil
	}
}

func (m *Machine) record(outcome models.Outcome, reason string) {
	if m.cfg.Ledger == nil {
		return
	}
	appt, _ := m.Appointment()
	started := m.connectedAt
	if started.IsZero() {
		started = m.createdAt
	}

	rec := models.ConsultationRecord{
		SessionID:     m.id,
		RoomID:        appt.RoomID,
		ParticipantID: appt.LocalParticipantID,
		Department:    appt.Department,
		Outcome:       outcome,
		Reason:        reason,
		StartedAt:     started,
		EndedAt:       time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.cfg.Ledger.Record(ctx, rec); err != nil {
		m.log.Error().Err(err).Msg("Failed to record consultation outcome")
	}
}

func (m *Machine) transition(next models.SessionState) {
	m.stateMu.Lock()
	prev := m.state
	m.state = next
	if next.Kind != models.StateInCall {
		m.hasStatus = false
		m.roomStatus = models.RoomStatusSnapshot{}
	}
	m.stateMu.Unlock()

	m.log.Info().Str("from", prev.Kind.String()).Str("to", next.Kind.String()).Msg("State transition")

	if next.Kind == models.StateInCall {
		m.startMonitor()
	} else {
		m.stopMonitor()
	}

	m.listenersMu.RLock()
	listeners := append([]TransitionFunc(nil), m.onTransition...)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(prev, next)
	}
}

func (m *Machine) startMonitor() {
	if m.monitor != nil {
		return
	}
	s := m.psession
	var container *uitree.Node
	if m.page != nil {
		container = m.page.Container
	}

	m.monitor = monitor.New(monitor.Config{
		Interval: m.cfg.PollInterval,
		Participants: func(ctx context.Context) ([]models.Participant, error) {
			return m.cfg.Adapter.Participants(ctx, s)
		},
		Container: container,
		OnSnapshot: func(snapshot models.RoomStatusSnapshot) {
			m.enqueue(roomStatusEvent{snapshot: snapshot})
		},
		Logger: m.log,
	})
	m.monitor.Start(m.ctx)
}

func (m *Machine) stopMonitor() {
	if m.monitor == nil {
		return
	}
	m.monitor.Stop()
	m.monitor = nil
}

func (m *Machine) stopFallback() {
	if m.fallback == nil {
		return
	}
	m.fallback.Stop()
	m.fallback = nil
}
