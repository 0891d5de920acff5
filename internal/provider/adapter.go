package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/uitree"
	"github.com/pushpaanand/teleconsult/internal/utils"
)

var errSessionGone = errors.New("session is nil or already left")

// Callbacks receive the outcome of a join and the events that follow it.
// At most one of OnJoined and OnError fires per join; OnLeft is never fired for a local Leave.
type Callbacks struct {
	OnJoined         func()
	OnError          func(err error)
	OnLeft           func(err error)
	OnLeaveRequested func()
}

// Session is the opaque handle of one provider session
type Session struct {
	id        string
	createdAt time.Time
	appID     uint32
	secret    string

	mu      sync.Mutex
	kit     Kit
	joining bool
	joined  bool
	settled bool
	left    bool
}

// ID returns the adapter-assigned session id
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Adapter wraps a Provider and keeps at most one live session
type Adapter struct {
	provider Provider
	tokenTTL time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active *Session
}

// NewAdapter creates an adapter over p
func NewAdapter(p Provider, tokenTTL time.Duration, logger zerolog.Logger) *Adapter {
	return &Adapter{
		provider: p,
		tokenTTL: tokenTTL,
		log:      logger.With().Str("component", "provider_adapter").Logger(),
		now:      time.Now,
	}
}

// CreateSession validates creds and creates a provider kit. It fails without side effects
// when the credentials are unusable or another session is still live.
func (a *Adapter) CreateSession(ctx context.Context, creds Credentials) (*Session, error) {
	appID, err := creds.Validate()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.active != nil {
		existing := a.active.id
		a.mu.Unlock()
		return nil, errorf(KindAlreadyActive, "create_session", "session %s is still live", existing)
	}
	s := &Session{
		id:        uuid.NewString(),
		createdAt: a.now(),
		appID:     appID,
		secret:    creds.ServerSecret,
	}
	a.active = s
	a.mu.Unlock()

	kit, err := a.provider.Create(ctx, KitConfig{AppID: appID, ServerSecret: creds.ServerSecret})
	if err == nil && kit == nil {
		err = errors.New("provider returned no kit")
	}
	if err != nil {
		a.release(s)
		a.log.Error().Err(err).Str("provider_session", s.id).Msg("Failed to create provider kit")
		return nil, newError(KindCreateFailed, "create_session", err)
	}

	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		a.destroy(s, kit)
		return nil, errorf(KindCreateFailed, "create_session", "session left during creation")
	}
	s.kit = kit
	s.mu.Unlock()

	a.log.Info().Str("provider_session", s.id).Uint32("app_id", appID).Msg("Provider session created")
	return s, nil
}

// Join issues an asynchronous join of appt's room, rendering into container.
// Errors are returned synchronously only when the join cannot be issued at all;
// everything else arrives through cb.
func (a *Adapter) Join(ctx context.Context, s *Session, appt models.AppointmentContext, container *uitree.Node, cb Callbacks) error {
	if s == nil {
		return newError(KindJoinFailed, "join", errSessionGone)
	}
	if err := appt.Validate(); err != nil {
		return newError(KindJoinFailed, "join", err)
	}
	if container == nil {
		return errorf(KindJoinFailed, "join", "no container to render into")
	}

	s.mu.Lock()
	switch {
	case s.left || s.kit == nil:
		s.mu.Unlock()
		return newError(KindJoinFailed, "join", errSessionGone)
	case s.joining || s.joined:
		s.mu.Unlock()
		return errorf(KindAlreadyActive, "join", "session %s already joining or joined", s.id)
	}
	s.joining = true
	kit := s.kit
	s.mu.Unlock()

	cb = cb.withDefaults()
	log := a.log.With().
		Str("provider_session", s.id).
		Str("room_id", utils.SanitizeLogString(appt.RoomID)).
		Str("user_id", utils.MaskIdentifier(appt.LocalParticipantID)).
		Logger()

	token, err := MintKitToken(s.appID, s.secret, appt, a.tokenTTL, a.now())
	if err != nil {
		a.failJoin(s, cb, log, err)
		return nil
	}

	opts := JoinOptions{
		Token:     token,
		RoomID:    appt.RoomID,
		UserID:    appt.LocalParticipantID,
		UserName:  appt.LocalDisplayName,
		Container: container,
	}
	if err := kit.JoinRoom(ctx, opts, a.hooks(s, cb, log)); err != nil {
		a.failJoin(s, cb, log, err)
		return nil
	}
	log.Info().Msg("Join issued")
	return nil
}

func (a *Adapter) hooks(s *Session, cb Callbacks, log zerolog.Logger) Hooks {
	return Hooks{
		OnJoinRoom: func() {
			s.mu.Lock()
			if s.left || s.settled {
				s.mu.Unlock()
				log.Debug().Msg("Duplicate or late join callback dropped")
				return
			}
			s.settled = true
			s.joined = true
			s.joining = false
			s.mu.Unlock()

			log.Info().Msg("Joined room")
			cb.OnJoined()
		},
		OnError: func(err error) {
			s.mu.Lock()
			if s.left {
				s.mu.Unlock()
				return
			}
			settled := s.settled
			s.mu.Unlock()

			if settled {
				a.endUnsolicited(s, cb, log, err)
				return
			}
			a.failJoin(s, cb, log, err)
		},
		OnLeaveRoom: func(err error) {
			s.mu.Lock()
			if s.left {
				s.mu.Unlock()
				return
			}
			settled := s.settled
			s.mu.Unlock()

			if !settled {
				if err == nil {
					err = errors.New("left room before join completed")
				}
				a.failJoin(s, cb, log, err)
				return
			}
			a.endUnsolicited(s, cb, log, err)
		},
		OnHangUpRequested: func() {
			// Forwarded before a join callback too: the machine may already be
			// in call after its fallback check
			s.mu.Lock()
			live := s.kit != nil && !s.left
			s.mu.Unlock()
			if !live {
				return
			}
			log.Info().Msg("Provider hang-up control intercepted")
			cb.OnLeaveRequested()
		},
	}
}

func (a *Adapter) failJoin(s *Session, cb Callbacks, log zerolog.Logger, cause error) {
	s.mu.Lock()
	if s.settled || s.left {
		s.mu.Unlock()
		return
	}
	s.settled = true
	s.joining = false
	s.mu.Unlock()

	log.Warn().Err(cause).Msg("Join failed")
	a.Leave(s)
	cb.OnError(newError(KindJoinFailed, "join", cause))
}

func (a *Adapter) endUnsolicited(s *Session, cb Callbacks, log zerolog.Logger, cause error) {
	if cause == nil {
		cause = errors.New("call ended by provider")
	}
	log.Warn().Err(cause).Msg("Provider ended the call")
	a.Leave(s)
	cb.OnLeft(cause)
}

// Leave tears the session down. It is safe to call any number of times and with nil.
func (a *Adapter) Leave(s *Session) {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	s.left = true
	s.joining = false
	kit := s.kit
	s.kit = nil
	s.mu.Unlock()

	a.release(s)
	if kit != nil {
		a.destroy(s, kit)
	}
	a.log.Info().Str("provider_session", s.id).Msg("Provider session left")
}

func (a *Adapter) destroy(s *Session, kit Kit) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Str("provider_session", s.id).Str("panic", fmt.Sprint(r)).Msg("Provider teardown panicked")
		}
	}()
	kit.Destroy()
}

func (a *Adapter) release(s *Session) {
	a.mu.Lock()
	if a.active == s {
		a.active = nil
	}
	a.mu.Unlock()
}

// IsLive reports whether s still has a provider kit behind it
func (a *Adapter) IsLive(s *Session) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kit != nil && !s.left
}

// Participants returns the provider's view of the room
func (a *Adapter) Participants(ctx context.Context, s *Session) ([]models.Participant, error) {
	if s == nil {
		return nil, errSessionGone
	}
	s.mu.Lock()
	kit := s.kit
	left := s.left
	s.mu.Unlock()
	if left || kit == nil {
		return nil, errSessionGone
	}
	return kit.Participants(ctx)
}

// Active returns the live session, if any
func (a *Adapter) Active() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (cb Callbacks) withDefaults() Callbacks {
	if cb.OnJoined == nil {
		cb.OnJoined = func() {}
	}
	if cb.OnError == nil {
		cb.OnError = func(error) {}
	}
	if cb.OnLeft == nil {
		cb.OnLeft = func(error) {}
	}
	if cb.OnLeaveRequested == nil {
		cb.OnLeaveRequested = func() {}
	}
	return cb
}
