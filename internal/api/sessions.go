package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/session"
	"github.com/pushpaanand/teleconsult/internal/utils"
)

// TabHeader identifies the browser tab of a page load, so a reload can reuse its parameters
const TabHeader = "X-Tab-ID"

// SessionResponse is the JSON view of one page session
type SessionResponse struct {
	ID          string                     `json:"id"`
	State       models.SessionState        `json:"state"`
	Appointment *models.AppointmentContext `json:"appointment,omitempty"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Error string               `json:"error"`
	State *models.SessionState `json:"state,omitempty"`
}

// SessionHandler handles the page session endpoints
type SessionHandler struct {
	sessions SessionManager
	status   RoomStatusReader
	streams  StreamCloser
	log      zerolog.Logger
}

// NewSessionHandler creates a new session handler. status and streams may be nil.
func NewSessionHandler(sessions SessionManager, status RoomStatusReader, streams StreamCloser, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		status:   status,
		streams:  streams,
		log:      logger.With().Str("component", "api").Logger(),
	}
}

// Register adds the session routes to mux
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.open)
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.close)
	mux.HandleFunc("GET /api/sessions/{id}/room-status", h.roomStatus)
	mux.HandleFunc("POST /api/sessions/{id}/end", h.command((*session.Machine).RequestEnd))
	mux.HandleFunc("POST /api/sessions/{id}/end/confirm", h.command((*session.Machine).ConfirmEnd))
	mux.HandleFunc("POST /api/sessions/{id}/end/cancel", h.command((*session.Machine).CancelEnd))
	mux.HandleFunc("POST /api/sessions/{id}/retry", h.command((*session.Machine).RetryConnect))
}

// open handles POST /api/sessions?{inbound parameters}
func (h *SessionHandler) open(w http.ResponseWriter, r *http.Request) {
	tab := r.Header.Get(TabHeader)

	// The page session outlives this request
	m, err := h.sessions.Open(context.WithoutCancel(r.Context()), tab, r.URL.Query())
	if err != nil {
		if errors.Is(err, session.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
			return
		}
		h.log.Error().Err(err).Msg("Error opening page session")
		writeError(w, http.StatusInternalServerError, "error opening page session", nil)
		return
	}

	writeJSON(w, http.StatusCreated, SessionResponse{ID: m.ID(), State: m.State()})
}

// list handles GET /api/sessions
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

// get handles GET /api/sessions/{id}
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	resp := SessionResponse{ID: m.ID(), State: m.State()}
	if appt, ok := m.Appointment(); ok {
		resp.Appointment = &appt
	}
	writeJSON(w, http.StatusOK, resp)
}

// close handles DELETE /api/sessions/{id}, as sent when the page unloads
func (h *SessionHandler) close(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Close(id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found", nil)
			return
		}
		h.log.Error().Err(err).Str("session_id", id).Msg("Error closing page session")
		writeError(w, http.StatusInternalServerError, "error closing page session", nil)
		return
	}
	if h.streams != nil {
		h.streams.Forget(id)
	}

	writeJSON(w, http.StatusOK, SessionResponse{ID: id, State: m.State()})
}

// roomStatus handles GET /api/sessions/{id}/room-status. The stored snapshot is preferred;
// the machine's own copy covers a store that lost it.
func (h *SessionHandler) roomStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if m.State().Kind == models.StateInCall && h.status != nil {
		snapshot, err := h.status.GetRoomStatus(r.Context(), m.ID())
		if err == nil {
			writeJSON(w, http.StatusOK, snapshot)
			return
		}
		if !errors.Is(err, models.ErrNotFound) {
			h.log.Warn().Err(err).Str("session_id", m.ID()).Msg("Error reading stored room status")
		}
	}

	snapshot, ok := m.RoomStatus()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *SessionHandler) command(run func(*session.Machine, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := h.lookup(w, r)
		if !ok {
			return
		}

		err := run(m, r.Context())
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, SessionResponse{ID: m.ID(), State: m.State()})
		case errors.Is(err, session.ErrCommandRejected):
			state := m.State()
			writeError(w, http.StatusConflict, err.Error(), &state)
		case errors.Is(err, session.ErrClosed):
			writeError(w, http.StatusGone, err.Error(), nil)
		default:
			h.log.Error().Err(err).Str("session_id", m.ID()).Str("path", r.URL.Path).Msg("Error running session command")
			writeError(w, http.StatusInternalServerError, "error running session command", nil)
		}
	}
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Machine, bool) {
	id := r.PathValue("id")
	m, err := h.sessions.Get(id)
	if err != nil {
		h.log.Debug().Str("session_id", utils.SanitizeLogString(id)).Msg("Unknown page session")
		writeError(w, http.StatusNotFound, "session not found", nil)
		return nil, false
	}
	return m, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, state *models.SessionState) {
	writeJSON(w, status, ErrorResponse{Error: msg, State: state})
}
