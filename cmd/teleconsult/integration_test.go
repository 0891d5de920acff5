package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushpaanand/teleconsult/internal/api"
	"github.com/pushpaanand/teleconsult/internal/config"
	"github.com/pushpaanand/teleconsult/internal/ledger"
	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/provider/httpkit"
)

// fakeRoomService stands in for the hosted room service the httpkit provider talks to
type fakeRoomService struct {
	events *sse.Server

	mu           sync.Mutex
	participants map[string]string
	removed      []string
}

func newFakeRoomService(t *testing.T) (*fakeRoomService, *httptest.Server) {
	t.Helper()

	svc := &fakeRoomService{events: sse.New(), participants: make(map[string]string)}
	svc.events.AutoStream = false

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rooms/{room}/participants", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID   string `json:"user_id"`
			UserName string `json:"user_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		svc.mu.Lock()
		svc.participants[body.UserID] = body.UserName
		svc.mu.Unlock()

		stream := "stream-" + body.UserID
		svc.events.CreateStream(stream)
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": stream})
	})
	mux.HandleFunc("GET /rooms/{room}/participants", func(w http.ResponseWriter, r *http.Request) {
		type participant struct {
			UserID   string `json:"user_id"`
			UserName string `json:"user_name"`
		}
		var resp struct {
			Participants []participant `json:"participants"`
		}
		svc.mu.Lock()
		for id, name := range svc.participants {
			resp.Participants = append(resp.Participants, participant{UserID: id, UserName: name})
		}
		svc.mu.Unlock()
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("DELETE /rooms/{room}/participants/{user}", func(w http.ResponseWriter, r *http.Request) {
		svc.mu.Lock()
		delete(svc.participants, r.PathValue("user"))
		svc.removed = append(svc.removed, r.PathValue("user"))
		svc.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /rooms/{room}/events", svc.events.ServeHTTP)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		svc.events.Close()
		srv.Close()
	})
	return svc, srv
}

func (s *fakeRoomService) joined(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[userID]
	return ok
}

func (s *fakeRoomService) removedParticipants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}

func (s *fakeRoomService) streamReady(t *testing.T, userID string) {
	t.Helper()
	data, err := json.Marshal(httpkit.RoomEvent{UserID: userID})
	require.NoError(t, err)
	s.events.Publish("stream-"+userID, &sse.Event{Event: []byte(httpkit.EventStreamReady), Data: data})
}

func testConfig(t *testing.T, roomURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{Port: "0"},
		Provider: config.ProviderConfig{AppID: "1234", ServerSecret: "secret", BaseURL: roomURL, TokenTTL: time.Hour},
		Decrypt:  config.DecryptConfig{URL: "http://127.0.0.1:1/api/decrypt", Timeout: time.Second},
		Session:  config.SessionConfig{JoinFallbackWindow: 5 * time.Second, PollInterval: 20 * time.Millisecond},
		Redis:    config.RedisConfig{PageCacheTTL: time.Hour, RoomStatusTTL: time.Minute},
		Ledger:   config.LedgerConfig{Path: filepath.Join(t.TempDir(), "ledger.db")},
	}
}

type client struct {
	t    *testing.T
	base string
}

func (c client) call(method, path string, out any) int {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, nil)
	require.NoError(c.t, err)
	req.Header.Set(api.TabHeader, "tab-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (c client) state(id string) models.StateKind {
	c.t.Helper()
	var resp api.SessionResponse
	if c.call(http.MethodGet, "/api/sessions/"+id, &resp) != http.StatusOK {
		return -1
	}
	return resp.State.Kind
}

func TestConsultationEndToEnd(t *testing.T) {
	room, roomSrv := newFakeRoomService(t)
	cfg := testConfig(t, roomSrv.URL)

	app, err := newApplication(cfg, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(app.handler)
	t.Cleanup(func() {
		app.shutdown()
		srv.Close()
	})
	c := client{t: t, base: srv.URL}

	// Page load
	var opened api.SessionResponse
	require.Equal(t, http.StatusCreated, c.call(http.MethodPost, "/api/sessions?app_no=A1&username=Jane&userid=U1&department=ENT", &opened))
	id := opened.ID

	// The kit registers with the room, then waits for its stream
	require.Eventually(t, func() bool { return room.joined("U1") }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.StateConnecting, c.state(id))

	// The presentation layer follows the session over SSE
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	stateEvents := make(chan models.SessionState, 16)
	go func() {
		_ = sse.NewClient(srv.URL+"/events").SubscribeWithContext(ctx, id, func(msg *sse.Event) {
			if string(msg.Event) != "state" {
				return
			}
			var state models.SessionState
			if json.Unmarshal(msg.Data, &state) == nil {
				stateEvents <- state
			}
		})
	}()

	room.streamReady(t, "U1")
	require.Eventually(t, func() bool { return c.state(id) == models.StateInCall }, 5*time.Second, 10*time.Millisecond)

	seen := map[models.StateKind]bool{}
	require.Eventually(t, func() bool {
		for {
			select {
			case s := <-stateEvents:
				seen[s.Kind] = true
			default:
				return seen[models.StateInCall]
			}
		}
	}, 5*time.Second, 10*time.Millisecond)

	// Room status comes from the service's participant list
	var status models.RoomStatusSnapshot
	require.Eventually(t, func() bool {
		return c.call(http.MethodGet, "/api/sessions/"+id+"/room-status", &status) == http.StatusOK &&
			status.ParticipantCount == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Jane"}, status.ParticipantNames)
	assert.Equal(t, models.SourceProvider, status.Source)

	// End the call through the confirmation
	var resp api.SessionResponse
	require.Equal(t, http.StatusOK, c.call(http.MethodPost, "/api/sessions/"+id+"/end", &resp))
	require.Equal(t, http.StatusOK, c.call(http.MethodPost, "/api/sessions/"+id+"/end/confirm", &resp))
	assert.Equal(t, models.StateEnded, resp.State.Kind)
	assert.Equal(t, models.OutcomeCompleted, resp.State.Outcome)
	assert.Equal(t, []string{"U1"}, room.removedParticipants())

	app.shutdown()

	l, err := ledger.Open(cfg.Ledger.Path)
	require.NoError(t, err)
	defer l.Close()
	records, err := l.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].SessionID)
	assert.Equal(t, "ROOM_A1", records[0].RoomID)
	assert.Equal(t, "ENT", records[0].Department)
	assert.Equal(t, models.OutcomeCompleted, records[0].Outcome)
}

func TestConsultationRoomClosedByService(t *testing.T) {
	room, roomSrv := newFakeRoomService(t)
	cfg := testConfig(t, roomSrv.URL)

	app, err := newApplication(cfg, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(app.handler)
	t.Cleanup(func() {
		app.shutdown()
		srv.Close()
	})
	c := client{t: t, base: srv.URL}

	var opened api.SessionResponse
	require.Equal(t, http.StatusCreated, c.call(http.MethodPost, "/api/sessions?app_no=A9&username=Ravi&userid=U9", &opened))
	require.Eventually(t, func() bool { return room.joined("U9") }, 5*time.Second, 10*time.Millisecond)

	room.streamReady(t, "U9")
	require.Eventually(t, func() bool { return c.state(opened.ID) == models.StateInCall }, 5*time.Second, 10*time.Millisecond)

	room.events.Publish("stream-U9", &sse.Event{Event: []byte(httpkit.EventRoomClosed), Data: []byte(`{}`)})
	require.Eventually(t, func() bool { return c.state(opened.ID) == models.StateEnded }, 5*time.Second, 10*time.Millisecond)

	var resp api.SessionResponse
	require.Equal(t, http.StatusOK, c.call(http.MethodGet, "/api/sessions/"+opened.ID, &resp))
	assert.Equal(t, models.OutcomeErrorAborted, resp.State.Outcome)
}

func TestConsultationReapedAfterPageDisconnects(t *testing.T) {
	room, roomSrv := newFakeRoomService(t)
	cfg := testConfig(t, roomSrv.URL)
	cfg.Session.Retention = 500 * time.Millisecond

	app, err := newApplication(cfg, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(app.handler)
	t.Cleanup(func() {
		app.shutdown()
		srv.Close()
	})
	c := client{t: t, base: srv.URL}

	var opened api.SessionResponse
	require.Equal(t, http.StatusCreated, c.call(http.MethodPost, "/api/sessions?app_no=A3&username=Mira&userid=U3", &opened))
	// The stream exists once the first state is published
	require.Eventually(t, func() bool { return c.state(opened.ID) > models.StateLoading }, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	connected := make(chan struct{}, 1)
	go func() {
		_ = sse.NewClient(srv.URL+"/events").SubscribeWithContext(ctx, opened.ID, func(msg *sse.Event) {
			select {
			case connected <- struct{}{}:
			default:
			}
		})
	}()
	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("page never received its current state")
	}

	require.Eventually(t, func() bool { return room.joined("U3") }, 5*time.Second, 10*time.Millisecond)
	room.streamReady(t, "U3")
	require.Eventually(t, func() bool { return c.state(opened.ID) == models.StateInCall }, 5*time.Second, 10*time.Millisecond)

	// A watched call outlives the retention
	time.Sleep(time.Second)
	assert.Equal(t, models.StateInCall, c.state(opened.ID))

	// The tab goes away without closing its session
	cancel()
	require.Eventually(t, func() bool {
		return c.call(http.MethodGet, "/api/sessions/"+opened.ID, nil) == http.StatusNotFound
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"U3"}, room.removedParticipants())
}

func TestNewApplication_BadPostCallScripts(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Session.PostCallScripts = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := newApplication(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "post-call scripts")
}
