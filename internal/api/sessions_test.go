package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushpaanand/teleconsult/internal/api"
	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/provider"
	"github.com/pushpaanand/teleconsult/internal/provider/providertest"
	"github.com/pushpaanand/teleconsult/internal/repository/memory"
	"github.com/pushpaanand/teleconsult/internal/resolver"
	"github.com/pushpaanand/teleconsult/internal/session"
	"github.com/pushpaanand/teleconsult/internal/web"
)

type testServer struct {
	handler http.Handler
	manager *session.Manager
	events  *web.Broadcaster
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewRepository(time.Hour, time.Hour)
	events := web.NewBroadcaster(zerolog.Nop())
	manager := session.NewManager(session.ManagerConfig{
		Credentials:  provider.Credentials{AppID: "1234", ServerSecret: "secret"},
		PollInterval: 10 * time.Millisecond,
		Resolver:     resolver.New(nil, store, zerolog.Nop()),
		NewAdapter: func() session.Adapter {
			return provider.NewAdapter(providertest.New(), time.Hour, zerolog.Nop())
		},
		Store:  store,
		Logger: zerolog.Nop(),
	})
	manager.RegisterUpdateCallback(events.HandleUpdate)
	t.Cleanup(func() {
		manager.Shutdown()
		events.Close()
	})

	mux := api.SetupRoutes(api.Dependencies{
		Sessions: manager,
		Store:    store,
		Events:   events,
		Logger:   zerolog.Nop(),
	})
	return &testServer{handler: mux, manager: manager, events: events}
}

func (s *testServer) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(api.TabHeader, "tab-1")
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) api.SessionResponse {
	t.Helper()
	var resp api.SessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func (s *testServer) openInCall(t *testing.T) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/sessions?app_no=A1&username=Jane&userid=U1")
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeSession(t, rr).ID
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		rr := s.do(t, http.MethodGet, "/api/sessions/"+id)
		return rr.Code == http.StatusOK && decodeSession(t, rr).State.Kind == models.StateInCall
	}, 2*time.Second, 5*time.Millisecond)
	return id
}

func TestOpenAndGetSession(t *testing.T) {
	s := newTestServer(t)
	id := s.openInCall(t)

	rr := s.do(t, http.MethodGet, "/api/sessions/"+id)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	resp := decodeSession(t, rr)
	require.NotNil(t, resp.Appointment)
	assert.Equal(t, "ROOM_A1", resp.Appointment.RoomID)
	assert.Equal(t, "Jane", resp.Appointment.LocalDisplayName)
	assert.True(t, s.events.HasStream(id))
}

func TestOpenWithoutParametersIsDenied(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/sessions")
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeSession(t, rr).ID

	require.Eventually(t, func() bool {
		return decodeSession(t, s.do(t, http.MethodGet, "/api/sessions/"+id)).State.Kind == models.StateAccessDenied
	}, 2*time.Second, 5*time.Millisecond)

	var body map[string]any
	require.NoError(t, json.Unmarshal(s.do(t, http.MethodGet, "/api/sessions/"+id).Body.Bytes(), &body))
	state := body["state"].(map[string]any)
	assert.Equal(t, "missing_parameters", state["reason"])
	assert.Equal(t, models.RemediationMessage, state["remediation"])
	assert.Nil(t, body["appointment"])
}

func TestEndCallCommands(t *testing.T) {
	s := newTestServer(t)
	id := s.openInCall(t)
	base := "/api/sessions/" + id

	rr := s.do(t, http.MethodPost, base+"/end")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StateLeaveConfirmPending, decodeSession(t, rr).State.Kind)

	rr = s.do(t, http.MethodPost, base+"/end/cancel")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StateInCall, decodeSession(t, rr).State.Kind)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/end").Code)
	rr = s.do(t, http.MethodPost, base+"/end/confirm")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StateEnded, decodeSession(t, rr).State.Kind)
}

func TestRejectedCommandReturnsConflict(t *testing.T) {
	s := newTestServer(t)
	id := s.openInCall(t)

	for _, path := range []string{"/end/confirm", "/end/cancel", "/retry"} {
		rr := s.do(t, http.MethodPost, "/api/sessions/"+id+path)
		assert.Equal(t, http.StatusConflict, rr.Code, path)

		var resp struct {
			Error string         `json:"error"`
			State map[string]any `json:"state"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Contains(t, resp.Error, "not valid")
		assert.Equal(t, "in_call", resp.State["kind"])
	}
}

func TestUnknownSessionReturnsNotFound(t *testing.T) {
	s := newTestServer(t)

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/nope"},
		{http.MethodDelete, "/api/sessions/nope"},
		{http.MethodGet, "/api/sessions/nope/room-status"},
		{http.MethodPost, "/api/sessions/nope/end"},
	} {
		rr := s.do(t, req.method, req.path)
		assert.Equal(t, http.StatusNotFound, rr.Code, req.path)
	}
}

func TestRoomStatus(t *testing.T) {
	s := newTestServer(t)
	id := s.openInCall(t)

	var snapshot models.RoomStatusSnapshot
	require.Eventually(t, func() bool {
		rr := s.do(t, http.MethodGet, "/api/sessions/"+id+"/room-status")
		if rr.Code != http.StatusOK {
			return false
		}
		return json.Unmarshal(rr.Body.Bytes(), &snapshot) == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, snapshot.ParticipantCount)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/sessions/"+id+"/end").Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodGet, "/api/sessions/"+id+"/room-status").Code)
}

func TestListAndCloseSessions(t *testing.T) {
	s := newTestServer(t)
	id := s.openInCall(t)

	rr := s.do(t, http.MethodGet, "/api/sessions")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
	assert.Equal(t, "in_call", list[0]["kind"])

	rr = s.do(t, http.MethodDelete, "/api/sessions/"+id)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StateEnded, decodeSession(t, rr).State.Kind)
	assert.False(t, s.events.HasStream(id))

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/sessions/"+id).Code)
}

func TestOpenAfterShutdown(t *testing.T) {
	s := newTestServer(t)
	s.manager.Shutdown()

	rr := s.do(t, http.MethodPost, "/api/sessions?app_no=A1&username=Jane&userid=U1")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestEventsRouteIsMounted(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/events?stream=unknown")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
