package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pushpaanand/teleconsult/internal/api"
	"github.com/pushpaanand/teleconsult/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockStore) GetRoomStatus(ctx context.Context, sessionID string) (models.RoomStatusSnapshot, error) {
	args := m.Called(sessionID)
	return args.Get(0).(models.RoomStatusSnapshot), args.Error(1)
}

func decodeHealth(t *testing.T, rr *httptest.ResponseRecorder) api.HealthResponse {
	t.Helper()
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var response api.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	return response
}

func TestHealthLive(t *testing.T) {
	handler := api.NewHealthHandler(nil, zerolog.Nop())

	rr := httptest.NewRecorder()
	handler.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "UP", decodeHealth(t, rr).Status)
}

func TestHealthReady(t *testing.T) {
	t.Run("store reachable", func(t *testing.T) {
		store := &mockStore{}
		store.On("Ping").Return(nil)

		rr := httptest.NewRecorder()
		api.NewHealthHandler(store, zerolog.Nop()).Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "UP", decodeHealth(t, rr).Status)
		store.AssertExpectations(t)
	})

	t.Run("store down", func(t *testing.T) {
		store := &mockStore{}
		store.On("Ping").Return(errors.New("connection refused"))

		rr := httptest.NewRecorder()
		api.NewHealthHandler(store, zerolog.Nop()).Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		response := decodeHealth(t, rr)
		assert.Equal(t, "DOWN", response.Status)
		assert.Equal(t, "connection refused", response.Error)
	})

	t.Run("no store", func(t *testing.T) {
		rr := httptest.NewRecorder()
		api.NewHealthHandler(nil, zerolog.Nop()).Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
