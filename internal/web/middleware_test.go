package web

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestHTTPProtocolMiddleware(t *testing.T) {
	handler := HTTPProtocolMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("DisablesHTTP3Globally", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

		assert.Equal(t, "clear", rec.Header().Get("Alt-Svc"))
		assert.Empty(t, rec.Header().Get("X-Force-HTTP1"))
	})

	t.Run("AddsStreamHeadersForEvents", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?stream=s1", nil))

		assert.Equal(t, "clear", rec.Header().Get("Alt-Svc"))
		assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
		assert.Equal(t, "true", rec.Header().Get("X-Force-HTTP1"))
	})
}

func TestWrap_LogsRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	var buf bytes.Buffer
	handler := Wrap(mux, zerolog.New(&buf).Level(zerolog.DebugLevel))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "clear", rec.Header().Get("Alt-Svc"))
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/teapot"`)
}
