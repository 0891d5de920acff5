package api

import (
	"net/http"

	"github.com/rs/zerolog"
)

// Dependencies are the collaborators the HTTP surface is built from
type Dependencies struct {
	Sessions SessionManager
	// Store backs the readiness probe and the room status endpoint; optional
	Store interface {
		Pinger
		RoomStatusReader
	}
	// Events serves GET /events; optional
	Events interface {
		http.Handler
		StreamCloser
	}
	Logger zerolog.Logger
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(deps Dependencies) *http.ServeMux {
	mux := http.NewServeMux()

	var (
		pinger  Pinger
		status  RoomStatusReader
		streams StreamCloser
	)
	if deps.Store != nil {
		pinger, status = deps.Store, deps.Store
	}
	if deps.Events != nil {
		streams = deps.Events
		mux.Handle("/events", deps.Events)
	}

	// Health check endpoints for Kubernetes
	health := NewHealthHandler(pinger, deps.Logger)
	mux.HandleFunc("GET /health/live", health.Live)
	mux.HandleFunc("GET /health/ready", health.Ready)

	NewSessionHandler(deps.Sessions, status, streams, deps.Logger).Register(mux)

	return mux
}
