package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/library-chat/internal/chat"
	"github.com/rickgao/library-chat/internal/model"
	"github.com/rickgao/library-chat/internal/version"
)

type sessionStatus interface {
	State() model.ConnectionState
	Stats() chat.Stats
}

// newHealthHandler creates the HTTP handler for health checks.
func newHealthHandler(s sessionStatus) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		state := s.State()

		health := struct {
			Status  string                `json:"status"`
			State   model.ConnectionState `json:"state"`
			Version version.Info          `json:"version"`
		}{
			Status:  "healthy",
			State:   state,
			Version: version.Get(),
		}

		switch state {
		case model.StateConnected:
		case model.StateConnecting, model.StateReconnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats())
	})

	return mux
}
