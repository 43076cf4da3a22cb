package server

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds the database probe behind /ready.
const readyTimeout = 2 * time.Second

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler is a liveness probe. It never touches dependencies.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// readyHandler reports whether the database answers. Load balancers should
// stop routing traffic while it returns 503.
func (cfg Config) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := cfg.Store.Ping(ctx); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, errorResponse{Error: "database unavailable"}, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready"})
}
