package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is satisfied by the sqlite store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and whether the store answers.
type HealthHandler struct {
	store   Pinger
	version string
	logger  *slog.Logger
}

func NewHealthHandler(store Pinger, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, version: version, logger: logger}
}

// HandleHealth answers 200 {"status":"ok"} or 503 {"status":"degraded"}.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check: store ping failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "version": h.version})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}
