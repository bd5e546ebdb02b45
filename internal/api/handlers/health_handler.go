package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rxlabels/labelhub/internal/api/response"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	pinger Pinger
}

// NewHealthHandler creates a new health handler. pinger may be nil (memory stores).
func NewHealthHandler(pinger Pinger) *HealthHandler {
	return &HealthHandler{pinger: pinger}
}

const healthPingTimeout = 2 * time.Second

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		if err := h.pinger.Ping(ctx); err != nil {
			slog.WarnContext(r.Context(), "health: database ping failed", "error", err)
			response.RespondServiceUnavailable(w, "database unreachable")

			return
		}
	}

	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}
