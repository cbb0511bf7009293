package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves liveness checks.
type HealthHandler struct {
	DB  Pinger
	Log *zap.Logger
}

// Healthz answers 200 when the database responds within two seconds.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.PingContext(ctx); err != nil {
		h.Log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, envelope{"success": false, "message": "database unavailable"})
		return
	}
	writeOK(w, http.StatusOK, "ok", nil)
}
