package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks one backing service (Redis, PostgreSQL, S3).
type Pinger func(ctx context.Context) error

// HealthHandler reports process liveness and backing-service health.
type HealthHandler struct {
	pingers map[string]Pinger
}

// NewHealthHandler creates a HealthHandler. The pingers map may be nil or
// empty; the endpoint then only reports process liveness.
func NewHealthHandler(pingers map[string]Pinger) *HealthHandler {
	return &HealthHandler{pingers: pingers}
}

// HealthCheck responds with the status of each registered dependency.
// Returns 503 when any dependency check fails.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.pingers))
	healthy := true

	for name, ping := range h.pingers {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
