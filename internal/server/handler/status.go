package handler

import (
	"net/http"
	"time"

	"github.com/avolkov/arbengine/internal/bot"
)

// StatusInfo carries the runtime snapshot sources for the status endpoint.
// Function fields may be nil when the corresponding subsystem is not running.
type StatusInfo struct {
	Mode             string
	StartedAt        time.Time
	QuoteCount       func() int
	OpportunityCount func() int
	TraderStats      func() bot.Stats
}

// StatusHandler reports engine mode, uptime, and live counters.
type StatusHandler struct {
	info StatusInfo
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(info StatusInfo) *StatusHandler {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	return &StatusHandler{info: info}
}

// Status returns the engine runtime snapshot.
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.info.Mode,
		"started_at":     h.info.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.info.StartedAt).Seconds()),
	}

	if h.info.QuoteCount != nil {
		body["quotes"] = h.info.QuoteCount()
	}
	if h.info.OpportunityCount != nil {
		body["live_opportunities"] = h.info.OpportunityCount()
	}
	if h.info.TraderStats != nil {
		body["trader"] = h.info.TraderStats()
	}

	writeJSON(w, http.StatusOK, body)
}
