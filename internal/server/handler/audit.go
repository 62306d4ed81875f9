package handler

import (
	"net/http"
	"time"

	"github.com/avolkov/arbengine/internal/domain"
)

// auditView is the API representation of an audit entry.
type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// AuditHandler serves the append-only audit log.
type AuditHandler struct {
	store domain.AuditStore
}

// NewAuditHandler creates an AuditHandler over the given store.
func NewAuditHandler(store domain.AuditStore) *AuditHandler {
	return &AuditHandler{store: store}
}

// List returns audit entries, newest first, with optional since/until
// filtering.
// GET /api/audit
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "audit store not configured")
		return
	}

	entries, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load audit log")
		return
	}

	views := make([]auditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": views,
		"count":   len(views),
	})
}
