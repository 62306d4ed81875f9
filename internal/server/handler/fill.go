package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/avolkov/arbengine/internal/domain"
)

// Acknowledger reconciles a fill event against known execution attempts. The
// fill sink implements this.
type Acknowledger interface {
	Acknowledge(ctx context.Context, evt domain.FillEvent) domain.Ack
}

// FillHandler exposes the fill ingress over HTTP for exchanges that deliver
// fill callbacks via webhook rather than Kafka.
type FillHandler struct {
	sink Acknowledger
}

// NewFillHandler creates a FillHandler over the given sink.
func NewFillHandler(sink Acknowledger) *FillHandler {
	return &FillHandler{sink: sink}
}

// Ack accepts one fill event and returns the reconciliation outcome. The
// response is 200 even for unmatched or duplicate events; the body carries
// the distinction.
// POST /api/fills
func (h *FillHandler) Ack(w http.ResponseWriter, r *http.Request) {
	var evt domain.FillEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid fill event payload")
		return
	}

	ack := h.sink.Acknowledge(r.Context(), evt)
	writeJSON(w, http.StatusOK, ack)
}
