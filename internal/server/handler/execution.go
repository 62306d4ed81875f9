package handler

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/executor"
)

// executionView is the API representation of an execution attempt.
type executionView struct {
	ID              string `json:"id"`
	OpportunityID   string `json:"opportunity_id"`
	Symbol          string `json:"symbol"`
	BuyExchange     string `json:"buy_exchange"`
	SellExchange    string `json:"sell_exchange"`
	State           string `json:"state"`
	BuyOrderRef     string `json:"buy_order_ref,omitempty"`
	SellOrderRef    string `json:"sell_order_ref,omitempty"`
	RequestedAmount string `json:"requested_amount"`
	FilledAmount    string `json:"filled_amount"`
	RealizedProfit  string `json:"realized_profit"`
	SlippageUSD     string `json:"slippage_usd"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
}

func toExecutionView(a domain.ExecutionAttempt) executionView {
	v := executionView{
		ID:              a.ID,
		OpportunityID:   a.OpportunityID,
		Symbol:          a.Symbol,
		BuyExchange:     a.BuyExchange,
		SellExchange:    a.SellExchange,
		State:           string(a.State),
		BuyOrderRef:     a.BuyOrderRef,
		SellOrderRef:    a.SellOrderRef,
		RequestedAmount: a.RequestedAmount.String(),
		FilledAmount:    a.FilledAmount.String(),
		RealizedProfit:  a.RealizedProfit.String(),
		SlippageUSD:     a.SlippageUSD.String(),
		Error:           a.Error,
		StartedAt:       a.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if a.CompletedAt != nil {
		v.CompletedAt = a.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// ExecutionHandler serves execution attempts and realized profit summaries.
// The in-memory attempt registry covers the current process; the store, when
// configured, covers full history.
type ExecutionHandler struct {
	attempts *executor.AttemptRegistry
	store    domain.ExecutionStore // optional
}

// NewExecutionHandler creates an ExecutionHandler. store may be nil.
func NewExecutionHandler(attempts *executor.AttemptRegistry, store domain.ExecutionStore) *ExecutionHandler {
	return &ExecutionHandler{attempts: attempts, store: store}
}

// List returns execution attempts, newest first. Reads from the store when
// available, otherwise from the in-memory registry.
// GET /api/executions
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		attempts []domain.ExecutionAttempt
		err      error
	)
	if h.store != nil {
		attempts, err = h.store.ListRecent(r.Context(), opts.Limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load executions")
			return
		}
	} else {
		attempts = h.attempts.List()
		sort.Slice(attempts, func(i, j int) bool {
			return attempts[i].StartedAt.After(attempts[j].StartedAt)
		})
		if len(attempts) > opts.Limit {
			attempts = attempts[:opts.Limit]
		}
	}

	views := make([]executionView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, toExecutionView(a))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"executions": views,
		"count":      len(views),
	})
}

// Get returns a single execution attempt by ID.
// GET /api/executions/{id}
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing execution id")
		return
	}

	attempt, err := h.attempts.Get(id)
	if err != nil && h.store != nil {
		attempt, err = h.store.GetByID(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}

	writeJSON(w, http.StatusOK, toExecutionView(attempt))
}

// Profit returns the sum of realized profit for completed executions since
// the given time (default: last 24h).
// GET /api/executions/profit
func (h *ExecutionHandler) Profit(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "execution store not configured")
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if opts := parseListOpts(r); opts.Since != nil {
		since = *opts.Since
	}

	total, err := h.store.SumRealizedProfit(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute realized profit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"realized_profit_usd": total,
		"since":               since.Format(time.RFC3339),
	})
}
