package handler

import (
	"net/http"
	"time"

	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/registry"
)

// opportunityView is the API representation of an opportunity. Decimal fields
// are serialized as strings to preserve precision.
type opportunityView struct {
	ID               string `json:"id"`
	Symbol           string `json:"symbol"`
	BuyExchange      string `json:"buy_exchange"`
	SellExchange     string `json:"sell_exchange"`
	BuyPrice         string `json:"buy_price"`
	SellPrice        string `json:"sell_price"`
	Spread           string `json:"spread"`
	SpreadPct        string `json:"spread_pct"`
	NetProfit        string `json:"net_profit"`
	RiskLevel        string `json:"risk_level"`
	LiquidityBuy     string `json:"liquidity_buy"`
	LiquiditySell    string `json:"liquidity_sell"`
	GasFeeEstimate   string `json:"gas_fee_estimate"`
	ExecTimeEstimate string `json:"exec_time_estimate"`
	CreatedAt        string `json:"created_at"`
	ExpiresAt        string `json:"expires_at"`
}

func toOpportunityView(o domain.ArbitrageOpportunity) opportunityView {
	return opportunityView{
		ID:               o.ID,
		Symbol:           o.Symbol,
		BuyExchange:      o.BuyExchange,
		SellExchange:     o.SellExchange,
		BuyPrice:         o.BuyPrice.String(),
		SellPrice:        o.SellPrice.String(),
		Spread:           o.Spread.String(),
		SpreadPct:        o.SpreadPct.String(),
		NetProfit:        o.NetProfit.String(),
		RiskLevel:        string(o.RiskLevel),
		LiquidityBuy:     o.LiquidityBuy.String(),
		LiquiditySell:    o.LiquiditySell.String(),
		GasFeeEstimate:   o.GasFeeEstimate.String(),
		ExecTimeEstimate: o.ExecTimeEstimate.String(),
		CreatedAt:        o.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:        o.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

// OpportunityHandler serves the live opportunity set and the persisted
// history.
type OpportunityHandler struct {
	registry *registry.Registry
	archive  domain.OpportunityArchive // optional
}

// NewOpportunityHandler creates an OpportunityHandler. archive may be nil
// when no history store is configured.
func NewOpportunityHandler(reg *registry.Registry, archive domain.OpportunityArchive) *OpportunityHandler {
	return &OpportunityHandler{registry: reg, archive: archive}
}

// ListLive returns the current unclaimed, unexpired opportunities ordered by
// net profit descending.
// GET /api/opportunities
func (h *OpportunityHandler) ListLive(w http.ResponseWriter, r *http.Request) {
	opps := h.registry.List()

	views := make([]opportunityView, 0, len(opps))
	for _, o := range opps {
		views = append(views, toOpportunityView(o))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": views,
		"count":         len(views),
	})
}

// History returns persisted opportunity history, newest first.
// GET /api/opportunities/history
func (h *OpportunityHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotImplemented, "opportunity history store not configured")
		return
	}

	opts := parseListOpts(r)
	opps, err := h.archive.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load opportunity history")
		return
	}

	views := make([]opportunityView, 0, len(opps))
	for _, o := range opps {
		views = append(views, toOpportunityView(o))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": views,
		"count":         len(views),
	})
}
