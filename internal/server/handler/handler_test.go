package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/bot"
	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/executor"
	"github.com/avolkov/arbengine/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func opportunity(netProfit int64) domain.ArbitrageOpportunity {
	now := time.Now().UTC()
	return domain.ArbitrageOpportunity{
		ID:            uuid.New().String(),
		Symbol:        "BTC-USD",
		BuyExchange:   "binance",
		SellExchange:  "okx",
		BuyPrice:      decimal.NewFromInt(100),
		SellPrice:     decimal.NewFromInt(102),
		Spread:        decimal.NewFromInt(2),
		SpreadPct:     decimal.NewFromFloat(0.02),
		NetProfit:     decimal.NewFromInt(netProfit),
		RiskLevel:     domain.RiskLow,
		LiquidityBuy:  decimal.NewFromInt(5),
		LiquiditySell: decimal.NewFromInt(5),
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Minute),
	}
}

func TestOpportunityListLive(t *testing.T) {
	reg := registry.New(testLogger())
	reg.Upsert(opportunity(10))
	reg.Upsert(opportunity(5))

	h := NewOpportunityHandler(reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/opportunities", nil)
	rec := httptest.NewRecorder()
	h.ListLive(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Opportunities []opportunityView `json:"opportunities"`
		Count         int               `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	if body.Opportunities[0].NetProfit != "10" {
		t.Fatalf("first net_profit = %s, want 10 (sorted desc)", body.Opportunities[0].NetProfit)
	}
}

func TestOpportunityHistoryNotConfigured(t *testing.T) {
	h := NewOpportunityHandler(registry.New(testLogger()), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/opportunities/history", nil)
	rec := httptest.NewRecorder()
	h.History(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestExecutionListFromAttemptRegistry(t *testing.T) {
	attempts := executor.NewAttemptRegistry()
	now := time.Now().UTC()
	attempts.Put(domain.ExecutionAttempt{
		ID:        "older",
		State:     domain.ExecCompleted,
		StartedAt: now.Add(-time.Minute),
	})
	attempts.Put(domain.ExecutionAttempt{
		ID:        "newer",
		State:     domain.ExecCompleted,
		StartedAt: now,
	})

	h := NewExecutionHandler(attempts, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/executions", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Executions []executionView `json:"executions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Executions) != 2 {
		t.Fatalf("got %d executions, want 2", len(body.Executions))
	}
	if body.Executions[0].ID != "newer" {
		t.Fatalf("first execution = %s, want newer", body.Executions[0].ID)
	}
}

func TestExecutionGetNotFound(t *testing.T) {
	h := NewExecutionHandler(executor.NewAttemptRegistry(), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/executions/{id}", h.Get)

	req := httptest.NewRequest(http.MethodGet, "/api/executions/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

type fakeAcknowledger struct {
	last domain.FillEvent
}

func (f *fakeAcknowledger) Acknowledge(_ context.Context, evt domain.FillEvent) domain.Ack {
	f.last = evt
	return domain.Ack{Accepted: true, Matched: true, AttemptID: "attempt-1"}
}

func TestFillAck(t *testing.T) {
	sink := &fakeAcknowledger{}
	h := NewFillHandler(sink)

	payload := `{"order_ref":"ord-1","state":"filled","filled_amount":"2.5","timestamp":"2026-08-01T12:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/fills", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Ack(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var ack domain.Ack
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Accepted || !ack.Matched || ack.AttemptID != "attempt-1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if sink.last.OrderRef != "ord-1" {
		t.Fatalf("sink received order_ref %q, want ord-1", sink.last.OrderRef)
	}
}

func TestFillAckRejectsBadPayload(t *testing.T) {
	h := NewFillHandler(&fakeAcknowledger{})

	req := httptest.NewRequest(http.MethodPost, "/api/fills", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.Ack(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatusSnapshot(t *testing.T) {
	h := NewStatusHandler(StatusInfo{
		Mode:             "paper",
		StartedAt:        time.Now().UTC().Add(-time.Minute),
		QuoteCount:       func() int { return 12 },
		OpportunityCount: func() int { return 3 },
		TraderStats:      func() bot.Stats { return bot.Stats{Dispatched: 7} },
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["mode"] != "paper" {
		t.Fatalf("mode = %v, want paper", body["mode"])
	}
	if body["quotes"].(float64) != 12 {
		t.Fatalf("quotes = %v, want 12", body["quotes"])
	}
	if body["uptime_seconds"].(float64) < 59 {
		t.Fatalf("uptime_seconds = %v, want >= 59", body["uptime_seconds"])
	}
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/api/audit?limit=9999&offset=10&since=2026-08-01T00:00:00Z", nil)

	opts := parseListOpts(req)
	if opts.Limit != 500 {
		t.Fatalf("limit = %d, want clamped to 500", opts.Limit)
	}
	if opts.Offset != 10 {
		t.Fatalf("offset = %d, want 10", opts.Offset)
	}
	if opts.Since == nil || !opts.Since.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("since = %v, want 2026-08-01", opts.Since)
	}
}
