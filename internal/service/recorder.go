// Package service contains the observability egress: everything the engine
// emits about detections and executions flows through the Recorder, which
// fans out to the signal bus, the history stores, and operator alerts.
// Failures here never affect detection or execution.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/notify"
	"github.com/avolkov/arbengine/internal/registry"
)

// Recorder publishes opportunity and execution events. Every dependency is
// optional; a nil dependency simply skips that egress.
type Recorder struct {
	bus      domain.SignalBus
	archive  domain.OpportunityArchive
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewRecorder creates a Recorder. Any of bus, archive, audit, notifier may be
// nil.
func NewRecorder(
	bus domain.SignalBus,
	archive domain.OpportunityArchive,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Recorder {
	return &Recorder{
		bus:      bus,
		archive:  archive,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "recorder")),
	}
}

// Pump consumes registry lifecycle events until ctx is done or the channel
// closes.
func (r *Recorder) Pump(ctx context.Context, events <-chan registry.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			r.recordOpportunity(ctx, evt)
		}
	}
}

func (r *Recorder) recordOpportunity(ctx context.Context, evt registry.Event) {
	opp := evt.Opportunity

	if r.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":         "opportunity_" + evt.Kind,
			"id":            opp.ID,
			"symbol":        opp.Symbol,
			"buy_exchange":  opp.BuyExchange,
			"sell_exchange": opp.SellExchange,
			"spread":        opp.Spread,
			"spread_pct":    opp.SpreadPct,
			"net_profit":    opp.NetProfit,
			"risk_level":    string(opp.RiskLevel),
			"ts":            evt.At,
		})
		if err := r.bus.Publish(ctx, "opportunities", payload); err != nil {
			r.logger.Warn("opportunity publish failed", slog.String("error", err.Error()))
		}
		if err := r.bus.StreamAppend(ctx, "stream:opportunities", payload); err != nil {
			r.logger.Warn("opportunity stream append failed", slog.String("error", err.Error()))
		}
	}

	// Only fresh detections land in history; claims and expiries are audit
	// events, not new rows.
	if r.archive != nil && (evt.Kind == "created" || evt.Kind == "updated") {
		if err := r.archive.Insert(ctx, opp); err != nil {
			r.logger.Warn("opportunity archive failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.audit != nil && (evt.Kind == "claimed" || evt.Kind == "expired") {
		if err := r.audit.Log(ctx, "opportunity."+evt.Kind, map[string]any{
			"opportunity_id": opp.ID,
			"symbol":         opp.Symbol,
			"pair_key":       opp.PairKey(),
		}); err != nil {
			r.logger.Warn("opportunity audit failed", slog.String("error", err.Error()))
		}
	}
}

// RecordExecution publishes a finished attempt and alerts operators on the
// outcomes that need a human: stranded positions and realized losses.
func (r *Recorder) RecordExecution(ctx context.Context, attempt domain.ExecutionAttempt) {
	if r.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":           "execution_" + string(attempt.State),
			"attempt_id":      attempt.ID,
			"opportunity_id":  attempt.OpportunityID,
			"symbol":          attempt.Symbol,
			"state":           string(attempt.State),
			"filled_amount":   attempt.FilledAmount,
			"realized_profit": attempt.RealizedProfit,
			"slippage_usd":    attempt.SlippageUSD,
		})
		if err := r.bus.Publish(ctx, "executions", payload); err != nil {
			r.logger.Warn("execution publish failed", slog.String("error", err.Error()))
		}
		if err := r.bus.StreamAppend(ctx, "stream:executions", payload); err != nil {
			r.logger.Warn("execution stream append failed", slog.String("error", err.Error()))
		}
	}

	if r.audit != nil {
		if err := r.audit.Log(ctx, "execution."+string(attempt.State), map[string]any{
			"attempt_id":      attempt.ID,
			"opportunity_id":  attempt.OpportunityID,
			"symbol":          attempt.Symbol,
			"realized_profit": attempt.RealizedProfit.String(),
			"error":           attempt.Error,
		}); err != nil {
			r.logger.Warn("execution audit failed", slog.String("error", err.Error()))
		}
	}

	if r.notifier == nil {
		return
	}
	switch {
	case attempt.State == domain.ExecStranded:
		alert := notify.Alert{
			Event: notify.EventStranded,
			Title: "Stranded position",
			Body: fmt.Sprintf("Holding %s %s on %s after sell leg failed (attempt %s). Manual intervention required.",
				attempt.FilledAmount.String(), attempt.Symbol, attempt.BuyExchange, attempt.ID),
		}
		if err := r.notifier.Notify(ctx, alert); err != nil {
			r.logger.Warn("stranded notification failed", slog.String("error", err.Error()))
		}
	case attempt.State == domain.ExecCompleted && attempt.RealizedProfit.Sign() < 0:
		alert := notify.Alert{
			Event: notify.EventLoss,
			Title: "Execution closed at a loss",
			Body: fmt.Sprintf("Attempt %s on %s completed with realized profit %s USD.",
				attempt.ID, attempt.Symbol, attempt.RealizedProfit.String()),
		}
		if err := r.notifier.Notify(ctx, alert); err != nil {
			r.logger.Warn("loss notification failed", slog.String("error", err.Error()))
		}
	}
}
