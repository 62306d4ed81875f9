// Package sink receives asynchronous fill confirmations from the order
// infrastructure and reconciles them against execution attempts. Every event
// is acknowledged, matched or not; an unmatched event is an operational
// anomaly, never a processing failure.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/avolkov/arbengine/internal/domain"
)

// AttemptResolver resolves an order reference to the attempt that produced
// it. Implemented by the coordinator's attempt registry.
type AttemptResolver interface {
	GetByOrderRef(orderRef string) (domain.ExecutionAttempt, error)
}

// Sink acknowledges fill events. Duplicate deliveries within the dedup window
// are acked without re-reconciling.
type Sink struct {
	resolver AttemptResolver
	dedup    *Dedup
	audit    domain.AuditStore // optional
	bus      domain.SignalBus  // optional live event mirror
	logger   *slog.Logger
}

// New creates a sink. audit and bus may be nil. dedupTTL bounds the replay
// window the sink absorbs.
func New(resolver AttemptResolver, dedupTTL time.Duration, audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *Sink {
	if dedupTTL <= 0 {
		dedupTTL = 2 * time.Minute
	}
	return &Sink{
		resolver: resolver,
		dedup:    NewDedup(dedupTTL),
		audit:    audit,
		bus:      bus,
		logger:   logger.With(slog.String("component", "event_sink")),
	}
}

// Acknowledge processes one fill event and always returns an Ack. The
// acknowledgement is what the delivery channel needs; whether the event
// matched an attempt is reported, not errored.
func (s *Sink) Acknowledge(ctx context.Context, evt domain.FillEvent) domain.Ack {
	log := s.logger.With(
		slog.String("order_ref", evt.OrderRef),
		slog.String("state", string(evt.State)),
	)

	if evt.OrderRef == "" {
		log.Warn("fill event without order ref")
		return domain.Ack{Accepted: true}
	}

	// A duplicate is the same order reference in the same state, regardless
	// of the delivery timestamp.
	key := evt.OrderRef + "|" + string(evt.State)
	if s.dedup.IsDuplicate(key) {
		log.Debug("duplicate fill event suppressed")
		return domain.Ack{Accepted: true, Duplicate: true}
	}

	attempt, err := s.resolver.GetByOrderRef(evt.OrderRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("fill event matched no attempt")
			s.auditLog(ctx, "fill_unmatched", map[string]any{
				"order_ref": evt.OrderRef,
				"state":     string(evt.State),
			})
			return domain.Ack{Accepted: true}
		}
		log.Error("attempt lookup failed", slog.String("error", err.Error()))
		return domain.Ack{Accepted: true}
	}

	log.Info("fill event reconciled",
		slog.String("attempt_id", attempt.ID),
		slog.String("filled_amount", evt.FilledAmount.String()),
	)
	s.auditLog(ctx, "fill_reconciled", map[string]any{
		"order_ref":  evt.OrderRef,
		"attempt_id": attempt.ID,
		"state":      string(evt.State),
	})
	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":      "fill",
			"order_ref":  evt.OrderRef,
			"attempt_id": attempt.ID,
			"state":      string(evt.State),
			"ts":         evt.Timestamp,
		})
		if perr := s.bus.Publish(ctx, "executions", payload); perr != nil {
			log.Warn("fill publish failed", slog.String("error", perr.Error()))
		}
	}
	return domain.Ack{Accepted: true, Matched: true, AttemptID: attempt.ID}
}

// Run garbage-collects the dedup window until ctx is done.
func (s *Sink) Run(ctx context.Context, cleanupInterval time.Duration) {
	if cleanupInterval <= 0 {
		cleanupInterval = 30 * time.Second
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dedup.Cleanup()
		}
	}
}

func (s *Sink) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
