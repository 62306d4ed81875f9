package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mapResolver map[string]domain.ExecutionAttempt

func (m mapResolver) GetByOrderRef(orderRef string) (domain.ExecutionAttempt, error) {
	a, ok := m[orderRef]
	if !ok {
		return domain.ExecutionAttempt{}, fmt.Errorf("order ref %s: %w", orderRef, domain.ErrNotFound)
	}
	return a, nil
}

func fill(ref string, state domain.FillState) domain.FillEvent {
	return domain.FillEvent{
		OrderRef:     ref,
		State:        state,
		FilledAmount: decimal.NewFromInt(5),
		Timestamp:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAcknowledgeMatchesAttempt(t *testing.T) {
	resolver := mapResolver{"binance-1": {ID: "attempt-1"}}
	s := New(resolver, time.Minute, nil, nil, testLogger())

	ack := s.Acknowledge(context.Background(), fill("binance-1", domain.FillStateFilled))
	if !ack.Accepted || !ack.Matched {
		t.Fatalf("expected accepted+matched, got %+v", ack)
	}
	if ack.AttemptID != "attempt-1" {
		t.Fatalf("expected attempt-1, got %q", ack.AttemptID)
	}
}

func TestAcknowledgeUnmatchedStillAcked(t *testing.T) {
	s := New(mapResolver{}, time.Minute, nil, nil, testLogger())

	ack := s.Acknowledge(context.Background(), fill("ghost-9", domain.FillStateFilled))
	if !ack.Accepted {
		t.Fatal("unmatched event must still be acknowledged")
	}
	if ack.Matched {
		t.Fatal("event must not report a match")
	}
}

func TestAcknowledgeSuppressesDuplicates(t *testing.T) {
	resolver := mapResolver{"okx-7": {ID: "attempt-2"}}
	s := New(resolver, time.Minute, nil, nil, testLogger())
	ctx := context.Background()
	evt := fill("okx-7", domain.FillStateFilled)

	first := s.Acknowledge(ctx, evt)
	if first.Duplicate {
		t.Fatal("first delivery flagged duplicate")
	}
	second := s.Acknowledge(ctx, evt)
	if !second.Accepted || !second.Duplicate {
		t.Fatalf("redelivery must be acked as duplicate, got %+v", second)
	}
}

func TestAcknowledgeDuplicateWithFreshTimestamp(t *testing.T) {
	resolver := mapResolver{"okx-7": {ID: "attempt-2"}}
	s := New(resolver, time.Minute, nil, nil, testLogger())
	ctx := context.Background()

	s.Acknowledge(ctx, fill("okx-7", domain.FillStateFilled))

	// Re-emission of the same ref+state carries a new delivery timestamp;
	// it is still the same event.
	replay := fill("okx-7", domain.FillStateFilled)
	replay.Timestamp = replay.Timestamp.Add(3 * time.Second)
	ack := s.Acknowledge(ctx, replay)
	if !ack.Accepted || !ack.Duplicate {
		t.Fatalf("re-emitted event must be acked as duplicate, got %+v", ack)
	}
}

func TestAcknowledgeDistinctStatesAreNotDuplicates(t *testing.T) {
	resolver := mapResolver{"okx-7": {ID: "attempt-2"}}
	s := New(resolver, time.Minute, nil, nil, testLogger())
	ctx := context.Background()

	s.Acknowledge(ctx, fill("okx-7", domain.FillStatePartial))
	ack := s.Acknowledge(ctx, fill("okx-7", domain.FillStateFilled))
	if ack.Duplicate {
		t.Fatal("state transition for the same order is a new event")
	}
	if !ack.Matched {
		t.Fatal("expected a match")
	}
}

func TestAcknowledgeEmptyOrderRef(t *testing.T) {
	s := New(mapResolver{}, time.Minute, nil, nil, testLogger())

	ack := s.Acknowledge(context.Background(), fill("", domain.FillStateRejected))
	if !ack.Accepted || ack.Matched {
		t.Fatalf("malformed event must be acked unmatched, got %+v", ack)
	}
}
