package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type fakeSender struct {
	name string
	sent []Alert
	err  error
}

func (f *fakeSender) Send(_ context.Context, alert Alert) error {
	f.sent = append(f.sent, alert)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFansOutToAllSenders(t *testing.T) {
	a := &fakeSender{name: "telegram"}
	b := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{a, b}, nil, testLogger())

	alert := Alert{Event: EventStranded, Title: "Stranded position", Body: "Holding 5 BTC-USD on binance."}
	if err := n.Notify(context.Background(), alert); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("expected 1 delivery per sender, got %d/%d", len(a.sent), len(b.sent))
	}
	if a.sent[0].Event != EventStranded {
		t.Fatalf("event = %q, want %q", a.sent[0].Event, EventStranded)
	}
}

func TestNotifyFiltersDisallowedEvents(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{string(EventStranded)}, testLogger())
	ctx := context.Background()

	if err := n.Notify(ctx, Alert{Event: EventLoss, Title: "Execution closed at a loss"}); err != nil {
		t.Fatalf("filtered notify: %v", err)
	}
	if len(s.sent) != 0 {
		t.Fatal("loss alert delivered despite filter")
	}

	if err := n.Notify(ctx, Alert{Event: EventStranded, Title: "Stranded position"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(s.sent))
	}
}

func TestNotifySenderFailureDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: errors.New("api down")}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), Alert{Event: EventLoss, Title: "Execution closed at a loss"})
	if err == nil {
		t.Fatal("expected combined error from failing sender")
	}
	if !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("error %q does not name the failing sender", err)
	}
	if len(good.sent) != 1 {
		t.Fatal("healthy sender skipped after a sibling failure")
	}
}
