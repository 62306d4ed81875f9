// Package notify delivers operator alerts for execution outcomes that need a
// human: stranded inventory after a failed sell leg and attempts that closed
// at a loss. Alerts fan out to every configured channel; a channel failure is
// logged and never reaches the trading path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event classifies an alert. The config can restrict a deployment to a subset
// of events so operators receive only the alerts they act on.
type Event string

const (
	// EventStranded fires when a sell leg fails after the buy leg filled and
	// the bought inventory is held on the buy venue awaiting manual disposal.
	EventStranded Event = "stranded"
	// EventLoss fires when an attempt completes with negative realized profit.
	EventLoss Event = "negative_profit"
)

// Alert is one operator notification about an execution outcome.
type Alert struct {
	Event Event
	Title string
	Body  string
}

// Sender delivers alerts over one channel.
type Sender interface {
	// Send delivers the alert. Formatting is channel-specific.
	Send(ctx context.Context, alert Alert) error
	// Name returns the channel identifier (e.g. "telegram").
	Name() string
}

// Notifier fans alerts out to the configured senders, subject to an event
// filter built from config.
type Notifier struct {
	senders []Sender
	events  map[Event]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only alerts
// whose event appears in events are forwarded; an empty list allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		allowed[Event(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to every sender. A filtered event is not an
// error; a sender failure is collected but does not block the other senders.
func (n *Notifier) Notify(ctx context.Context, alert Alert) error {
	if len(n.events) > 0 && !n.events[alert.Event] {
		n.logger.DebugContext(ctx, "alert filtered out",
			slog.String("event", string(alert.Event)),
		)
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(alert.Event)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "alert sent",
				slog.String("sender", s.Name()),
				slog.String("event", string(alert.Event)),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
