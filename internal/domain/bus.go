package domain

import (
	"context"
	"time"
)

// QuoteCache mirrors the latest quote per (exchange, symbol) for external
// consumers (dashboard, other processes). The in-process quote book remains
// the source of truth for detection.
type QuoteCache interface {
	SetQuote(ctx context.Context, quote PriceQuote) error
	GetQuote(ctx context.Context, exchange, symbol string) (PriceQuote, error)
}

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for live events and durable streams for the
// observability egress.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OpportunityArchive persists opportunity history for analysis; the live set
// lives in the in-memory registry.
type OpportunityArchive interface {
	Insert(ctx context.Context, opp ArbitrageOpportunity) error
	ListRecent(ctx context.Context, limit int) ([]ArbitrageOpportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]ArbitrageOpportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ExecutionStore persists execution attempts and their outcomes.
type ExecutionStore interface {
	Create(ctx context.Context, attempt ExecutionAttempt) error
	Update(ctx context.Context, attempt ExecutionAttempt) error
	GetByID(ctx context.Context, id string) (ExecutionAttempt, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionAttempt, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionAttempt, error)
	SumRealizedProfit(ctx context.Context, since time.Time) (float64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
