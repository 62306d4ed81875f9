package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether an order buys or sells the base asset.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks an order at the exchange.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderRequest is the engine's exchange-agnostic order shape.
type OrderRequest struct {
	Symbol string
	Side   OrderSide
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// OrderAck is the immediate response to order placement.
type OrderAck struct {
	OrderRef string
	Status   OrderStatus
}

// OrderState is a point-in-time view of an order, returned by status polls.
type OrderState struct {
	OrderRef     string
	Status       OrderStatus
	FilledAmount decimal.Decimal
	AvgFillPrice decimal.Decimal
	FeePaid      decimal.Decimal
}

// OrderGateway is the engine's only dependency on an exchange's trading API:
// place, cancel, and poll. One implementation per exchange, selected by static
// configuration. PlaceOrder and CancelOrder are NOT idempotent and are never
// retried by the engine; OrderStatus is a read and may be retried freely.
type OrderGateway interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, orderRef string) error
	OrderStatus(ctx context.Context, orderRef string) (OrderState, error)
}

// Credentials is an opaque per-exchange API credential pair. Never logged.
type Credentials struct {
	Key    string
	Secret string
}

// CredentialProvider resolves credentials for an exchange.
type CredentialProvider interface {
	Credentials(exchange string) (Credentials, error)
}

// GasEstimator supplies the on-chain settlement cost folded into net profit.
type GasEstimator interface {
	EstimateGasFeeUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// LockManager provides mutual exclusion keyed by string. Acquire returns
// ErrLockHeld without blocking when the key is already locked.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter bounds outbound request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
