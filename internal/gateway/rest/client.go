// Package rest implements the order gateway over an exchange's HMAC-signed
// REST trading API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/crypto"
	"github.com/avolkov/arbengine/internal/domain"
)

// Config configures a REST gateway for one exchange.
type Config struct {
	Exchange string
	BaseURL  string // API root, e.g. "https://api.exchange.example/v1"

	// RateLimit bounds outbound requests per window when a limiter is set.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Gateway places and polls orders on a single exchange. Placement is not
// idempotent and is never retried; status reads may be retried by callers.
type Gateway struct {
	cfg     Config
	auth    *crypto.HMACAuth
	limiter domain.RateLimiter // optional
	http    *http.Client
	logger  *slog.Logger
}

// New creates a gateway. Credentials are resolved once at construction so a
// misconfigured exchange fails at startup rather than on the first order.
func New(cfg Config, creds domain.CredentialProvider, limiter domain.RateLimiter, logger *slog.Logger) (*Gateway, error) {
	pair, err := creds.Credentials(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", cfg.Exchange, err)
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Second
	}
	return &Gateway{
		cfg:     cfg,
		auth:    &crypto.HMACAuth{Key: pair.Key, Secret: pair.Secret},
		limiter: limiter,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With(slog.String("component", "rest_gateway"), slog.String("exchange", cfg.Exchange)),
	}, nil
}

// Name returns the exchange identifier.
func (g *Gateway) Name() string { return g.cfg.Exchange }

type orderPayload struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Type   string `json:"type"`
}

type orderResponse struct {
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	FilledAmount string `json:"filled_amount"`
	AvgFillPrice string `json:"avg_fill_price"`
	FeePaid      string `json:"fee_paid"`
	Message      string `json:"message"`
}

// PlaceOrder submits a limit order. The ctx deadline is the only abort
// mechanism; an ambiguous outcome (timeout after send) surfaces as an error
// and the caller decides how to reconcile.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	payload := orderPayload{
		Symbol: req.Symbol,
		Side:   string(req.Side),
		Price:  req.Price.String(),
		Amount: req.Amount.String(),
		Type:   "limit",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("%s: encode order: %w", g.cfg.Exchange, err)
	}

	var resp orderResponse
	if err := g.do(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("%s: place order: %w", g.cfg.Exchange, err)
	}
	g.logger.Info("order placed",
		slog.String("order_ref", resp.OrderID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
	)
	return domain.OrderAck{OrderRef: resp.OrderID, Status: mapStatus(resp.Status)}, nil
}

// CancelOrder cancels the open remainder of an order.
func (g *Gateway) CancelOrder(ctx context.Context, orderRef string) error {
	path := "/orders/" + url.PathEscape(orderRef)
	if err := g.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("%s: cancel order %s: %w", g.cfg.Exchange, orderRef, err)
	}
	return nil
}

// OrderStatus polls the current state of an order.
func (g *Gateway) OrderStatus(ctx context.Context, orderRef string) (domain.OrderState, error) {
	path := "/orders/" + url.PathEscape(orderRef)
	var resp orderResponse
	if err := g.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return domain.OrderState{}, fmt.Errorf("%s: order status %s: %w", g.cfg.Exchange, orderRef, err)
	}
	filled, err := parseDecimal("filled_amount", resp.FilledAmount)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("%s: order status %s: %w", g.cfg.Exchange, orderRef, err)
	}
	avgPrice, err := parseDecimal("avg_fill_price", resp.AvgFillPrice)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("%s: order status %s: %w", g.cfg.Exchange, orderRef, err)
	}
	fee, err := parseDecimal("fee_paid", resp.FeePaid)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("%s: order status %s: %w", g.cfg.Exchange, orderRef, err)
	}
	return domain.OrderState{
		OrderRef:     resp.OrderID,
		Status:       mapStatus(resp.Status),
		FilledAmount: filled,
		AvgFillPrice: avgPrice,
		FeePaid:      fee,
	}, nil
}

// parseDecimal maps an omitted field to zero. A present but malformed value
// is an error: status reads are retryable, and a garbled fill amount read as
// zero would misreport a filled order as unfilled.
func parseDecimal(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", field, value, err)
	}
	return d, nil
}

func (g *Gateway) do(ctx context.Context, method, path string, body []byte, out any) error {
	if g.limiter != nil {
		ok, err := g.limiter.Allow(ctx, "gw:"+g.cfg.Exchange, g.cfg.RateLimit, g.cfg.RateLimitWindow)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		if !ok {
			return domain.ErrRateLimited
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range g.auth.SignedHeaders(method, path, string(body)) {
		req.Header.Set(k, v)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(data, 256))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "partial", "partially_filled":
		return domain.OrderStatusPartial
	case "cancelled", "canceled":
		return domain.OrderStatusCancelled
	case "rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusOpen
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ domain.OrderGateway = (*Gateway)(nil)
