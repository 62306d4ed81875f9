package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// WSConfig configures a WSConnector.
type WSConfig struct {
	// Exchange is the identifier stamped onto every quote (e.g. "binance").
	Exchange string

	// URL is the WebSocket endpoint for the exchange's ticker stream.
	URL string

	// Symbols is the list of symbols to subscribe to.
	Symbols []string

	// HandshakeTimeout bounds the WebSocket dial. Defaults to 15s.
	HandshakeTimeout time.Duration
}

// wsCommand is the subscription envelope sent after connecting.
type wsCommand struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// tickerMessage is the top-of-book update pushed by the exchange stream.
// Prices and sizes arrive as strings to avoid float truncation.
type tickerMessage struct {
	Type    string `json:"type"`
	Symbol  string `json:"symbol"`
	Bid     string `json:"bid"`
	Ask     string `json:"ask"`
	BidSize string `json:"bid_size"`
	AskSize string `json:"ask_size"`
	TsMs    int64  `json:"ts"`
}

// WSConnector streams top-of-book ticker updates from one exchange over a
// WebSocket, normalizes them, and pushes them into the sink. It reconnects
// with exponential backoff and restores subscriptions on reconnect.
type WSConnector struct {
	cfg    WSConfig
	sink   QuoteSink
	logger *slog.Logger
}

// NewWSConnector creates a connector for the given exchange stream.
func NewWSConnector(cfg WSConfig, sink QuoteSink, logger *slog.Logger) (*WSConnector, error) {
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("exchange: ws connector requires an exchange name")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("exchange: ws connector for %s requires a url", cfg.Exchange)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("exchange: ws connector for %s requires at least one symbol", cfg.Exchange)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}

	return &WSConnector{
		cfg:  cfg,
		sink: sink,
		logger: logger.With(
			slog.String("component", "ws_connector"),
			slog.String("exchange", cfg.Exchange),
		),
	}, nil
}

// Name returns the exchange identifier.
func (c *WSConnector) Name() string {
	return c.cfg.Exchange
}

// Run connects and streams until ctx is cancelled. Connection drops trigger a
// reconnect with exponential backoff; the backoff resets after the stream
// delivers a message.
func (c *WSConnector) Run(ctx context.Context) error {
	delay := reconnectDelay

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		received, err := c.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Warn("stream interrupted",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
		}

		if received {
			delay = reconnectDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// stream runs one connection lifetime: dial, subscribe, read until failure or
// cancellation. Returns whether at least one message was received.
func (c *WSConnector) stream(ctx context.Context) (received bool, err error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("connect %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := c.subscribe(conn); err != nil {
		return false, err
	}

	c.logger.Info("connected",
		slog.String("url", c.cfg.URL),
		slog.Int("symbols", len(c.cfg.Symbols)),
	)

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			conn.Close()
		case <-done:
		}
	}()

	go c.pingLoop(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("read: %w", err)
		}
		received = true
		c.handleMessage(ctx, raw)
	}
}

// subscribe sends the ticker subscription for all configured symbols.
func (c *WSConnector) subscribe(conn *websocket.Conn) error {
	cmd := wsCommand{
		Op:      "subscribe",
		Channel: "ticker",
		Symbols: c.cfg.Symbols,
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (c *WSConnector) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and forwards ticker updates to the sink.
// Unparseable or non-ticker frames are dropped.
func (c *WSConnector) handleMessage(ctx context.Context, raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "ticker" || msg.Symbol == "" {
		return
	}

	quote, err := c.normalize(msg)
	if err != nil {
		c.logger.Debug("dropping malformed ticker",
			slog.String("symbol", msg.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.sink.Ingest(ctx, quote); err != nil {
		c.logger.Debug("quote rejected",
			slog.String("symbol", quote.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

// normalize converts a wire ticker into a domain quote.
func (c *WSConnector) normalize(msg tickerMessage) (domain.PriceQuote, error) {
	bid, err := decimal.NewFromString(msg.Bid)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse bid %q: %w", msg.Bid, err)
	}
	ask, err := decimal.NewFromString(msg.Ask)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse ask %q: %w", msg.Ask, err)
	}
	bidSize, err := decimal.NewFromString(msg.BidSize)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse bid_size %q: %w", msg.BidSize, err)
	}
	askSize, err := decimal.NewFromString(msg.AskSize)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse ask_size %q: %w", msg.AskSize, err)
	}

	observedAt := time.Now().UTC()
	if msg.TsMs > 0 {
		observedAt = time.UnixMilli(msg.TsMs).UTC()
	}

	return domain.PriceQuote{
		Exchange:     c.cfg.Exchange,
		Symbol:       msg.Symbol,
		Bid:          bid,
		Ask:          ask,
		BidLiquidity: bidSize,
		AskLiquidity: askSize,
		ObservedAt:   observedAt,
	}, nil
}

// Compile-time interface check.
var _ Connector = (*WSConnector)(nil)
