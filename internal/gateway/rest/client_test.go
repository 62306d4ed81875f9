package rest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/avolkov/arbengine/internal/domain"
)

type staticCreds struct{}

func (staticCreds) Credentials(string) (domain.Credentials, error) {
	return domain.Credentials{Key: "k", Secret: "s"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw, err := New(Config{Exchange: "binance", BaseURL: srv.URL}, staticCreds{}, nil, testLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestOrderStatusParsesFillFields(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":"ord-1","status":"partial","filled_amount":"2.5","avg_fill_price":"101.25","fee_paid":"0.25"}`))
	})

	state, err := gw.OrderStatus(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("order status: %v", err)
	}
	if state.Status != domain.OrderStatusPartial {
		t.Fatalf("status = %s", state.Status)
	}
	if state.FilledAmount.String() != "2.5" || state.AvgFillPrice.String() != "101.25" {
		t.Fatalf("parsed fills = %s @ %s", state.FilledAmount, state.AvgFillPrice)
	}
}

func TestOrderStatusMalformedFilledAmountErrors(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":"ord-1","status":"filled","filled_amount":"garbage","avg_fill_price":"101.25"}`))
	})

	_, err := gw.OrderStatus(context.Background(), "ord-1")
	if err == nil {
		t.Fatal("malformed filled_amount must not be read as zero fill")
	}
	if !strings.Contains(err.Error(), "filled_amount") {
		t.Fatalf("error %q does not name the bad field", err)
	}
}

func TestOrderStatusOmittedFieldsAreZero(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":"ord-1","status":"open"}`))
	})

	state, err := gw.OrderStatus(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("order status: %v", err)
	}
	if !state.FilledAmount.IsZero() || !state.FeePaid.IsZero() {
		t.Fatalf("omitted fields not zero: %+v", state)
	}
}
