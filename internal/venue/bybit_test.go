package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/config"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.BybitConfig{
		APIKey:     "test-key",
		APISecret:  "test-secret",
		RecvWindow: "5000",
	}, false, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.SetBaseURL(srv.URL)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func ok(result string) string {
	return `{"retCode":0,"retMsg":"OK","result":` + result + `}`
}

func TestLastPrice(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/tickers" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %s", got)
		}
		io.WriteString(w, ok(`{"list":[{"lastPrice":"65123.5"}]}`))
	}))

	price, err := c.LastPrice(context.Background(), types.CategoryLinear, "BTCUSDT")
	if err != nil {
		t.Fatalf("LastPrice: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("65123.5")) {
		t.Errorf("price = %s", price)
	}
}

func TestGetSignedSignature(t *testing.T) {
	var gotSign, gotQuery, gotTS string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSign = r.Header.Get("X-BAPI-SIGN")
		gotTS = r.Header.Get("X-BAPI-TIMESTAMP")
		gotQuery = r.URL.RawQuery
		if r.Header.Get("X-BAPI-API-KEY") != "test-key" {
			t.Errorf("api key header missing")
		}
		if r.Header.Get("X-BAPI-SIGN-TYPE") != "2" {
			t.Errorf("sign type header missing")
		}
		io.WriteString(w, ok(`{"list":[{"totalEquity":"1000"}]}`))
	}))

	if _, err := c.WalletEquity(context.Background(), "UNIFIED"); err != nil {
		t.Fatalf("WalletEquity: %v", err)
	}

	// The signature must cover the exact query string that was sent.
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(gotTS + "test-key" + "5000" + gotQuery))
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSign != want {
		t.Errorf("signature = %s, want %s (query %q)", gotSign, want, gotQuery)
	}
}

func TestPostSignedBodyBytesMatchSignature(t *testing.T) {
	var gotSign, gotTS string
	var gotBody []byte
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSign = r.Header.Get("X-BAPI-SIGN")
		gotTS = r.Header.Get("X-BAPI-TIMESTAMP")
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, ok(`{"orderId":"abc-123"}`))
	}))

	qty := decimal.RequireFromString("0.5")
	trigger := decimal.RequireFromString("64000")
	id, err := c.PlaceOrder(context.Background(), types.OrderRequest{
		Category:     types.CategoryLinear,
		Symbol:       "BTCUSDT",
		Side:         types.Buy,
		OrderType:    "Limit",
		Qty:          qty,
		Price:        decimal.RequireFromString("64010"),
		TriggerPrice: &trigger,
		TriggerDir:   types.TriggerFallsTo,
		TriggerBy:    "LastPrice",
		TimeInForce:  "GTC",
		OrderLinkID:  "BTCUSDT|Buy|1700000000",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("order id = %s", id)
	}

	// Signature over the exact body bytes that hit the wire.
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(gotTS + "test-key" + "5000" + string(gotBody)))
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSign != want {
		t.Errorf("signature does not cover sent body")
	}

	var body map[string]any
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("body not json: %v", err)
	}
	if body["triggerDirection"] != float64(2) {
		t.Errorf("triggerDirection = %v, want 2", body["triggerDirection"])
	}
	if body["qty"] != "0.5" {
		t.Errorf("qty = %v, want string \"0.5\"", body["qty"])
	}
}

func TestVenueErrorMapping(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":110007,"retMsg":"insufficient balance","result":{}}`)
	}))

	_, err := c.PlaceOrder(context.Background(), types.OrderRequest{
		Category: types.CategoryLinear, Symbol: "BTCUSDT", Side: types.Buy,
		OrderType: "Market", Qty: decimal.New(1, 0),
	})
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ve.Code != 110007 || ve.Benign() {
		t.Errorf("code = %d benign = %v", ve.Code, ve.Benign())
	}
}

func TestTradingStopNotModifiedIsBenign(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":34040,"retMsg":"not modified","result":{}}`)
	}))

	sl := decimal.RequireFromString("60000")
	err := c.SetTradingStop(context.Background(), types.TradingStop{
		Category: types.CategoryLinear,
		Symbol:   "BTCUSDT",
		StopLoss: &sl,
		TPSLMode: "Full",
	})
	if err != nil {
		t.Errorf("not-modified should be success, got %v", err)
	}
}

func TestRateLimitMapping(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := c.CancelOrder(context.Background(), types.CategoryLinear, "BTCUSDT", "oid")
	if !IsRateLimit(err) {
		t.Fatalf("err = %v, want rate limit", err)
	}
	var rl *RateLimitError
	errors.As(err, &rl)
	if rl.RetryAfter != 2*time.Second {
		t.Errorf("retry after = %s, want 2s", rl.RetryAfter)
	}
}

func TestDryRunShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	c := NewClient(config.BybitConfig{APIKey: "k", APISecret: "s", RecvWindow: "5000"},
		true, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.SetBaseURL(srv.URL)

	id, err := c.PlaceOrder(context.Background(), types.OrderRequest{
		Category: types.CategoryLinear, Symbol: "BTCUSDT", Side: types.Buy,
		OrderType: "Market", Qty: decimal.New(1, 0), OrderLinkID: "t1",
	})
	if err != nil || id == "" {
		t.Fatalf("dry-run place: id=%q err=%v", id, err)
	}
	if err := c.SetLeverage(context.Background(), types.CategoryLinear, "BTCUSDT", 5); err != nil {
		t.Fatalf("dry-run leverage: %v", err)
	}
	if called {
		t.Error("dry-run must not hit the venue")
	}
}

func TestInstrumentRules(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, ok(`{"list":[{
			"lotSizeFilter":{"qtyStep":"0.001","minOrderQty":"0.001"},
			"priceFilter":{"tickSize":"0.1"}
		}]}`))
	}))

	rules, err := c.InstrumentRules(context.Background(), types.CategoryLinear, "BTCUSDT")
	if err != nil {
		t.Fatalf("InstrumentRules: %v", err)
	}
	if !rules.TickSize.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("tick = %s", rules.TickSize)
	}
	if !rules.MinQty.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("min qty = %s", rules.MinQty)
	}
}

func TestPositionsUsesSettleCoinWhenSymbolEmpty(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("symbol") != "" {
			t.Errorf("symbol should be absent, got %q", q.Get("symbol"))
		}
		if q.Get("settleCoin") != "USDT" {
			t.Errorf("settleCoin = %q", q.Get("settleCoin"))
		}
		io.WriteString(w, ok(`{"list":[{"symbol":"ETHUSDT","side":"Sell","size":"2","avgPrice":"3000","unrealisedPnl":"-12.5"}]}`))
	}))

	positions, err := c.Positions(context.Background(), types.CategoryLinear, "", "USDT")
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Symbol != "ETHUSDT" {
		t.Errorf("positions = %+v", positions)
	}
	if !positions[0].Size.Equal(decimal.New(2, 0)) {
		t.Errorf("size = %s", positions[0].Size)
	}
}

func TestClosedPnLParsesCreatedTime(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, ok(`{"list":[{
			"symbol":"BTCUSDT","side":"Sell","closedPnl":"15.3",
			"avgEntryPrice":"64000","avgExitPrice":"64500","closedSize":"0.5",
			"createdTime":"1700000123000"
		}]}`))
	}))

	records, err := c.ClosedPnL(context.Background(), types.CategoryLinear, "BTCUSDT", time.Time{}, 10)
	if err != nil {
		t.Fatalf("ClosedPnL: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	want := time.UnixMilli(1700000123000).UTC()
	if !records[0].CreatedTime.Equal(want) {
		t.Errorf("created = %s, want %s", records[0].CreatedTime, want)
	}
}
