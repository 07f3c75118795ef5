// Package venue implements the Bybit v5 REST and private WebSocket clients.
//
// The REST client (Client) covers the endpoints the executor needs:
//   - LastPrice:       GET  /v5/market/tickers
//   - InstrumentRules: GET  /v5/market/instruments-info
//   - WalletEquity:    GET  /v5/account/wallet-balance
//   - SetLeverage:     POST /v5/position/set-leverage
//   - PlaceOrder:      POST /v5/order/create
//   - CancelOrder:     POST /v5/order/cancel
//   - OpenOrders:      GET  /v5/order/realtime
//   - Positions:       GET  /v5/position/list
//   - SetTradingStop:  POST /v5/position/trading-stop
//   - ClosedPnL:       GET  /v5/position/closed-pnl
//
// Private calls are signed with HMAC-SHA256 over
// timestamp + apiKey + recvWindow + (sorted query | body bytes). The exact
// bytes used for the signature are the bytes sent on the wire; the client
// never re-serializes between signing and sending. Reads retry on transport
// failures and 5xx; writes are sent exactly once.
package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/config"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

const (
	mainnetURL = "https://api.bybit.com"
	testnetURL = "https://api-testnet.bybit.com"
	demoURL    = "https://api-demo.bybit.com"
)

// Client is the Bybit v5 REST client.
type Client struct {
	http       *resty.Client
	key        string
	secret     string
	recvWindow string
	dryRun     bool
	logger     *slog.Logger

	// now is swappable for tests so signatures are deterministic.
	now func() time.Time
}

// NewClient creates a REST client for the endpoint selected by cfg.
// Demo (paper trading against live data) takes precedence over testnet.
func NewClient(cfg config.BybitConfig, dryRun bool, logger *slog.Logger) *Client {
	baseURL := mainnetURL
	switch {
	case cfg.Demo:
		baseURL = demoURL
	case cfg.Testnet:
		baseURL = testnetURL
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Only reads are safe to retry; writes surface their first failure.
			if r != nil && r.Request.Method != http.MethodGet {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:       httpClient,
		key:        cfg.APIKey,
		secret:     cfg.APISecret,
		recvWindow: cfg.RecvWindow,
		dryRun:     dryRun,
		logger:     logger.With("component", "venue"),
		now:        time.Now,
	}
}

// SetBaseURL overrides the endpoint. Used by tests.
func (c *Client) SetBaseURL(u string) { c.http.SetBaseURL(u) }

// envelope is the uniform v5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sign computes the v5 HMAC signature over ts + key + recvWindow + payload.
func (c *Client) sign(ts, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(ts + c.key + c.recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) authHeaders(ts, payload string) map[string]string {
	return map[string]string{
		"X-BAPI-API-KEY":     c.key,
		"X-BAPI-SIGN":        c.sign(ts, payload),
		"X-BAPI-SIGN-TYPE":   "2",
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": c.recvWindow,
	}
}

// getPublic performs an unsigned GET. Market-data endpoints need no auth.
func (c *Client) getPublic(ctx context.Context, op, path string, params url.Values, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(path)
	return c.decode(op, resp, err, out)
}

// getSigned performs a signed GET. The signature covers the sorted query
// string, and that exact string is what goes on the wire.
func (c *Client) getSigned(ctx context.Context, op, path string, params url.Values, out any) error {
	query := params.Encode() // sorted by key
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.authHeaders(ts, query)).
		SetQueryString(query).
		Get(path)
	return c.decode(op, resp, err, out)
}

// postSigned performs a signed POST. The body is marshalled once; the same
// bytes are signed and sent.
func (c *Client) postSigned(ctx context.Context, op, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("marshal body: %w", err)}
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.authHeaders(ts, string(raw))).
		SetBody(json.RawMessage(raw)).
		Post(path)
	return c.decode(op, resp, err, out)
}

// decode maps a resty response onto the typed error kinds and unmarshals the
// result payload.
func (c *Client) decode(op string, resp *resty.Response, err error, out any) error {
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() == http.StatusForbidden {
		retryAfter := time.Duration(0)
		if s := resp.Header().Get("Retry-After"); s != "" {
			if secs, perr := strconv.Atoi(s); perr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{Op: op, RetryAfter: retryAfter}
	}
	if resp.StatusCode() != http.StatusOK {
		return &TransportError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}

	var env envelope
	if uerr := json.Unmarshal(resp.Body(), &env); uerr != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode envelope: %w", uerr)}
	}
	switch env.RetCode {
	case codeOK:
	case codeRateLimit, codeIPRateLimit:
		return &RateLimitError{Op: op}
	default:
		return &Error{Op: op, Code: env.RetCode, Message: env.RetMsg}
	}

	if out != nil && len(env.Result) > 0 {
		if uerr := json.Unmarshal(env.Result, out); uerr != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("decode result: %w", uerr)}
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// LastPrice fetches the last traded price for a symbol.
func (c *Client) LastPrice(ctx context.Context, category types.Category, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("category", string(category))
	params.Set("symbol", symbol)

	var result struct {
		List []struct {
			LastPrice decimal.Decimal `json:"lastPrice"`
		} `json:"list"`
	}
	if err := c.getPublic(ctx, "last_price", "/v5/market/tickers", params, &result); err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, &Error{Op: "last_price", Code: -1, Message: "empty ticker list for " + symbol}
	}
	return result.List[0].LastPrice, nil
}

// InstrumentRules fetches the qty/price precision constraints for a symbol.
func (c *Client) InstrumentRules(ctx context.Context, category types.Category, symbol string) (types.InstrumentRules, error) {
	params := url.Values{}
	params.Set("category", string(category))
	params.Set("symbol", symbol)

	var result struct {
		List []struct {
			LotSizeFilter struct {
				QtyStep     decimal.Decimal `json:"qtyStep"`
				MinOrderQty decimal.Decimal `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize decimal.Decimal `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := c.getPublic(ctx, "instrument_rules", "/v5/market/instruments-info", params, &result); err != nil {
		return types.InstrumentRules{}, err
	}
	if len(result.List) == 0 {
		return types.InstrumentRules{}, &Error{Op: "instrument_rules", Code: -1, Message: "unknown symbol " + symbol}
	}
	inst := result.List[0]
	return types.InstrumentRules{
		QtyStep:  inst.LotSizeFilter.QtyStep,
		MinQty:   inst.LotSizeFilter.MinOrderQty,
		TickSize: inst.PriceFilter.TickSize,
	}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Account
// ————————————————————————————————————————————————————————————————————————

// WalletEquity returns total account equity for the given account type.
func (c *Client) WalletEquity(ctx context.Context, accountType string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("accountType", accountType)

	var result struct {
		List []struct {
			TotalEquity decimal.Decimal `json:"totalEquity"`
		} `json:"list"`
	}
	if err := c.getSigned(ctx, "wallet_equity", "/v5/account/wallet-balance", params, &result); err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, &Error{Op: "wallet_equity", Code: -1, Message: "empty balance list"}
	}
	return result.List[0].TotalEquity, nil
}

// SetLeverage sets both buy and sell leverage for a symbol. An unchanged
// leverage is benign and reported as success.
func (c *Client) SetLeverage(ctx context.Context, category types.Category, symbol string, leverage int) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would set leverage", "symbol", symbol, "leverage", leverage)
		return nil
	}

	lev := strconv.Itoa(leverage)
	body := map[string]string{
		"category":     string(category),
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	err := c.postSigned(ctx, "set_leverage", "/v5/position/set-leverage", body, nil)
	if IsBenign(err) {
		return nil
	}
	return err
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// orderBody is the exact v5 create-order payload. Optional fields are
// omitted, never sent empty.
type orderBody struct {
	Category       string `json:"category"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	OrderType      string `json:"orderType"`
	Qty            string `json:"qty"`
	Price          string `json:"price,omitempty"`
	TriggerPrice   string `json:"triggerPrice,omitempty"`
	TriggerDir     int    `json:"triggerDirection,omitempty"`
	TriggerBy      string `json:"triggerBy,omitempty"`
	TimeInForce    string `json:"timeInForce,omitempty"`
	ReduceOnly     bool   `json:"reduceOnly,omitempty"`
	CloseOnTrigger bool   `json:"closeOnTrigger,omitempty"`
	OrderLinkID    string `json:"orderLinkId,omitempty"`
}

// PlaceOrder submits one order and returns the venue order id.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"symbol", req.Symbol, "side", req.Side, "type", req.OrderType,
			"qty", req.Qty, "link_id", req.OrderLinkID)
		return "dry-run-" + req.OrderLinkID, nil
	}

	body := orderBody{
		Category:       string(req.Category),
		Symbol:         req.Symbol,
		Side:           string(req.Side),
		OrderType:      req.OrderType,
		Qty:            req.Qty.String(),
		TimeInForce:    req.TimeInForce,
		ReduceOnly:     req.ReduceOnly,
		CloseOnTrigger: req.CloseOnTrigger,
		OrderLinkID:    req.OrderLinkID,
	}
	if !req.Price.IsZero() {
		body.Price = req.Price.String()
	}
	if req.TriggerPrice != nil {
		body.TriggerPrice = req.TriggerPrice.String()
		body.TriggerDir = int(req.TriggerDir)
		body.TriggerBy = req.TriggerBy
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := c.postSigned(ctx, "place_order", "/v5/order/create", body, &result); err != nil {
		return "", err
	}
	c.logger.Info("order placed",
		"symbol", req.Symbol, "side", req.Side, "type", req.OrderType,
		"qty", req.Qty, "order_id", result.OrderID, "link_id", req.OrderLinkID)
	return result.OrderID, nil
}

// CancelOrder cancels one order by venue id.
func (c *Client) CancelOrder(ctx context.Context, category types.Category, symbol, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "symbol", symbol, "order_id", orderID)
		return nil
	}

	body := map[string]string{
		"category": string(category),
		"symbol":   symbol,
		"orderId":  orderID,
	}
	return c.postSigned(ctx, "cancel_order", "/v5/order/cancel", body, nil)
}

// OpenOrders lists the live orders for a symbol.
func (c *Client) OpenOrders(ctx context.Context, category types.Category, symbol string) ([]types.OpenOrder, error) {
	params := url.Values{}
	params.Set("category", string(category))
	params.Set("symbol", symbol)

	var result struct {
		List []struct {
			OrderID     string          `json:"orderId"`
			OrderLinkID string          `json:"orderLinkId"`
			Symbol      string          `json:"symbol"`
			Side        types.Side      `json:"side"`
			Price       decimal.Decimal `json:"price"`
			Qty         decimal.Decimal `json:"qty"`
			OrderStatus string          `json:"orderStatus"`
		} `json:"list"`
	}
	if err := c.getSigned(ctx, "open_orders", "/v5/order/realtime", params, &result); err != nil {
		return nil, err
	}

	orders := make([]types.OpenOrder, 0, len(result.List))
	for _, o := range result.List {
		orders = append(orders, types.OpenOrder{
			OrderID:     o.OrderID,
			OrderLinkID: o.OrderLinkID,
			Symbol:      o.Symbol,
			Side:        o.Side,
			Price:       o.Price,
			Qty:         o.Qty,
			Status:      o.OrderStatus,
		})
	}
	return orders, nil
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// Positions lists positions for a symbol, or for a whole settle coin when
// symbol is empty.
func (c *Client) Positions(ctx context.Context, category types.Category, symbol, settleCoin string) ([]types.Position, error) {
	params := url.Values{}
	params.Set("category", string(category))
	if symbol != "" {
		params.Set("symbol", symbol)
	} else {
		params.Set("settleCoin", settleCoin)
	}

	var result struct {
		List []struct {
			Symbol        string          `json:"symbol"`
			Side          types.Side      `json:"side"`
			Size          decimal.Decimal `json:"size"`
			AvgPrice      decimal.Decimal `json:"avgPrice"`
			UnrealisedPnl decimal.Decimal `json:"unrealisedPnl"`
		} `json:"list"`
	}
	if err := c.getSigned(ctx, "positions", "/v5/position/list", params, &result); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(result.List))
	for _, p := range result.List {
		positions = append(positions, types.Position{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Size:          p.Size,
			AvgPrice:      p.AvgPrice,
			UnrealisedPnl: p.UnrealisedPnl,
		})
	}
	return positions, nil
}

// SetTradingStop mutates the position-scoped stop configuration. The venue's
// "not modified" response is benign and reported as success.
func (c *Client) SetTradingStop(ctx context.Context, ts types.TradingStop) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would set trading stop", "symbol", ts.Symbol,
			"stop_loss", ts.StopLoss, "trailing", ts.TrailingStop)
		return nil
	}

	body := map[string]any{
		"category":    string(ts.Category),
		"symbol":      ts.Symbol,
		"positionIdx": 0,
	}
	if ts.TPSLMode != "" {
		body["tpslMode"] = ts.TPSLMode
	}
	if ts.StopLoss != nil {
		body["stopLoss"] = ts.StopLoss.String()
	}
	if ts.TrailingStop != nil {
		body["trailingStop"] = ts.TrailingStop.String()
	}
	if ts.ActivePrice != nil {
		body["activePrice"] = ts.ActivePrice.String()
	}
	if ts.SLTriggerBy != "" {
		body["slTriggerBy"] = ts.SLTriggerBy
	}

	err := c.postSigned(ctx, "set_trading_stop", "/v5/position/trading-stop", body, nil)
	if IsBenign(err) {
		return nil
	}
	return err
}

// ClosedPnL lists realized-pnl records for a symbol, newest first.
func (c *Client) ClosedPnL(ctx context.Context, category types.Category, symbol string, startTime time.Time, limit int) ([]types.ClosedPnL, error) {
	params := url.Values{}
	params.Set("category", string(category))
	params.Set("symbol", symbol)
	if !startTime.IsZero() {
		params.Set("startTime", strconv.FormatInt(startTime.UnixMilli(), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var result struct {
		List []struct {
			Symbol      string          `json:"symbol"`
			Side        types.Side      `json:"side"`
			ClosedPnl   decimal.Decimal `json:"closedPnl"`
			AvgEntry    decimal.Decimal `json:"avgEntryPrice"`
			AvgExit     decimal.Decimal `json:"avgExitPrice"`
			Qty         decimal.Decimal `json:"closedSize"`
			CreatedTime string          `json:"createdTime"`
		} `json:"list"`
	}
	if err := c.getSigned(ctx, "closed_pnl", "/v5/position/closed-pnl", params, &result); err != nil {
		return nil, err
	}

	records := make([]types.ClosedPnL, 0, len(result.List))
	for _, r := range result.List {
		rec := types.ClosedPnL{
			Symbol:    r.Symbol,
			Side:      r.Side,
			ClosedPnl: r.ClosedPnl,
			AvgEntry:  r.AvgEntry,
			AvgExit:   r.AvgExit,
			Qty:       r.Qty,
		}
		if ms, err := strconv.ParseInt(r.CreatedTime, 10, 64); err == nil {
			rec.CreatedTime = time.UnixMilli(ms).UTC()
		}
		records = append(records, rec)
	}
	return records, nil
}
