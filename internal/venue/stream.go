// stream.go implements the Bybit v5 private WebSocket stream.
//
// After connecting, the stream authenticates with a timed HMAC challenge,
// subscribes to the execution and order topics, and pumps messages into a
// single typed channel. The connection auto-reconnects with exponential
// backoff (1s → 30s max); after each successful reconnect a synthetic
// "resubscribed" event is emitted so the consumer can re-poll anything that
// was missed during the gap. A read deadline detects silent server failures
// within ~2 missed pings.
package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/config"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

const (
	mainnetWSURL = "wss://stream.bybit.com/v5/private"
	testnetWSURL = "wss://stream-testnet.bybit.com/v5/private"
	demoWSURL    = "wss://stream-demo.bybit.com/v5/private"

	pingInterval     = 20 * time.Second
	readTimeout      = 45 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 128
)

// Stream manages the private WebSocket connection.
type Stream struct {
	url    string
	key    string
	secret string

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	events chan types.StreamEvent
	logger *slog.Logger
}

// NewStream creates a private stream for the endpoint selected by cfg.
func NewStream(cfg config.BybitConfig, logger *slog.Logger) *Stream {
	wsURL := mainnetWSURL
	switch {
	case cfg.Demo:
		wsURL = demoWSURL
	case cfg.Testnet:
		wsURL = testnetWSURL
	}
	return &Stream{
		url:    wsURL,
		key:    cfg.APIKey,
		secret: cfg.APISecret,
		events: make(chan types.StreamEvent, eventBufferSize),
		logger: logger.With("component", "stream"),
	}
}

// SetURL overrides the endpoint. Used by tests.
func (s *Stream) SetURL(u string) { s.url = u }

// Events returns the read-only channel of stream events.
func (s *Stream) Events() <-chan types.StreamEvent { return s.events }

// Run connects and maintains the stream with auto-reconnect. Blocks until
// ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second
	first := true

	for {
		err := s.connectAndRead(ctx, !first)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		first = false

		s.logger.Warn("private stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// connectAndRead dials, authenticates, subscribes, and pumps messages until
// the connection drops. reconnected marks this as a re-established session so
// the consumer is told to re-poll.
func (s *Stream) connectAndRead(ctx context.Context, reconnected bool) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.authenticate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := s.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.logger.Info("private stream connected")

	if reconnected {
		s.emit(types.StreamEvent{Kind: types.StreamResubscribed})
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.dispatch(msg)
	}
}

// authenticate sends the timed HMAC challenge: the signature covers
// "GET/realtime" + expiry, keyed by the API secret.
func (s *Stream) authenticate() error {
	expires := time.Now().Add(10 * time.Second).UnixMilli()
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))
	sig := hex.EncodeToString(mac.Sum(nil))

	return s.writeJSON(map[string]any{
		"op":   "auth",
		"args": []any{s.key, expires, sig},
	})
}

func (s *Stream) subscribe() error {
	return s.writeJSON(map[string]any{
		"op":   "subscribe",
		"args": []string{"execution", "order"},
	})
}

// wsExecution and wsOrder mirror the v5 topic payload fields we consume.
type wsExecution struct {
	Symbol      string          `json:"symbol"`
	OrderID     string          `json:"orderId"`
	OrderLinkID string          `json:"orderLinkId"`
	ExecType    string          `json:"execType"`
	ExecPrice   decimal.Decimal `json:"execPrice"`
	ExecQty     decimal.Decimal `json:"execQty"`
	Side        types.Side      `json:"side"`
}

type wsOrder struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	OrderStatus string `json:"orderStatus"`
}

func (s *Stream) dispatch(data []byte) {
	var frame struct {
		Op      string          `json:"op"`
		Success *bool           `json:"success"`
		RetMsg  string          `json:"ret_msg"`
		Topic   string          `json:"topic"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Debug("ignoring non-json stream message", "data", string(data))
		return
	}

	// Control frames: auth/subscribe acks and pong responses.
	if frame.Op != "" {
		if frame.Success != nil && !*frame.Success {
			s.logger.Error("stream op rejected", "op", frame.Op, "msg", frame.RetMsg)
		}
		return
	}

	switch frame.Topic {
	case "execution":
		var execs []wsExecution
		if err := json.Unmarshal(frame.Data, &execs); err != nil {
			s.logger.Error("unmarshal execution payload", "error", err)
			return
		}
		for _, e := range execs {
			s.emit(types.StreamEvent{
				Kind: types.StreamExecution,
				Execution: &types.ExecutionEvent{
					Symbol:      e.Symbol,
					OrderID:     e.OrderID,
					OrderLinkID: e.OrderLinkID,
					ExecType:    e.ExecType,
					ExecPrice:   e.ExecPrice,
					ExecQty:     e.ExecQty,
					Side:        e.Side,
				},
			})
		}

	case "order":
		var orders []wsOrder
		if err := json.Unmarshal(frame.Data, &orders); err != nil {
			s.logger.Error("unmarshal order payload", "error", err)
			return
		}
		for _, o := range orders {
			s.emit(types.StreamEvent{
				Kind: types.StreamOrder,
				Order: &types.OrderEvent{
					Symbol:      o.Symbol,
					OrderID:     o.OrderID,
					OrderLinkID: o.OrderLinkID,
					OrderStatus: o.OrderStatus,
				},
			})
		}

	default:
		s.logger.Debug("unknown stream topic", "topic", frame.Topic)
	}
}

// emit sends without blocking; a full buffer drops the event. The consumer
// reconciles dropped fills from the maintenance poll.
func (s *Stream) emit(evt types.StreamEvent) {
	select {
	case s.events <- evt:
	default:
		s.logger.Warn("event channel full, dropping event", "kind", evt.Kind)
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]string{"op": "ping"}); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Stream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}
