// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the executor: order sides and
// categories, parsed signal intents, venue request/response shapes, and
// private-stream event payloads. It has no dependencies on internal packages,
// so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Category is the Bybit product category.
type Category string

const (
	CategoryLinear  Category = "linear"  // USDT perpetual
	CategoryInverse Category = "inverse" // coin-margined perpetual
	CategorySpot    Category = "spot"
)

// Side is the order direction in Bybit's casing.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// Opposite returns the closing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide returns the direction of a position opened with s.
func (s Side) PositionSide() PositionSide {
	if s == Buy {
		return Long
	}
	return Short
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "Long"
	Short PositionSide = "Short"
)

// TriggerDirection tells the venue which way price must cross the trigger.
type TriggerDirection int

const (
	TriggerRisesTo TriggerDirection = 1 // order arms when price rises to trigger
	TriggerFallsTo TriggerDirection = 2 // order arms when price falls to trigger
)

// SignalStatus classifies the lifecycle wording of a signal message.
type SignalStatus string

const (
	StatusActive    SignalStatus = "active"
	StatusBreakeven SignalStatus = "breakeven"
	StatusWin       SignalStatus = "win"
	StatusCancelled SignalStatus = "cancelled"
	StatusClosed    SignalStatus = "closed"
	StatusUnknown   SignalStatus = "unknown"
)

// Terminal reports whether a status means the signal can no longer be entered.
func (s SignalStatus) Terminal() bool {
	switch s {
	case StatusWin, StatusCancelled, StatusClosed:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// SignalIntent is the structured result of parsing one chat message.
// Immutable once produced. Trigger and every TP/DCA price are > 0 by
// construction; the parser rejects anything else.
type SignalIntent struct {
	BaseAsset  string
	QuoteAsset string
	Side       Side // Buy = long, Sell = short
	Trigger    decimal.Decimal
	TPPrices   []decimal.Decimal // ordered, TP1 first; may be empty
	DCAPrices  []decimal.Decimal // ordered, DCA1 first; may be empty
	SLPrice    *decimal.Decimal  // nil when the message carries no stop loss
	SourceMsg  string            // opaque message id for later re-reads
	RawText    string            // original text, kept for audit
}

// Symbol derives the venue symbol, e.g. "BTC"+"USDT" -> "BTCUSDT".
func (s SignalIntent) Symbol() string {
	return s.BaseAsset + s.QuoteAsset
}

// SignalUpdate carries the latest mutable values re-read from a signal's
// source message. Nil/empty fields mean "not present in the message", never
// "remove".
type SignalUpdate struct {
	SLPrice   *decimal.Decimal
	TPPrices  []decimal.Decimal
	DCAPrices []decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Chat
// ————————————————————————————————————————————————————————————————————————

// Message is one chat message with its embeds already flattened to text.
type Message struct {
	ID        string
	Timestamp time.Time
	Text      string
}

// ————————————————————————————————————————————————————————————————————————
// Venue requests
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is the high-level order shape the engine produces. The venue
// client converts it to the exact v5 create-order body.
type OrderRequest struct {
	Category       Category
	Symbol         string
	Side           Side
	OrderType      string // "Limit" or "Market"
	Qty            decimal.Decimal
	Price          decimal.Decimal  // limit price; zero for market orders
	TriggerPrice   *decimal.Decimal // nil for plain (non-conditional) orders
	TriggerDir     TriggerDirection // meaningful only with TriggerPrice
	TriggerBy      string           // e.g. "LastPrice"
	TimeInForce    string           // "GTC"
	ReduceOnly     bool
	CloseOnTrigger bool
	OrderLinkID    string
}

// TradingStop mutates the position-level stop configuration. Nil fields are
// omitted from the request so the venue leaves them unchanged.
type TradingStop struct {
	Category     Category
	Symbol       string
	StopLoss     *decimal.Decimal
	TrailingStop *decimal.Decimal // absolute distance
	ActivePrice  *decimal.Decimal // trailing activation price
	TPSLMode     string           // "Full" = position-scoped
	SLTriggerBy  string
}

// ————————————————————————————————————————————————————————————————————————
// Venue responses
// ————————————————————————————————————————————————————————————————————————

// InstrumentRules holds the per-symbol precision constraints used for
// quantity and price rounding.
type InstrumentRules struct {
	QtyStep  decimal.Decimal
	MinQty   decimal.Decimal
	TickSize decimal.Decimal
}

// OpenOrder is a live order as reported by the realtime order list.
type OpenOrder struct {
	OrderID     string
	OrderLinkID string
	Symbol      string
	Side        Side
	Price       decimal.Decimal
	Qty         decimal.Decimal
	Status      string
}

// Position is one entry of the position list. Size is zero for flat symbols.
type Position struct {
	Symbol        string
	Side          Side
	Size          decimal.Decimal
	AvgPrice      decimal.Decimal
	UnrealisedPnl decimal.Decimal
}

// ClosedPnL is one realized-pnl record from the closed-pnl endpoint.
type ClosedPnL struct {
	Symbol      string
	Side        Side
	ClosedPnl   decimal.Decimal
	AvgEntry    decimal.Decimal
	AvgExit     decimal.Decimal
	Qty         decimal.Decimal
	CreatedTime time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Private stream events
// ————————————————————————————————————————————————————————————————————————

// StreamEventKind discriminates StreamEvent payloads.
type StreamEventKind string

const (
	StreamExecution    StreamEventKind = "execution"
	StreamOrder        StreamEventKind = "order"
	StreamResubscribed StreamEventKind = "resubscribed" // synthetic, emitted after reconnect
)

// ExecutionEvent is a single private execution (fill) notification.
type ExecutionEvent struct {
	Symbol      string
	OrderID     string
	OrderLinkID string
	ExecType    string // "Trade" for real fills
	ExecPrice   decimal.Decimal
	ExecQty     decimal.Decimal
	Side        Side
}

// OrderEvent is an order lifecycle notification (placement, cancel, fill).
type OrderEvent struct {
	Symbol      string
	OrderID     string
	OrderLinkID string
	OrderStatus string
}

// StreamEvent is the single typed event the private stream emits. Exactly one
// payload pointer is set for execution/order kinds; both are nil for the
// resubscribed sentinel.
type StreamEvent struct {
	Kind      StreamEventKind
	Execution *ExecutionEvent
	Order     *OrderEvent
}
