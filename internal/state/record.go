// Package state defines the durable trade ledger: the per-trade record, the
// document that holds the active ledger plus cursors, and the crash-safe
// JSON store behind it.
package state

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/pkg/types"
)

// Status is the lifecycle state of a trade.
type Status string

const (
	StatusPending   Status = "pending" // entry order armed, not filled
	StatusOpen      Status = "open"    // position live
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusClosed    Status = "closed"
)

// Terminal reports whether the trade has left the active ledger for good.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusExpired, StatusClosed:
		return true
	}
	return false
}

// transitions is the allowed status graph. No backward edges, no
// resurrection of terminal trades.
var transitions = map[Status][]Status{
	StatusPending: {StatusOpen, StatusCancelled, StatusExpired},
	StatusOpen:    {StatusClosed, StatusCancelled},
}

// TradeRecord is the full durable state of one trade.
//
// Optional numeric fields are pointers: absent means "not yet known", which
// is never the same as zero.
type TradeRecord struct {
	TradeID string `json:"trade_id"`

	// Plan — fixed at placement.
	Symbol            string             `json:"symbol"`
	OrderSide         types.Side         `json:"order_side"`
	PositionSide      types.PositionSide `json:"position_side"`
	Trigger           decimal.Decimal    `json:"trigger"`
	TPPrices          []decimal.Decimal  `json:"tp_prices"`
	TPSplits          []decimal.Decimal  `json:"tp_splits"`
	DCAPrices         []decimal.Decimal  `json:"dca_prices,omitempty"`
	SLPricePlanned    *decimal.Decimal   `json:"sl_price_planned,omitempty"`
	BaseQty           decimal.Decimal    `json:"base_qty"`
	Leverage          int                `json:"leverage"`
	RiskPct           decimal.Decimal    `json:"risk_pct"`
	RiskAmount        decimal.Decimal    `json:"risk_amount"`
	EquityAtPlacement decimal.Decimal    `json:"equity_at_placement"`
	SourceMsgID       string             `json:"source_msg_id"`

	// Orders — venue ids, recorded as placements succeed.
	EntryOrderID string         `json:"entry_order_id,omitempty"`
	TP1OrderID   string         `json:"tp1_order_id,omitempty"`
	TPOrderIDs   map[int]string `json:"tp_order_ids,omitempty"`  // 1-based index → id
	DCAOrderIDs  map[int]string `json:"dca_order_ids,omitempty"` // 1-based index → id

	// Runtime.
	Status           Status           `json:"status"`
	PlacedTS         int64            `json:"placed_ts"`
	FilledTS         int64            `json:"filled_ts,omitempty"`
	ClosedTS         int64            `json:"closed_ts,omitempty"`
	EntryPrice       *decimal.Decimal `json:"entry_price,omitempty"`
	PostOrdersPlaced bool             `json:"post_orders_placed"`
	SLMovedToBE      bool             `json:"sl_moved_to_be"`
	TrailingStarted  bool             `json:"trailing_started"`
	TPFills          []int            `json:"tp_fills,omitempty"`  // sorted 1-based indices
	DCAFills         []int            `json:"dca_fills,omitempty"` // sorted 1-based indices
	AlertsSent       []string         `json:"alerts_sent,omitempty"`

	// Final accounting — populated at close.
	ExitReason string           `json:"exit_reason,omitempty"`
	PnL        *decimal.Decimal `json:"pnl,omitempty"`
	AvgExit    *decimal.Decimal `json:"avg_exit,omitempty"`
	IsWin      bool             `json:"is_win"`
}

// NewTradeID derives the stable trade identity. It doubles as the entry
// order's link id on the venue.
func NewTradeID(symbol string, side types.Side, placed time.Time) string {
	return fmt.Sprintf("%s|%s|%d", symbol, side, placed.Unix())
}

// TPLink is the link id of the i-th take-profit order (1-based).
func TPLink(tradeID string, i int) string { return fmt.Sprintf("%s:TP%d", tradeID, i) }

// DCALink is the link id of the j-th DCA order (1-based).
func DCALink(tradeID string, j int) string { return fmt.Sprintf("%s:DCA%d", tradeID, j) }

// To transitions the record's status, enforcing the monotone lifecycle
// graph. Transitioning to the current status is a no-op.
func (r *TradeRecord) To(next Status) error {
	if r.Status == next {
		return nil
	}
	for _, allowed := range transitions[r.Status] {
		if allowed == next {
			r.Status = next
			return nil
		}
	}
	return fmt.Errorf("trade %s: illegal transition %s -> %s", r.TradeID, r.Status, next)
}

// Active reports whether the trade still occupies a concurrency slot.
func (r *TradeRecord) Active() bool {
	return r.Status == StatusPending || r.Status == StatusOpen
}

// AddTPFill records a TP fill; reports whether it was newly added.
func (r *TradeRecord) AddTPFill(i int) bool {
	if containsInt(r.TPFills, i) {
		return false
	}
	r.TPFills = insertSorted(r.TPFills, i)
	return true
}

// AddDCAFill records a DCA fill; reports whether it was newly added.
func (r *TradeRecord) AddDCAFill(j int) bool {
	if containsInt(r.DCAFills, j) {
		return false
	}
	r.DCAFills = insertSorted(r.DCAFills, j)
	return true
}

// HasTPFill reports whether TP i has filled.
func (r *TradeRecord) HasTPFill(i int) bool { return containsInt(r.TPFills, i) }

// AllTPsFilled reports whether every planned TP has filled.
func (r *TradeRecord) AllTPsFilled() bool {
	return len(r.TPPrices) > 0 && len(r.TPFills) >= len(r.TPPrices)
}

// MarkAlerted records an alert tag; reports whether it was newly added.
func (r *TradeRecord) MarkAlerted(tag string) bool {
	for _, t := range r.AlertsSent {
		if t == tag {
			return false
		}
	}
	r.AlertsSent = append(r.AlertsSent, tag)
	return true
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func insertSorted(xs []int, x int) []int {
	pos := len(xs)
	for i, v := range xs {
		if x < v {
			pos = i
			break
		}
	}
	xs = append(xs, 0)
	copy(xs[pos+1:], xs[pos:])
	xs[pos] = x
	return xs
}
