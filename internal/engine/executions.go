// executions.go routes private-stream fills to lifecycle transitions: entry
// fills, TP fills (break-even migration, trailing activation) and DCA fills.
package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/state"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

const (
	beRetryAttempts = 3
	beRetryBackoff  = 100 * time.Millisecond
)

// handleExecution processes one fill notification. The orderLinkId carries
// the routing: "{trade_id}" for the entry, "{trade_id}:TPn" / "{trade_id}:DCAn"
// for ladder orders.
func (e *Engine) handleExecution(ctx context.Context, ev *types.ExecutionEvent) {
	if ev.ExecType != "" && ev.ExecType != "Trade" {
		return
	}

	tradeID, tag := splitLink(ev.OrderLinkID)
	rec, ok := e.doc().OpenTrades[tradeID]
	if !ok {
		return
	}

	switch {
	case tag == "":
		e.markEntryFilled(ctx, rec, &ev.ExecPrice)

	case strings.HasPrefix(tag, "TP"):
		n, err := strconv.Atoi(tag[2:])
		if err != nil {
			return
		}
		e.onTPFill(ctx, rec, n, ev.ExecPrice)

	case strings.HasPrefix(tag, "DCA"):
		n, err := strconv.Atoi(tag[3:])
		if err != nil {
			return
		}
		if rec.AddDCAFill(n) {
			e.logger.Info("dca filled",
				"trade_id", rec.TradeID, "dca", n, "price", ev.ExecPrice)
			e.persist()
		}
	}
}

// onTPFill records a TP fill and runs the threshold actions exactly once.
func (e *Engine) onTPFill(ctx context.Context, rec *state.TradeRecord, n int, price decimal.Decimal) {
	if !rec.AddTPFill(n) {
		return
	}
	e.logger.Info("tp filled", "trade_id", rec.TradeID, "tp", n, "price", price)

	if n == 1 && e.cfg.Exit.MoveSLToBEOnTP1 && !rec.SLMovedToBE {
		e.moveSLToBreakeven(ctx, rec)
	}
	if n == e.cfg.Exit.TrailAfterTPIndex && e.cfg.Exit.TrailActivateOnTP && !rec.TrailingStarted {
		e.startTrailing(ctx, rec)
	}
	e.persist()
}

// moveSLToBreakeven migrates the stop to the entry price with a bounded
// retry. A missing TP1 order id elsewhere never blocks this path; it is
// reachable from both the push and poll detections.
func (e *Engine) moveSLToBreakeven(ctx context.Context, rec *state.TradeRecord) {
	if rec.EntryPrice == nil {
		e.logger.Error("breakeven without entry price", "trade_id", rec.TradeID)
		return
	}
	rules, _ := e.rules.Get(ctx, e.category, rec.Symbol)
	be := roundToTick(*rec.EntryPrice, rules.TickSize)

	var err error
	for attempt := 1; attempt <= beRetryAttempts; attempt++ {
		err = e.venue.SetTradingStop(ctx, types.TradingStop{
			Category:    e.category,
			Symbol:      rec.Symbol,
			StopLoss:    &be,
			TPSLMode:    "Full",
			SLTriggerBy: "LastPrice",
		})
		if err == nil {
			rec.SLMovedToBE = true
			e.logger.Info("stop moved to breakeven", "trade_id", rec.TradeID, "sl", be)
			return
		}
		if attempt < beRetryAttempts {
			time.Sleep(beRetryBackoff)
		}
	}
	e.logger.Error("breakeven migration failed", "trade_id", rec.TradeID, "error", err)
}

// startTrailing registers a venue-side trailing stop anchored at the TP that
// triggered it (falling back to last price), preserving the break-even stop
// as floor when it is already in place.
func (e *Engine) startTrailing(ctx context.Context, rec *state.TradeRecord) {
	anchor := decimal.Zero
	if idx := e.cfg.Exit.TrailAfterTPIndex - 1; idx >= 0 && idx < len(rec.TPPrices) {
		anchor = rec.TPPrices[idx]
	} else if last, err := e.venue.LastPrice(ctx, e.category, rec.Symbol); err == nil {
		anchor = last
	}
	if !anchor.IsPositive() {
		e.logger.Error("trailing activation: no anchor price", "trade_id", rec.TradeID)
		return
	}

	rules, _ := e.rules.Get(ctx, e.category, rec.Symbol)
	distance := roundToTick(pctOf(anchor, decimal.NewFromFloat(e.cfg.Exit.TrailDistancePct)), rules.TickSize)

	ts := types.TradingStop{
		Category:     e.category,
		Symbol:       rec.Symbol,
		TrailingStop: &distance,
		ActivePrice:  &anchor,
		TPSLMode:     "Full",
	}
	if rec.SLMovedToBE && rec.EntryPrice != nil {
		be := roundToTick(*rec.EntryPrice, rules.TickSize)
		ts.StopLoss = &be
	}

	if err := e.venue.SetTradingStop(ctx, ts); err != nil {
		e.logger.Error("trailing activation failed", "trade_id", rec.TradeID, "error", err)
		return
	}
	rec.TrailingStarted = true
	e.logger.Info("trailing started",
		"trade_id", rec.TradeID, "anchor", anchor, "distance", distance)
}

// splitLink separates the trade id from the order tag. Entry orders carry
// the bare trade id.
func splitLink(link string) (tradeID, tag string) {
	if i := strings.IndexByte(link, ':'); i >= 0 {
		return link[:i], link[i+1:]
	}
	return link, ""
}
