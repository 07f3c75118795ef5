// accounting.go computes final stats for a closed trade.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/state"
)

// breakevenEps bounds how far from zero a realized pnl may be and still
// count as a break-even exit.
var breakevenEps = decimal.NewFromFloat(0.01)

// finalizeClose fetches realized pnl for the trade's holding window and
// derives the exit reason.
func (e *Engine) finalizeClose(ctx context.Context, rec *state.TradeRecord) {
	filled := time.Unix(rec.FilledTS, 0).UTC()
	start := filled.Add(-time.Minute)

	var pnl decimal.Decimal
	var closedQty, exitNotional decimal.Decimal
	records, err := e.venue.ClosedPnL(ctx, e.category, rec.Symbol, start, 50)
	if err != nil {
		e.logger.Warn("closed-pnl fetch failed, stats incomplete",
			"trade_id", rec.TradeID, "error", err)
	}
	for _, r := range records {
		if r.CreatedTime.Before(filled) {
			continue
		}
		pnl = pnl.Add(r.ClosedPnl)
		closedQty = closedQty.Add(r.Qty)
		exitNotional = exitNotional.Add(r.AvgExit.Mul(r.Qty))
	}

	rec.PnL = &pnl
	rec.IsWin = pnl.IsPositive()
	if closedQty.IsPositive() {
		avgExit := exitNotional.Div(closedQty)
		rec.AvgExit = &avgExit
	}
	rec.ExitReason = exitReason(rec, pnl)

	e.logger.Info("trade closed",
		"trade_id", rec.TradeID,
		"pnl", pnl,
		"exit_reason", rec.ExitReason,
		"tp_fills", len(rec.TPFills),
		"dca_fills", len(rec.DCAFills),
		"is_win", rec.IsWin)

	if e.alerts != nil {
		e.alerts.TradeClosed(ctx, rec.Symbol, rec.PositionSide, pnl,
			rec.ExitReason, len(rec.TPFills), len(rec.DCAFills))
	}
}

// exitReason classifies how the trade ended, by priority.
func exitReason(rec *state.TradeRecord, pnl decimal.Decimal) string {
	switch {
	case rec.TrailingStarted && pnl.IsPositive():
		return "trailing_stop"
	case rec.AllTPsFilled():
		return "all_tps_hit"
	case len(rec.TPFills) > 0 && rec.SLMovedToBE && pnl.Abs().LessThan(breakevenEps):
		return "breakeven"
	case len(rec.TPFills) > 0:
		return fmt.Sprintf("tp%d_then_sl", maxInt(rec.TPFills))
	case pnl.IsNegative():
		return "stop_loss"
	}
	return "unknown"
}

func maxInt(xs []int) int {
	m := 0
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}
