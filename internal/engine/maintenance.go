// maintenance.go is the poll-driven safety net: it converges anything the
// push stream missed and drives every time-based transition.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/state"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

const archiveAfter = 24 * time.Hour

// Maintain runs one maintenance pass over every active trade.
func (e *Engine) Maintain(ctx context.Context) {
	for _, id := range e.doc().SortedTradeIDs() {
		rec := e.doc().OpenTrades[id]
		switch rec.Status {
		case state.StatusPending:
			e.pollEntryFill(ctx, rec)
			if rec.Status == state.StatusPending {
				e.expirePending(ctx, rec)
			}
		case state.StatusOpen:
			e.pollTP1Fallback(ctx, rec)
			e.detectClose(ctx, rec)
			if rec.Status == state.StatusOpen {
				e.checkDrawdown(ctx, rec)
			}
		}
		if rec.Active() {
			e.checkRevocation(ctx, rec)
		}
	}

	e.archiveOld()
	e.persist()
}

// pollEntryFill is the poll path of entry-fill detection: a live position
// with a positive average price means the conditional entry triggered and
// filled, even if the execution event never arrived.
func (e *Engine) pollEntryFill(ctx context.Context, rec *state.TradeRecord) {
	positions, err := e.venue.Positions(ctx, e.category, rec.Symbol, e.cfg.Trading.Quote)
	if err != nil {
		e.logger.Warn("fill poll failed", "trade_id", rec.TradeID, "error", err)
		return
	}
	for _, p := range positions {
		if p.Symbol == rec.Symbol && p.Size.IsPositive() && p.AvgPrice.IsPositive() {
			avg := p.AvgPrice
			e.markEntryFilled(ctx, rec, &avg)
			return
		}
	}
}

// expirePending cancels entry orders that outlived the expiration window.
func (e *Engine) expirePending(ctx context.Context, rec *state.TradeRecord) {
	age := e.now().Unix() - rec.PlacedTS
	if age <= int64(e.cfg.Entry.ExpirationMin)*60 {
		return
	}

	if rec.EntryOrderID != "" {
		if err := e.venue.CancelOrder(ctx, e.category, rec.Symbol, rec.EntryOrderID); err != nil {
			// Not-found just means the venue already dropped it.
			e.logger.Warn("expiry cancel failed, marking expired anyway",
				"trade_id", rec.TradeID, "error", err)
		}
	}
	if err := rec.To(state.StatusExpired); err != nil {
		e.logger.Error("expire transition rejected", "trade_id", rec.TradeID, "error", err)
		return
	}
	rec.ClosedTS = e.now().Unix()
	e.logger.Info("pending entry expired", "trade_id", rec.TradeID, "age_min", age/60)
}

// pollTP1Fallback treats a vanished TP1 order as filled and migrates the
// stop to break-even. "Filled" and "externally cancelled" are deliberately
// not distinguished; both lead to the same conservative action.
func (e *Engine) pollTP1Fallback(ctx context.Context, rec *state.TradeRecord) {
	if !rec.PostOrdersPlaced || rec.SLMovedToBE || rec.TP1OrderID == "" || !e.cfg.Exit.MoveSLToBEOnTP1 {
		return
	}

	orders, err := e.venue.OpenOrders(ctx, e.category, rec.Symbol)
	if err != nil {
		e.logger.Warn("open-orders poll failed", "trade_id", rec.TradeID, "error", err)
		return
	}
	for _, o := range orders {
		if o.OrderID == rec.TP1OrderID {
			return
		}
	}

	e.logger.Info("tp1 no longer open, assuming filled", "trade_id", rec.TradeID)
	rec.AddTPFill(1)
	e.moveSLToBreakeven(ctx, rec)
}

// detectClose notices a flat position, sweeps residual trade orders and
// finalizes accounting.
func (e *Engine) detectClose(ctx context.Context, rec *state.TradeRecord) {
	positions, err := e.venue.Positions(ctx, e.category, rec.Symbol, e.cfg.Trading.Quote)
	if err != nil {
		e.logger.Warn("close poll failed", "trade_id", rec.TradeID, "error", err)
		return
	}
	for _, p := range positions {
		if p.Symbol == rec.Symbol && p.Size.IsPositive() {
			return
		}
	}

	e.cancelTradeOrders(ctx, rec)
	if err := rec.To(state.StatusClosed); err != nil {
		e.logger.Error("close transition rejected", "trade_id", rec.TradeID, "error", err)
		return
	}
	rec.ClosedTS = e.now().Unix()
	e.finalizeClose(ctx, rec)
}

// cancelTradeOrders sweeps every still-open order whose link id belongs to
// the trade.
func (e *Engine) cancelTradeOrders(ctx context.Context, rec *state.TradeRecord) {
	orders, err := e.venue.OpenOrders(ctx, e.category, rec.Symbol)
	if err != nil {
		e.logger.Warn("residual order sweep failed", "trade_id", rec.TradeID, "error", err)
		return
	}
	for _, o := range orders {
		if o.OrderLinkID != rec.TradeID && !strings.HasPrefix(o.OrderLinkID, rec.TradeID+":") {
			continue
		}
		if err := e.venue.CancelOrder(ctx, e.category, rec.Symbol, o.OrderID); err != nil {
			e.logger.Warn("residual cancel failed",
				"trade_id", rec.TradeID, "order_id", o.OrderID, "error", err)
		}
	}
}

// checkRevocation re-reads the trade's source message; a terminal wording
// revokes the trade and sweeps its orders.
func (e *Engine) checkRevocation(ctx context.Context, rec *state.TradeRecord) {
	if rec.SourceMsgID == "" {
		return
	}
	msg, err := e.chat.FetchMessage(ctx, rec.SourceMsgID)
	if err != nil {
		e.logger.Debug("source message re-read failed", "trade_id", rec.TradeID, "error", err)
		return
	}

	status := e.parser.ClassifyStatus(msg.Text)
	if status != types.StatusCancelled && status != types.StatusClosed {
		return
	}

	e.cancelTradeOrders(ctx, rec)
	if err := rec.To(state.StatusCancelled); err != nil {
		e.logger.Error("revocation transition rejected", "trade_id", rec.TradeID, "error", err)
		return
	}
	rec.ClosedTS = e.now().Unix()
	rec.ExitReason = "signal_revoked"
	e.logger.Info("signal revoked, trade cancelled",
		"trade_id", rec.TradeID, "source_status", status)
}

// checkDrawdown alerts when the leveraged loss on an open position crosses a
// configured threshold, once per trade and threshold.
func (e *Engine) checkDrawdown(ctx context.Context, rec *state.TradeRecord) {
	if e.alerts == nil || len(e.cfg.Telegram.AlertThresholds) == 0 || rec.EntryPrice == nil {
		return
	}

	last, err := e.venue.LastPrice(ctx, e.category, rec.Symbol)
	if err != nil || !last.IsPositive() {
		return
	}

	entry := *rec.EntryPrice
	move := last.Sub(entry).Div(entry).Mul(hundred)
	if rec.OrderSide == types.Sell {
		move = move.Neg()
	}
	pnlPct := move.Mul(decimal.New(int64(rec.Leverage), 0))

	for _, threshold := range e.cfg.Telegram.AlertThresholds {
		if pnlPct.GreaterThan(decimal.NewFromFloat(-threshold)) {
			continue
		}
		tag := "dd" + decimal.NewFromFloat(threshold).String()
		if !rec.MarkAlerted(tag) {
			continue
		}
		e.alerts.Drawdown(ctx, rec.Symbol, rec.PositionSide, threshold,
			pnlPct, entry, last, len(rec.DCAFills), len(rec.DCAPrices))
	}
}

// archiveOld moves terminal trades to the bounded history once they are a
// day old.
func (e *Engine) archiveOld() {
	cutoff := e.now().Add(-archiveAfter).Unix()
	for _, id := range e.doc().SortedTradeIDs() {
		rec := e.doc().OpenTrades[id]
		if !rec.Status.Terminal() {
			continue
		}
		ref := rec.ClosedTS
		if ref == 0 {
			ref = rec.PlacedTS
		}
		if ref <= cutoff {
			e.doc().Archive(id)
			e.logger.Info("trade archived", "trade_id", id, "status", rec.Status)
		}
	}
}
