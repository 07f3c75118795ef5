// amendments.go reconciles edits to a trade's source message: moved stops,
// reshaped TP ladders, late DCA levels.
package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/state"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

// amendRelEps is the relative tolerance under which two prices count as the
// same; it absorbs formatting noise in edited messages.
var amendRelEps = decimal.New(1, -6)

// ReconcileAmendments re-reads every active trade's source message and
// applies changed SL/TP/DCA values.
func (e *Engine) ReconcileAmendments(ctx context.Context) {
	changed := false
	for _, id := range e.doc().SortedTradeIDs() {
		rec := e.doc().OpenTrades[id]
		if !rec.Active() {
			continue
		}
		if e.reconcileTrade(ctx, rec) {
			changed = true
		}
	}
	if changed {
		e.persist()
	}
}

func (e *Engine) reconcileTrade(ctx context.Context, rec *state.TradeRecord) bool {
	if rec.SourceMsgID == "" {
		return false
	}
	msg, err := e.chat.FetchMessage(ctx, rec.SourceMsgID)
	if err != nil {
		e.logger.Debug("amendment re-read failed", "trade_id", rec.TradeID, "error", err)
		return false
	}
	up := e.parser.ParseUpdate(msg.Text)

	changed := false
	if e.amendStop(ctx, rec, up.SLPrice) {
		changed = true
	}
	if e.amendTPs(ctx, rec, up.TPPrices) {
		changed = true
	}
	if e.amendDCAs(ctx, rec, up.DCAPrices) {
		changed = true
	}
	return changed
}

// amendStop applies a moved signal SL. Once the engine has migrated the stop
// to break-even the signal's value no longer wins.
func (e *Engine) amendStop(ctx context.Context, rec *state.TradeRecord, sl *decimal.Decimal) bool {
	if sl == nil || rec.SLMovedToBE {
		return false
	}
	if rec.SLPricePlanned != nil && !priceDiffers(*rec.SLPricePlanned, *sl) {
		return false
	}

	if rec.Status == state.StatusOpen {
		rules, _ := e.rules.Get(ctx, e.category, rec.Symbol)
		rounded := roundToTick(*sl, rules.TickSize)
		err := e.venue.SetTradingStop(ctx, types.TradingStop{
			Category:    e.category,
			Symbol:      rec.Symbol,
			StopLoss:    &rounded,
			TPSLMode:    "Full",
			SLTriggerBy: "LastPrice",
		})
		if err != nil {
			e.logger.Warn("amended stop install failed", "trade_id", rec.TradeID, "error", err)
			return false
		}
	}

	e.logger.Info("stop amended from signal", "trade_id", rec.TradeID, "sl", sl)
	rec.SLPricePlanned = sl
	return true
}

// amendTPs replaces the TP ladder when the signal's targets moved: cancel
// the old TP orders, then rebuild the ladder against the live position.
func (e *Engine) amendTPs(ctx context.Context, rec *state.TradeRecord, tps []decimal.Decimal) bool {
	if len(tps) == 0 || !ladderDiffers(rec.TPPrices, tps) {
		return false
	}

	e.logger.Info("tp ladder amended from signal",
		"trade_id", rec.TradeID, "old", rec.TPPrices, "new", tps)
	rec.TPPrices = tps

	if rec.Status != state.StatusOpen || !rec.PostOrdersPlaced || rec.EntryPrice == nil {
		return true
	}

	// Sweep old TP orders.
	if orders, err := e.venue.OpenOrders(ctx, e.category, rec.Symbol); err == nil {
		for _, o := range orders {
			if !strings.HasPrefix(o.OrderLinkID, rec.TradeID+":TP") {
				continue
			}
			if cerr := e.venue.CancelOrder(ctx, e.category, rec.Symbol, o.OrderID); cerr != nil {
				e.logger.Warn("old tp cancel failed",
					"trade_id", rec.TradeID, "order_id", o.OrderID, "error", cerr)
			}
		}
	} else {
		e.logger.Warn("tp sweep failed before replace", "trade_id", rec.TradeID, "error", err)
	}

	rules, _ := e.rules.Get(ctx, e.category, rec.Symbol)
	size := rec.BaseQty
	if positions, err := e.venue.Positions(ctx, e.category, rec.Symbol, e.cfg.Trading.Quote); err == nil {
		for _, p := range positions {
			if p.Symbol == rec.Symbol && p.Size.IsPositive() {
				size = p.Size
			}
		}
	}

	rec.TPOrderIDs = nil
	rec.TP1OrderID = ""
	for _, tp := range e.tpLadder(rec, *rec.EntryPrice, size, rules) {
		// Skip levels that already filled; re-placing them would double-close.
		if rec.HasTPFill(tp.idx) {
			continue
		}
		orderID, err := e.venue.PlaceOrder(ctx, types.OrderRequest{
			Category:    e.category,
			Symbol:      rec.Symbol,
			Side:        rec.OrderSide.Opposite(),
			OrderType:   "Limit",
			Qty:         tp.qty,
			Price:       tp.price,
			TimeInForce: "GTC",
			ReduceOnly:  true,
			OrderLinkID: state.TPLink(rec.TradeID, tp.idx),
		})
		if err != nil {
			e.logger.Error("replacement tp failed", "trade_id", rec.TradeID, "tp", tp.idx, "error", err)
			continue
		}
		if rec.TPOrderIDs == nil {
			rec.TPOrderIDs = make(map[int]string)
		}
		rec.TPOrderIDs[tp.idx] = orderID
		if tp.idx == 1 {
			rec.TP1OrderID = orderID
		}
	}
	return true
}

// amendDCAs installs a DCA ladder that appeared after placement. An existing
// ladder is never reshaped; adds that already happened cannot be undone.
func (e *Engine) amendDCAs(ctx context.Context, rec *state.TradeRecord, dcas []decimal.Decimal) bool {
	if len(rec.DCAPrices) > 0 || len(dcas) == 0 {
		return false
	}

	e.logger.Info("dca ladder amended from signal", "trade_id", rec.TradeID, "dcas", dcas)
	rec.DCAPrices = dcas

	if rec.Status != state.StatusOpen || !rec.PostOrdersPlaced {
		return true
	}

	rules, _ := e.rules.Get(ctx, e.category, rec.Symbol)
	for _, dca := range e.dcaLadder(rec, rules) {
		trigger := dca.price
		orderID, err := e.venue.PlaceOrder(ctx, types.OrderRequest{
			Category:     e.category,
			Symbol:       rec.Symbol,
			Side:         rec.OrderSide,
			OrderType:    "Limit",
			Qty:          dca.qty,
			Price:        dca.price,
			TriggerPrice: &trigger,
			TriggerDir:   dca.dir,
			TriggerBy:    "LastPrice",
			TimeInForce:  "GTC",
			OrderLinkID:  state.DCALink(rec.TradeID, dca.idx),
		})
		if err != nil {
			e.logger.Error("late dca failed", "trade_id", rec.TradeID, "dca", dca.idx, "error", err)
			continue
		}
		if rec.DCAOrderIDs == nil {
			rec.DCAOrderIDs = make(map[int]string)
		}
		rec.DCAOrderIDs[dca.idx] = orderID
	}
	return true
}

func priceDiffers(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(a.Abs().Mul(amendRelEps))
}

func ladderDiffers(a, b []decimal.Decimal) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if priceDiffers(a[i], b[i]) {
			return true
		}
	}
	return false
}
