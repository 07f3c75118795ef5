// postentry.go installs the protective orders once an entry fills: the
// position-scoped stop loss, the reduce-only TP ladder and the conditional
// DCA ladder.
package engine

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/state"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

// markEntryFilled converges the push and poll fill-detection paths. It is
// idempotent: a trade already open is left alone.
func (e *Engine) markEntryFilled(ctx context.Context, rec *state.TradeRecord, fillPrice *decimal.Decimal) {
	if rec.Status != state.StatusPending {
		return
	}

	entry := rec.Trigger
	if fillPrice != nil && fillPrice.IsPositive() {
		entry = *fillPrice
	}
	rec.EntryPrice = &entry
	rec.FilledTS = e.now().Unix()
	if err := rec.To(state.StatusOpen); err != nil {
		e.logger.Error("entry fill transition rejected", "trade_id", rec.TradeID, "error", err)
		return
	}

	e.logger.Info("entry filled",
		"trade_id", rec.TradeID,
		"entry_price", entry,
		"qty", rec.BaseQty)
	if e.alerts != nil {
		e.alerts.TradeOpened(ctx, rec.Symbol, rec.PositionSide, entry, rec.BaseQty)
	}

	e.placePostOrders(ctx, rec)
	e.persist()
}

// placePostOrders dispatches SL, TP ladder and DCA ladder concurrently and
// joins before recording results. Guarded by post_orders_placed: a second
// call is a no-op. Partial failure is tolerated; each sub-order's outcome is
// recorded independently and the flag is set regardless, so the poll
// fallback can pick up whatever is missing.
func (e *Engine) placePostOrders(ctx context.Context, rec *state.TradeRecord) {
	if rec.PostOrdersPlaced {
		e.logger.Warn("post-entry placement called twice, ignoring", "trade_id", rec.TradeID)
		return
	}
	if rec.EntryPrice == nil {
		e.logger.Error("post-entry without entry price", "trade_id", rec.TradeID)
		return
	}
	entry := *rec.EntryPrice
	log := e.logger.With("trade_id", rec.TradeID)

	rules, err := e.rules.Get(ctx, e.category, rec.Symbol)
	if err != nil {
		log.Warn("post-entry using zero precision rules", "error", err)
	}

	// Live position size anchors the TP quantities; entry qty is the
	// fallback when the query fails.
	size := rec.BaseQty
	if positions, perr := e.venue.Positions(ctx, e.category, rec.Symbol, e.cfg.Trading.Quote); perr == nil {
		for _, p := range positions {
			if p.Symbol == rec.Symbol && p.Size.IsPositive() {
				size = p.Size
			}
		}
	} else {
		log.Warn("position query failed, sizing TPs from base qty", "error", perr)
	}

	tpPlan := e.tpLadder(rec, entry, size, rules)
	dcaPlan := e.dcaLadder(rec, rules)
	slPrice := e.initialStop(rec, entry, rules)

	type tpResult struct {
		idx     int
		orderID string
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		tpDone  []tpResult
		dcaDone []tpResult
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := e.venue.SetTradingStop(ctx, types.TradingStop{
			Category:    e.category,
			Symbol:      rec.Symbol,
			StopLoss:    &slPrice,
			TPSLMode:    "Full",
			SLTriggerBy: "LastPrice",
		})
		if err != nil {
			log.Error("stop loss install failed", "error", err, "sl", slPrice)
		} else {
			log.Info("stop loss installed", "sl", slPrice)
		}
	}()

	for _, tp := range tpPlan {
		wg.Add(1)
		go func(idx int, price, qty decimal.Decimal) {
			defer wg.Done()
			orderID, err := e.venue.PlaceOrder(ctx, types.OrderRequest{
				Category:    e.category,
				Symbol:      rec.Symbol,
				Side:        rec.OrderSide.Opposite(),
				OrderType:   "Limit",
				Qty:         qty,
				Price:       price,
				TimeInForce: "GTC",
				ReduceOnly:  true,
				OrderLinkID: state.TPLink(rec.TradeID, idx),
			})
			if err != nil {
				log.Error("tp placement failed", "tp", idx, "error", err)
				return
			}
			mu.Lock()
			tpDone = append(tpDone, tpResult{idx: idx, orderID: orderID})
			mu.Unlock()
		}(tp.idx, tp.price, tp.qty)
	}

	for _, dca := range dcaPlan {
		wg.Add(1)
		go func(idx int, price, qty decimal.Decimal, dir types.TriggerDirection) {
			defer wg.Done()
			trigger := price
			orderID, err := e.venue.PlaceOrder(ctx, types.OrderRequest{
				Category:     e.category,
				Symbol:       rec.Symbol,
				Side:         rec.OrderSide,
				OrderType:    "Limit",
				Qty:          qty,
				Price:        price,
				TriggerPrice: &trigger,
				TriggerDir:   dir,
				TriggerBy:    "LastPrice",
				TimeInForce:  "GTC",
				OrderLinkID:  state.DCALink(rec.TradeID, idx),
			})
			if err != nil {
				log.Error("dca placement failed", "dca", idx, "error", err)
				return
			}
			mu.Lock()
			dcaDone = append(dcaDone, tpResult{idx: idx, orderID: orderID})
			mu.Unlock()
		}(dca.idx, dca.price, dca.qty, dca.dir)
	}

	wg.Wait()

	// Results are applied here, back on the owner goroutine.
	for _, r := range tpDone {
		if rec.TPOrderIDs == nil {
			rec.TPOrderIDs = make(map[int]string)
		}
		rec.TPOrderIDs[r.idx] = r.orderID
		if r.idx == 1 {
			rec.TP1OrderID = r.orderID
		}
	}
	for _, r := range dcaDone {
		if rec.DCAOrderIDs == nil {
			rec.DCAOrderIDs = make(map[int]string)
		}
		rec.DCAOrderIDs[r.idx] = r.orderID
	}
	rec.PostOrdersPlaced = true

	log.Info("post-entry orders placed",
		"tps", len(tpDone), "tps_planned", len(tpPlan),
		"dcas", len(dcaDone), "dcas_planned", len(dcaPlan))
}

type ladderOrder struct {
	idx   int
	price decimal.Decimal
	qty   decimal.Decimal
	dir   types.TriggerDirection
}

// tpLadder builds the reduce-only TP plan: one order per configured split,
// priced from the signal's ladder or, when the signal had none, from the
// fallback distances. Splits may sum below 100; the remainder is the runner.
func (e *Engine) tpLadder(rec *state.TradeRecord, entry, size decimal.Decimal, rules types.InstrumentRules) []ladderOrder {
	var plan []ladderOrder
	for i, split := range rec.TPSplits {
		if !split.IsPositive() {
			continue
		}
		price, ok := e.tpPrice(rec, entry, i)
		if !ok {
			continue
		}
		qty := floorToStep(size.Mul(split).Div(hundred), rules.QtyStep)
		if !qty.IsPositive() {
			continue
		}
		plan = append(plan, ladderOrder{
			idx:   i + 1,
			price: roundToTick(price, rules.TickSize),
			qty:   qty,
		})
	}
	return plan
}

func (e *Engine) tpPrice(rec *state.TradeRecord, entry decimal.Decimal, i int) (decimal.Decimal, bool) {
	if i < len(rec.TPPrices) {
		return rec.TPPrices[i], true
	}
	if i >= len(e.cfg.Exit.FallbackTPPct) {
		return decimal.Zero, false
	}
	dist := pctOf(entry, decimal.NewFromFloat(e.cfg.Exit.FallbackTPPct[i]))
	if rec.OrderSide == types.Buy {
		return entry.Add(dist), true
	}
	return entry.Sub(dist), true
}

// dcaLadder builds the same-side conditional adds: qty = base_qty × mult,
// armed at the signal's DCA prices. A long adds when price falls to the
// level; a short when it rises.
func (e *Engine) dcaLadder(rec *state.TradeRecord, rules types.InstrumentRules) []ladderOrder {
	dir := types.TriggerFallsTo
	if rec.OrderSide == types.Sell {
		dir = types.TriggerRisesTo
	}

	var plan []ladderOrder
	for j, price := range rec.DCAPrices {
		if j >= len(e.cfg.Exit.DCAQtyMults) {
			break
		}
		qty := floorToStep(rec.BaseQty.Mul(decimal.NewFromFloat(e.cfg.Exit.DCAQtyMults[j])), rules.QtyStep)
		if !qty.IsPositive() {
			continue
		}
		plan = append(plan, ladderOrder{
			idx:   j + 1,
			price: roundToTick(price, rules.TickSize),
			qty:   qty,
			dir:   dir,
		})
	}
	return plan
}

// initialStop picks the signal's SL when present, else derives it from the
// configured distance, and rounds to tick.
func (e *Engine) initialStop(rec *state.TradeRecord, entry decimal.Decimal, rules types.InstrumentRules) decimal.Decimal {
	if rec.SLPricePlanned != nil {
		return roundToTick(*rec.SLPricePlanned, rules.TickSize)
	}
	dist := pctOf(entry, decimal.NewFromFloat(e.cfg.Exit.InitialSLPct))
	if rec.OrderSide == types.Buy {
		return roundToTick(entry.Sub(dist), rules.TickSize)
	}
	return roundToTick(entry.Add(dist), rules.TickSize)
}
