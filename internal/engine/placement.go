// placement.go arms the conditional entry order for an accepted signal.
package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/state"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

// placeEntry sizes, arms and persists a new pending trade. The daily counter
// is incremented exactly once, here, on successful placement.
func (e *Engine) placeEntry(ctx context.Context, intent *types.SignalIntent, msg types.Message, fp string) {
	symbol := intent.Symbol()
	log := e.logger.With("symbol", symbol, "side", intent.Side)

	rules, err := e.rules.Get(ctx, e.category, symbol)
	if err != nil {
		log.Warn("placement aborted: instrument rules unavailable", "error", err)
		e.doc().AddFingerprint(fp)
		return
	}

	sz, err := e.computeSizing(ctx, intent.Trigger, rules)
	if err != nil {
		log.Warn("placement aborted: sizing failed", "error", err)
		e.doc().AddFingerprint(fp)
		return
	}

	// Best-effort: an unchanged or rejected leverage must not block entry.
	if err := e.venue.SetLeverage(ctx, e.category, symbol, e.cfg.Trading.Leverage); err != nil {
		log.Warn("set leverage failed, continuing", "error", err)
	}

	last, err := e.venue.LastPrice(ctx, e.category, symbol)
	if err != nil {
		log.Warn("placement aborted: last price unavailable", "error", err)
		e.doc().AddFingerprint(fp)
		return
	}

	triggerAdj, limitPrice := e.entryPrices(intent.Side, intent.Trigger, rules)
	dir := types.TriggerRisesTo
	if last.GreaterThan(triggerAdj) {
		dir = types.TriggerFallsTo
	}

	placed := e.now()
	tradeID := state.NewTradeID(symbol, intent.Side, placed)

	orderID, err := e.venue.PlaceOrder(ctx, types.OrderRequest{
		Category:     e.category,
		Symbol:       symbol,
		Side:         intent.Side,
		OrderType:    "Limit",
		Qty:          sz.BaseQty,
		Price:        limitPrice,
		TriggerPrice: &triggerAdj,
		TriggerDir:   dir,
		TriggerBy:    "LastPrice",
		TimeInForce:  "GTC",
		OrderLinkID:  tradeID,
	})
	if err != nil {
		log.Error("entry placement failed", "error", err)
		e.doc().AddFingerprint(fp)
		return
	}

	rec := &state.TradeRecord{
		TradeID:           tradeID,
		Symbol:            symbol,
		OrderSide:         intent.Side,
		PositionSide:      intent.Side.PositionSide(),
		Trigger:           intent.Trigger,
		TPPrices:          intent.TPPrices,
		TPSplits:          e.tpSplits(),
		DCAPrices:         intent.DCAPrices,
		SLPricePlanned:    intent.SLPrice,
		BaseQty:           sz.BaseQty,
		Leverage:          e.cfg.Trading.Leverage,
		RiskPct:           decimal.NewFromFloat(e.cfg.Trading.RiskPct),
		RiskAmount:        sz.RiskAmount,
		EquityAtPlacement: sz.Equity,
		SourceMsgID:       msg.ID,
		EntryOrderID:      orderID,
		Status:            state.StatusPending,
		PlacedTS:          placed.Unix(),
	}
	e.doc().OpenTrades[tradeID] = rec
	e.doc().AddFingerprint(fp)
	e.doc().IncrementDaily(e.dayKey(placed))
	e.persist()

	log.Info("entry armed",
		"trade_id", tradeID,
		"trigger", triggerAdj,
		"limit", limitPrice,
		"qty", sz.BaseQty,
		"direction", int(dir),
		"equity", sz.Equity)
}

// entryPrices derives the armed trigger and limit price. The buffer shifts
// the trigger in the position's favor (lower for longs, higher for shorts);
// the limit offset makes the limit marginally worse than the trigger so the
// order actually fills when armed.
func (e *Engine) entryPrices(side types.Side, trigger decimal.Decimal, rules types.InstrumentRules) (triggerAdj, limitPrice decimal.Decimal) {
	buffer := pctOf(trigger, decimal.NewFromFloat(e.cfg.Entry.TriggerBufferPct))
	offset := pctOf(trigger, decimal.NewFromFloat(e.cfg.Entry.LimitOffsetPct))

	if side == types.Buy {
		triggerAdj = trigger.Sub(buffer)
		limitPrice = trigger.Add(offset)
	} else {
		triggerAdj = trigger.Add(buffer)
		limitPrice = trigger.Sub(offset)
	}
	return roundToTick(triggerAdj, rules.TickSize), roundToTick(limitPrice, rules.TickSize)
}

func (e *Engine) tpSplits() []decimal.Decimal {
	splits := make([]decimal.Decimal, 0, len(e.cfg.Exit.TPSplits))
	for _, s := range e.cfg.Exit.TPSplits {
		splits = append(splits, decimal.NewFromFloat(s))
	}
	return splits
}
