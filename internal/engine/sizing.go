// sizing.go converts risk configuration into venue-legal quantities and
// prices.
package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/pkg/types"
)

var hundred = decimal.New(100, 0)

// floorToStep rounds a quantity down to the instrument's lot step.
func floorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// roundToTick rounds a price to the nearest tick.
func roundToTick(p, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return p
	}
	return p.Div(tick).Round(0).Mul(tick)
}

// pctOf returns base * pct/100.
func pctOf(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// sizing is the computed plan for a new entry.
type sizing struct {
	BaseQty    decimal.Decimal
	Equity     decimal.Decimal
	RiskAmount decimal.Decimal
}

// computeSizing derives the base quantity: risk_pct of equity as margin,
// levered into notional at the trigger price, floored to the lot step and
// clamped up to the venue minimum.
func (e *Engine) computeSizing(ctx context.Context, trigger decimal.Decimal, rules types.InstrumentRules) (sizing, error) {
	equity, err := e.venue.WalletEquity(ctx, e.cfg.Bybit.AccountType)
	if err != nil {
		return sizing{}, fmt.Errorf("wallet equity: %w", err)
	}

	riskPct := decimal.NewFromFloat(e.cfg.Trading.RiskPct)
	margin := pctOf(equity, riskPct)
	notional := margin.Mul(decimal.New(int64(e.cfg.Trading.Leverage), 0))

	qty := floorToStep(notional.Div(trigger), rules.QtyStep)
	if qty.LessThan(rules.MinQty) {
		qty = rules.MinQty
	}

	return sizing{
		BaseQty:    qty,
		Equity:     equity,
		RiskAmount: margin,
	}, nil
}
