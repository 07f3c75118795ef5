// signals.go ingests chat messages and gates them into placements.
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/pkg/types"
)

// IngestSignals fetches messages after the last-seen cursor and runs each
// through classify → parse → gate → place.
func (e *Engine) IngestSignals(ctx context.Context) {
	msgs, err := e.chat.FetchNew(ctx, e.doc().LastSeenMsgID)
	if err != nil {
		e.logger.Warn("chat fetch failed", "error", err)
	}
	if len(msgs) == 0 {
		return
	}

	for _, msg := range msgs {
		e.HandleMessage(ctx, msg)
		e.doc().LastSeenMsgID = msg.ID
	}
	e.persist()
}

// HandleMessage processes one chat message. Non-signals are silently
// ignored; gate rejections are recorded for audit.
func (e *Engine) HandleMessage(ctx context.Context, msg types.Message) {
	intent, ok := e.parser.Parse(msg.Text, e.cfg.Trading.Quote)
	if !ok {
		return
	}
	fp := e.parser.Fingerprint(intent)
	log := e.logger.With("symbol", intent.Symbol(), "msg_id", msg.ID, "fingerprint", fp)

	if reason, keepFP := e.gate(ctx, intent, msg, fp); reason != "" {
		log.Info("signal rejected", "reason", reason)
		if keepFP {
			e.doc().AddFingerprint(fp)
		}
		return
	}

	e.placeEntry(ctx, intent, msg, fp)
}

// gate applies the pre-placement checks in order. It returns a non-empty
// rejection reason on failure, plus whether the fingerprint should still be
// remembered. A daily-cap rejection deliberately skips the fingerprint so
// the same signal can be re-evaluated after the UTC rollover.
func (e *Engine) gate(ctx context.Context, intent *types.SignalIntent, msg types.Message, fp string) (reason string, keepFingerprint bool) {
	doc := e.doc()

	if doc.ActiveCount() >= e.cfg.Trading.MaxConcurrentTrades {
		return "max_concurrent_trades", true
	}
	if doc.DailyCount(e.dayKey(e.now())) >= e.cfg.Trading.MaxTradesPerDay {
		return "daily_cap", false
	}
	if doc.HasFingerprint(fp) {
		return "duplicate_signal", false
	}
	if !msg.Timestamp.IsZero() {
		if age := e.now().Sub(msg.Timestamp); age > time.Duration(e.cfg.Trading.MaxSignalLagSec)*time.Second {
			return "stale_signal", true
		}
	}
	if status := e.parser.ClassifyStatus(msg.Text); status != types.StatusActive && status != types.StatusUnknown {
		return "status_" + string(status), true
	}

	last, err := e.venue.LastPrice(ctx, e.category, intent.Symbol())
	if err != nil {
		return "price_unavailable", true
	}
	if tooFar(intent.Side, last, intent.Trigger, e.cfg.Entry.TooFarPct) {
		return "too_far_past_trigger", true
	}
	if tooFar(intent.Side, last, intent.Trigger, e.cfg.Entry.ExpirationPricePct) {
		return "beyond_expiry_price", true
	}

	return "", false
}

// tooFar reports whether last has already moved past the trigger by more
// than pct. The comparison uses the raw signal trigger, not the buffered
// one the entry order is armed with.
func tooFar(side types.Side, last, trigger decimal.Decimal, pct float64) bool {
	threshold := decimal.NewFromFloat(pct)
	if side == types.Sell {
		// Short: price already fell through the level.
		return last.LessThanOrEqual(trigger.Sub(pctOf(trigger, threshold)))
	}
	// Long: price already rose through the level.
	return last.GreaterThanOrEqual(trigger.Add(pctOf(trigger, threshold)))
}
