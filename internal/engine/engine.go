// Package engine implements the trade lifecycle core.
//
// The engine owns the ledger: every mutation happens on the single Run
// goroutine, which consumes private-stream events and drives the periodic
// work (signal ingest, maintenance, amendment checks, heartbeat). Venue and
// chat I/O are reached through narrow interfaces so the lifecycle logic is
// testable against fakes. The only concurrency inside the engine is the
// post-entry order fan-out, which is joined before its results are applied.
package engine

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/config"
	"github.com/candree7-rgb/aoalgo/internal/state"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

// Venue is the slice of the venue REST client the engine uses.
type Venue interface {
	LastPrice(ctx context.Context, category types.Category, symbol string) (decimal.Decimal, error)
	WalletEquity(ctx context.Context, accountType string) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, category types.Category, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, category types.Category, symbol, orderID string) error
	OpenOrders(ctx context.Context, category types.Category, symbol string) ([]types.OpenOrder, error)
	Positions(ctx context.Context, category types.Category, symbol, settleCoin string) ([]types.Position, error)
	SetTradingStop(ctx context.Context, ts types.TradingStop) error
	ClosedPnL(ctx context.Context, category types.Category, symbol string, startTime time.Time, limit int) ([]types.ClosedPnL, error)
}

// Rules resolves per-symbol precision constraints (backed by the TTL cache).
type Rules interface {
	Get(ctx context.Context, category types.Category, symbol string) (types.InstrumentRules, error)
}

// Chat is the slice of the chat client the engine uses.
type Chat interface {
	FetchNew(ctx context.Context, afterID string) ([]types.Message, error)
	FetchMessage(ctx context.Context, msgID string) (types.Message, error)
}

// Parser maps message text to intents, statuses and updates.
type Parser interface {
	Parse(text, quote string) (*types.SignalIntent, bool)
	ParseUpdate(text string) types.SignalUpdate
	ClassifyStatus(text string) types.SignalStatus
	Fingerprint(in *types.SignalIntent) string
}

// Notifier receives lifecycle alerts. Implementations must be non-blocking
// friendly and must never fail the caller.
type Notifier interface {
	TradeOpened(ctx context.Context, symbol string, side types.PositionSide, entry, qty decimal.Decimal)
	TradeClosed(ctx context.Context, symbol string, side types.PositionSide, pnl decimal.Decimal, exitReason string, tpFills, dcaFills int)
	Drawdown(ctx context.Context, symbol string, side types.PositionSide, threshold float64, pnlPct, avgEntry, current decimal.Decimal, dcaFills, dcaCount int)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Venue  Venue
	Rules  Rules
	Chat   Chat
	Parser Parser
	Store  *state.Store
	Alerts Notifier
	Events <-chan types.StreamEvent
	Logger *slog.Logger
}

// Engine drives the full trade lifecycle.
type Engine struct {
	cfg    *config.Config
	venue  Venue
	rules  Rules
	chat   Chat
	parser Parser
	store  *state.Store
	alerts Notifier
	events <-chan types.StreamEvent
	logger *slog.Logger

	category types.Category

	// now is swappable for tests.
	now func() time.Time
}

// New wires an engine. Deps.Alerts may be nil (alerts disabled).
func New(cfg *config.Config, deps Deps) *Engine {
	return &Engine{
		cfg:      cfg,
		venue:    deps.Venue,
		rules:    deps.Rules,
		chat:     deps.Chat,
		parser:   deps.Parser,
		store:    deps.Store,
		alerts:   deps.Alerts,
		events:   deps.Events,
		logger:   deps.Logger.With("component", "engine"),
		category: types.Category(cfg.Trading.Category),
		now:      time.Now,
	}
}

// doc is shorthand for the live ledger document.
func (e *Engine) doc() *state.Document { return e.store.Document() }

// persist saves the ledger after a mutation batch. Failures are logged;
// the in-memory state stays authoritative until the next save succeeds.
func (e *Engine) persist() {
	if err := e.store.Save(); err != nil {
		e.logger.Error("state save failed", "error", err)
	}
}

// Run is the owner loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.StartupSync(ctx)

	signalTimer := time.NewTimer(e.pollInterval())
	defer signalTimer.Stop()
	maintTimer := time.NewTimer(e.pollInterval())
	defer maintTimer.Stop()
	amendTicker := time.NewTicker(time.Duration(e.cfg.Timing.SignalUpdateIntervalSec) * time.Second)
	defer amendTicker.Stop()
	heartbeat := time.NewTicker(time.Minute)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			e.persist()
			return ctx.Err()

		case evt, ok := <-e.events:
			if !ok {
				e.logger.Warn("stream channel closed")
				e.events = nil
				continue
			}
			e.handleStreamEvent(ctx, evt)

		case <-signalTimer.C:
			e.IngestSignals(ctx)
			signalTimer.Reset(e.pollInterval())

		case <-maintTimer.C:
			e.Maintain(ctx)
			maintTimer.Reset(e.pollInterval())

		case <-amendTicker.C:
			e.ReconcileAmendments(ctx)

		case <-heartbeat.C:
			e.logHeartbeat()
		}
	}
}

// pollInterval is the base poll cadence plus a small random jitter, so
// restarts across deployments don't synchronize their bursts.
func (e *Engine) pollInterval() time.Duration {
	base := time.Duration(e.cfg.Timing.PollSeconds) * time.Second
	if e.cfg.Timing.PollJitterMax > 0 {
		base += time.Duration(rand.N(e.cfg.Timing.PollJitterMax+1)) * time.Second
	}
	return base
}

func (e *Engine) handleStreamEvent(ctx context.Context, evt types.StreamEvent) {
	switch evt.Kind {
	case types.StreamExecution:
		e.handleExecution(ctx, evt.Execution)
	case types.StreamOrder:
		// Order lifecycle events are informational; fills arrive as
		// executions and cancels are observed by the maintenance poll.
		e.logger.Debug("order event",
			"symbol", evt.Order.Symbol,
			"link_id", evt.Order.OrderLinkID,
			"status", evt.Order.OrderStatus)
	case types.StreamResubscribed:
		// The stream was gone for a while; poll immediately instead of
		// waiting out the tick so missed fills are reconciled quickly.
		e.logger.Info("stream resubscribed, reconciling")
		e.Maintain(ctx)
	}
}

func (e *Engine) logHeartbeat() {
	pending, open := 0, 0
	for _, r := range e.doc().OpenTrades {
		switch r.Status {
		case state.StatusPending:
			pending++
		case state.StatusOpen:
			open++
		}
	}
	e.logger.Info("heartbeat",
		"pending", pending,
		"open", open,
		"today", e.doc().DailyCount(e.dayKey(e.now())),
		"last_seen_msg", e.doc().LastSeenMsgID)
}

func (e *Engine) dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// StartupSync surfaces venue positions that have no ledger record. Orphans
// are warned about, never adopted: the engine must not manage a position
// whose history it does not own.
func (e *Engine) StartupSync(ctx context.Context) {
	positions, err := e.venue.Positions(ctx, e.category, "", e.cfg.Trading.Quote)
	if err != nil {
		e.logger.Warn("startup position sync failed", "error", err)
		return
	}

	known := make(map[string]bool)
	for _, r := range e.doc().OpenTrades {
		if r.Active() {
			known[r.Symbol] = true
		}
	}

	for _, p := range positions {
		if p.Size.IsZero() {
			continue
		}
		if known[p.Symbol] {
			e.logger.Info("startup: position matched to ledger", "symbol", p.Symbol, "size", p.Size)
			continue
		}
		e.logger.Error("ORPHAN POSITION: venue position with no ledger record; not touching it",
			"symbol", p.Symbol,
			"side", p.Side,
			"size", p.Size,
			"avg_price", p.AvgPrice)
	}
}
