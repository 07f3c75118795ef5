// Package alerts sends operator notifications through the Telegram bot API.
//
// Alerts are strictly optional: with no token or chat id configured the
// notifier is disabled and every method is a cheap no-op. Failures are
// logged and swallowed; an alert must never affect trade handling.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/config"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

// Notifier sends messages to one Telegram chat.
type Notifier struct {
	http    *resty.Client
	chatID  string
	enabled bool
	logger  *slog.Logger
}

// NewNotifier builds a notifier from config. Missing credentials disable it.
func NewNotifier(cfg config.TelegramConfig, logger *slog.Logger) *Notifier {
	n := &Notifier{
		chatID:  cfg.ChatID,
		enabled: cfg.BotToken != "" && cfg.ChatID != "",
		logger:  logger.With("component", "alerts"),
	}
	if n.enabled {
		n.http = resty.New().
			SetBaseURL("https://api.telegram.org/bot" + cfg.BotToken).
			SetTimeout(10 * time.Second)
	}
	return n
}

// SetBaseURL overrides the endpoint. Used by tests.
func (n *Notifier) SetBaseURL(u string) {
	if n.http != nil {
		n.http.SetBaseURL(u)
	}
}

// Enabled reports whether alerts are configured.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts one HTML-formatted message. Errors are logged, not returned.
func (n *Notifier) Send(ctx context.Context, text string) {
	if !n.enabled {
		return
	}

	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    n.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post("/sendMessage")
	if err != nil {
		n.logger.Warn("telegram send failed", "error", err)
		return
	}
	if resp.StatusCode() != http.StatusOK {
		n.logger.Warn("telegram api error", "status", resp.StatusCode(), "body", resp.String())
	}
}

// TradeOpened announces a filled entry.
func (n *Notifier) TradeOpened(ctx context.Context, symbol string, side types.PositionSide, entry, qty decimal.Decimal) {
	n.Send(ctx, fmt.Sprintf(
		"<b>New Trade Opened</b>\n\n<b>%s</b> %s\nEntry: $%s\nSize: %s",
		symbol, strings.ToUpper(string(side)), entry, qty))
}

// TradeClosed announces final accounting for a closed trade.
func (n *Notifier) TradeClosed(ctx context.Context, symbol string, side types.PositionSide, pnl decimal.Decimal, exitReason string, tpFills, dcaFills int) {
	result := "LOSS"
	if pnl.IsPositive() {
		result = "WIN"
	}
	n.Send(ctx, fmt.Sprintf(
		"<b>Trade Closed: %s</b>\n\n<b>%s</b> %s\nPnL: <b>$%s</b>\nExit: %s\nTPs Hit: %d | DCAs: %d",
		result, symbol, strings.ToUpper(string(side)), pnl.StringFixed(4), exitReason, tpFills, dcaFills))
}

// Drawdown announces a leveraged-loss threshold crossing on an open
// position. The engine dedups per trade and threshold.
func (n *Notifier) Drawdown(ctx context.Context, symbol string, side types.PositionSide, threshold float64, pnlPct decimal.Decimal, avgEntry, current decimal.Decimal, dcaFills, dcaCount int) {
	n.Send(ctx, fmt.Sprintf(
		"<b>Position Alert: -%.0f%%</b>\n\n<b>%s</b> %s\nPosition P&L: <b>%s%%</b>\n\nAvg Entry: $%s\nCurrent: $%s\nDCAs: %d/%d",
		threshold, symbol, strings.ToUpper(string(side)), pnlPct.StringFixed(1), avgEntry, current, dcaFills, dcaCount))
}
