// Package config defines all configuration for the signal executor.
// Everything is environment-first (the executor is deployed as a long-running
// process with a .env file); an optional YAML file can pre-seed values and
// each key maps to the env var of the same name.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	DryRun bool

	Discord  DiscordConfig
	Bybit    BybitConfig
	Trading  TradingConfig
	Entry    EntryConfig
	Exit     ExitConfig
	Timing   TimingConfig
	Store    StoreConfig
	Logging  LoggingConfig
	Telegram TelegramConfig
}

// DiscordConfig identifies the signal channel and how to read it.
type DiscordConfig struct {
	Token      string
	ChannelID  string
	FetchLimit int // messages per page, clamped to [1, 100]
}

// BybitConfig holds venue credentials and endpoint selection.
// Demo (paper trading on live data) takes precedence over Testnet.
type BybitConfig struct {
	APIKey      string
	APISecret   string
	Testnet     bool
	Demo        bool
	RecvWindow  string
	AccountType string // UNIFIED / CONTRACT
}

// TradingConfig sets sizing and global caps.
type TradingConfig struct {
	Category            string // linear / inverse / spot
	Quote               string // e.g. USDT
	Leverage            int
	RiskPct             float64 // % of equity used as margin per trade
	MaxConcurrentTrades int
	MaxTradesPerDay     int
	MaxSignalLagSec     int // reject signals older than this
}

// EntryConfig tunes entry arming and the distance gates.
type EntryConfig struct {
	ExpirationMin      int     // cancel unfilled entries after this many minutes
	TooFarPct          float64 // skip if price already moved this far past trigger
	TriggerBufferPct   float64 // shift the trigger slightly in our favor
	LimitOffsetPct     float64 // limit price offset for fill quality
	ExpirationPricePct float64 // tighter "market blew through the level" gate
}

// ExitConfig tunes the TP ladder, stop management and DCA adds.
//
// TPSplits are percentages of the position closed per TP level. Sums under
// 100 are deliberate (the remainder is the runner); only sums over 100 are
// normalized back down.
type ExitConfig struct {
	InitialSLPct      float64 // SL distance from entry when the signal has none
	MoveSLToBEOnTP1   bool
	TPSplits          []float64
	FallbackTPPct     []float64 // TP distances from entry when the signal has none
	TrailAfterTPIndex int       // start trailing once this TP fills (1-based)
	TrailDistancePct  float64
	TrailActivateOnTP bool
	DCAQtyMults       []float64 // DCA n qty = base qty * mult n
}

// TimingConfig drives the supervisor tickers.
type TimingConfig struct {
	PollSeconds             int
	PollJitterMax           int
	SignalUpdateIntervalSec int
}

// StoreConfig sets where the ledger document is persisted.
type StoreConfig struct {
	StateFilePath string
}

type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// TelegramConfig configures the optional drawdown/lifecycle alerts.
// Alerts are disabled when token or chat id is empty.
type TelegramConfig struct {
	BotToken        string
	ChatID          string
	AlertThresholds []float64 // leveraged-loss %, e.g. 25,35,50
}

// Load reads configuration from an optional YAML file with env overrides.
// Every key is bound to the env var noted next to its default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		DryRun: v.GetBool("dry_run"),
		Discord: DiscordConfig{
			Token:      v.GetString("discord.token"),
			ChannelID:  v.GetString("discord.channel_id"),
			FetchLimit: v.GetInt("discord.fetch_limit"),
		},
		Bybit: BybitConfig{
			APIKey:      v.GetString("bybit.api_key"),
			APISecret:   v.GetString("bybit.api_secret"),
			Testnet:     v.GetBool("bybit.testnet"),
			Demo:        v.GetBool("bybit.demo"),
			RecvWindow:  v.GetString("bybit.recv_window"),
			AccountType: v.GetString("bybit.account_type"),
		},
		Trading: TradingConfig{
			Category:            v.GetString("trading.category"),
			Quote:               strings.ToUpper(v.GetString("trading.quote")),
			Leverage:            v.GetInt("trading.leverage"),
			RiskPct:             v.GetFloat64("trading.risk_pct"),
			MaxConcurrentTrades: v.GetInt("trading.max_concurrent_trades"),
			MaxTradesPerDay:     v.GetInt("trading.max_trades_per_day"),
			MaxSignalLagSec:     v.GetInt("trading.max_signal_lag_sec"),
		},
		Entry: EntryConfig{
			ExpirationMin:      v.GetInt("entry.expiration_min"),
			TooFarPct:          v.GetFloat64("entry.too_far_pct"),
			TriggerBufferPct:   v.GetFloat64("entry.trigger_buffer_pct"),
			LimitOffsetPct:     v.GetFloat64("entry.limit_price_offset_pct"),
			ExpirationPricePct: v.GetFloat64("entry.expiration_price_pct"),
		},
		Exit: ExitConfig{
			InitialSLPct:      v.GetFloat64("exit.initial_sl_pct"),
			MoveSLToBEOnTP1:   v.GetBool("exit.move_sl_to_be_on_tp1"),
			TPSplits:          parseFloats(v.GetString("exit.tp_splits")),
			FallbackTPPct:     parseFloats(v.GetString("exit.fallback_tp_pct")),
			TrailAfterTPIndex: v.GetInt("exit.trail_after_tp_index"),
			TrailDistancePct:  v.GetFloat64("exit.trail_distance_pct"),
			TrailActivateOnTP: v.GetBool("exit.trail_activate_on_tp"),
			DCAQtyMults:       parseFloats(v.GetString("exit.dca_qty_mults")),
		},
		Timing: TimingConfig{
			PollSeconds:             v.GetInt("timing.poll_seconds"),
			PollJitterMax:           v.GetInt("timing.poll_jitter_max"),
			SignalUpdateIntervalSec: v.GetInt("timing.signal_update_interval_sec"),
		},
		Store: StoreConfig{
			StateFilePath: v.GetString("store.state_file_path"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Telegram: TelegramConfig{
			BotToken:        v.GetString("telegram.bot_token"),
			ChatID:          v.GetString("telegram.chat_id"),
			AlertThresholds: parseFloats(v.GetString("telegram.alert_thresholds")),
		},
	}

	// Splits over 100% are a config mistake; scale back. Sums under 100 are
	// the runner and stay untouched.
	if sum := sumFloats(cfg.Exit.TPSplits); sum > 100 {
		for i := range cfg.Exit.TPSplits {
			cfg.Exit.TPSplits[i] = cfg.Exit.TPSplits[i] * 100 / sum
		}
	}

	if cfg.Discord.FetchLimit < 1 {
		cfg.Discord.FetchLimit = 1
	}
	if cfg.Discord.FetchLimit > 100 {
		cfg.Discord.FetchLimit = 100
	}

	return cfg, nil
}

// Validate checks required fields and value ranges. Missing credentials are
// the only fatal startup condition; everything else degrades at runtime.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required (set DISCORD_TOKEN)")
	}
	if c.Discord.ChannelID == "" {
		return fmt.Errorf("discord.channel_id is required (set CHANNEL_ID)")
	}
	if c.Bybit.APIKey == "" || c.Bybit.APISecret == "" {
		return fmt.Errorf("bybit credentials are required (set BYBIT_API_KEY, BYBIT_API_SECRET)")
	}
	switch c.Trading.Category {
	case "linear", "inverse", "spot":
	default:
		return fmt.Errorf("trading.category must be linear, inverse or spot")
	}
	if c.Trading.Leverage <= 0 {
		return fmt.Errorf("trading.leverage must be > 0")
	}
	if c.Trading.RiskPct <= 0 {
		return fmt.Errorf("trading.risk_pct must be > 0")
	}
	if c.Trading.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("trading.max_concurrent_trades must be > 0")
	}
	if c.Trading.MaxTradesPerDay <= 0 {
		return fmt.Errorf("trading.max_trades_per_day must be > 0")
	}
	if c.Timing.PollSeconds <= 0 {
		return fmt.Errorf("timing.poll_seconds must be > 0")
	}
	if c.Timing.SignalUpdateIntervalSec <= 0 {
		// Feeds a ticker; zero or negative would panic at startup.
		return fmt.Errorf("timing.signal_update_interval_sec must be > 0")
	}
	for _, s := range c.Exit.TPSplits {
		if s < 0 {
			return fmt.Errorf("exit.tp_splits must not contain negative values")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dry_run", true)

	v.SetDefault("discord.fetch_limit", 50)

	v.SetDefault("bybit.testnet", false)
	v.SetDefault("bybit.demo", false)
	v.SetDefault("bybit.recv_window", "5000")
	v.SetDefault("bybit.account_type", "UNIFIED")

	v.SetDefault("trading.category", "linear")
	v.SetDefault("trading.quote", "USDT")
	v.SetDefault("trading.leverage", 5)
	v.SetDefault("trading.risk_pct", 5.0)
	v.SetDefault("trading.max_concurrent_trades", 3)
	v.SetDefault("trading.max_trades_per_day", 20)
	v.SetDefault("trading.max_signal_lag_sec", 300)

	v.SetDefault("entry.expiration_min", 180)
	v.SetDefault("entry.too_far_pct", 0.5)
	v.SetDefault("entry.trigger_buffer_pct", 0.0)
	v.SetDefault("entry.limit_price_offset_pct", 0.0)
	v.SetDefault("entry.expiration_price_pct", 0.6)

	v.SetDefault("exit.initial_sl_pct", 19.0)
	v.SetDefault("exit.move_sl_to_be_on_tp1", true)
	v.SetDefault("exit.tp_splits", "30,30,30")
	v.SetDefault("exit.fallback_tp_pct", "0.85,1.65,4.0")
	v.SetDefault("exit.trail_after_tp_index", 3)
	v.SetDefault("exit.trail_distance_pct", 2.0)
	v.SetDefault("exit.trail_activate_on_tp", true)
	v.SetDefault("exit.dca_qty_mults", "1.5,2.25")

	v.SetDefault("timing.poll_seconds", 15)
	v.SetDefault("timing.poll_jitter_max", 5)
	v.SetDefault("timing.signal_update_interval_sec", 60)

	v.SetDefault("store.state_file_path", "state.json")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("telegram.alert_thresholds", "25,35,50")
}

// bindEnv wires each key to its historical env var name.
func bindEnv(v *viper.Viper) {
	for key, env := range map[string]string{
		"dry_run":                           "DRY_RUN",
		"discord.token":                     "DISCORD_TOKEN",
		"discord.channel_id":                "CHANNEL_ID",
		"discord.fetch_limit":               "DISCORD_FETCH_LIMIT",
		"bybit.api_key":                     "BYBIT_API_KEY",
		"bybit.api_secret":                  "BYBIT_API_SECRET",
		"bybit.testnet":                     "BYBIT_TESTNET",
		"bybit.demo":                        "BYBIT_DEMO",
		"bybit.recv_window":                 "RECV_WINDOW",
		"bybit.account_type":                "ACCOUNT_TYPE",
		"trading.category":                  "CATEGORY",
		"trading.quote":                     "QUOTE",
		"trading.leverage":                  "LEVERAGE",
		"trading.risk_pct":                  "RISK_PCT",
		"trading.max_concurrent_trades":     "MAX_CONCURRENT_TRADES",
		"trading.max_trades_per_day":        "MAX_TRADES_PER_DAY",
		"trading.max_signal_lag_sec":        "MAX_SIGNAL_LAG_SEC",
		"entry.expiration_min":              "ENTRY_EXPIRATION_MIN",
		"entry.too_far_pct":                 "ENTRY_TOO_FAR_PCT",
		"entry.trigger_buffer_pct":          "ENTRY_TRIGGER_BUFFER_PCT",
		"entry.limit_price_offset_pct":      "ENTRY_LIMIT_PRICE_OFFSET_PCT",
		"entry.expiration_price_pct":        "ENTRY_EXPIRATION_PRICE_PCT",
		"exit.initial_sl_pct":               "INITIAL_SL_PCT",
		"exit.move_sl_to_be_on_tp1":         "MOVE_SL_TO_BE_ON_TP1",
		"exit.tp_splits":                    "TP_SPLITS",
		"exit.fallback_tp_pct":              "FALLBACK_TP_PCT",
		"exit.trail_after_tp_index":         "TRAIL_AFTER_TP_INDEX",
		"exit.trail_distance_pct":           "TRAIL_DISTANCE_PCT",
		"exit.trail_activate_on_tp":         "TRAIL_ACTIVATE_ON_TP",
		"exit.dca_qty_mults":                "DCA_QTY_MULTS",
		"timing.poll_seconds":               "POLL_SECONDS",
		"timing.poll_jitter_max":            "POLL_JITTER_MAX",
		"timing.signal_update_interval_sec": "SIGNAL_UPDATE_INTERVAL_SEC",
		"store.state_file_path":             "STATE_FILE",
		"logging.level":                     "LOG_LEVEL",
		"logging.format":                    "LOG_FORMAT",
		"telegram.bot_token":                "TELEGRAM_BOT_TOKEN",
		"telegram.chat_id":                  "TELEGRAM_CHAT_ID",
		"telegram.alert_thresholds":         "POSITION_ALERT_THRESHOLDS",
	} {
		_ = v.BindEnv(key, env)
	}
}

// parseFloats parses a comma-separated list, skipping empty items.
// Unparseable items are dropped rather than failing the whole load.
func parseFloats(s string) []float64 {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

func sumFloats(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum
}
