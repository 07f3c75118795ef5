package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DryRun {
		t.Error("expected dry_run to default to true")
	}
	if cfg.Trading.Category != "linear" {
		t.Errorf("category = %q, want linear", cfg.Trading.Category)
	}
	if cfg.Trading.Quote != "USDT" {
		t.Errorf("quote = %q, want USDT", cfg.Trading.Quote)
	}
	if got := cfg.Exit.TPSplits; len(got) != 3 || got[0] != 30 {
		t.Errorf("tp_splits = %v, want [30 30 30]", got)
	}
	if got := cfg.Exit.DCAQtyMults; len(got) != 2 || got[0] != 1.5 || got[1] != 2.25 {
		t.Errorf("dca_qty_mults = %v, want [1.5 2.25]", got)
	}
	if cfg.Bybit.RecvWindow != "5000" {
		t.Errorf("recv_window = %q, want 5000", cfg.Bybit.RecvWindow)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "tok")
	t.Setenv("CHANNEL_ID", "123")
	t.Setenv("BYBIT_API_KEY", "k")
	t.Setenv("BYBIT_API_SECRET", "s")
	t.Setenv("LEVERAGE", "10")
	t.Setenv("TP_SPLITS", "40,30,20")
	t.Setenv("DRY_RUN", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DryRun {
		t.Error("DRY_RUN=false not applied")
	}
	if cfg.Trading.Leverage != 10 {
		t.Errorf("leverage = %d, want 10", cfg.Trading.Leverage)
	}
	if got := cfg.Exit.TPSplits; len(got) != 3 || got[0] != 40 || got[2] != 20 {
		t.Errorf("tp_splits = %v, want [40 30 20]", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestTPSplitsNormalizedOnlyWhenOver100(t *testing.T) {
	t.Setenv("TP_SPLITS", "60,60,60")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var sum float64
	for _, s := range cfg.Exit.TPSplits {
		sum += s
	}
	if math.Abs(sum-100) > 1e-9 {
		t.Errorf("over-100 splits not normalized, sum = %v", sum)
	}

	t.Setenv("TP_SPLITS", "20,20,20")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sum = 0
	for _, s := range cfg.Exit.TPSplits {
		sum += s
	}
	if sum != 60 {
		t.Errorf("under-100 splits were rescaled, sum = %v (runner must stay)", sum)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("trading:\n  leverage: 7\n  risk_pct: 2.5\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trading.Leverage != 7 {
		t.Errorf("leverage = %d, want 7", cfg.Trading.Leverage)
	}
	if cfg.Trading.RiskPct != 2.5 {
		t.Errorf("risk_pct = %v, want 2.5", cfg.Trading.RiskPct)
	}
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate passed without credentials")
	}

	cfg.Discord.Token = "tok"
	cfg.Discord.ChannelID = "123"
	cfg.Bybit.APIKey = "k"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate passed without api secret")
	}
	cfg.Bybit.APISecret = "s"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRanges(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Discord.Token = "tok"
	cfg.Discord.ChannelID = "123"
	cfg.Bybit.APIKey = "k"
	cfg.Bybit.APISecret = "s"

	cfg.Trading.Leverage = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate passed with zero leverage")
	}
	cfg.Trading.Leverage = 5

	cfg.Trading.Category = "futures"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate passed with bad category")
	}
	cfg.Trading.Category = "linear"

	// Both intervals feed tickers; zero would panic at startup.
	cfg.Timing.PollSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate passed with zero poll interval")
	}
	cfg.Timing.PollSeconds = 15

	cfg.Timing.SignalUpdateIntervalSec = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate passed with zero signal update interval")
	}
}

func TestFetchLimitClamped(t *testing.T) {
	t.Setenv("DISCORD_FETCH_LIMIT", "500")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.FetchLimit != 100 {
		t.Errorf("fetch_limit = %d, want clamp to 100", cfg.Discord.FetchLimit)
	}
}

func TestParseFloatsSkipsGarbage(t *testing.T) {
	got := parseFloats(" 1.5, ,x,2 ")
	if len(got) != 2 || got[0] != 1.5 || got[1] != 2 {
		t.Errorf("parseFloats = %v, want [1.5 2]", got)
	}
}
