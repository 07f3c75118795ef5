package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/internal/state"
	"github.com/candree7-rgb/aoalgo/pkg/types"
)

func TestFloorToStep(t *testing.T) {
	t.Parallel()
	cases := []struct {
		qty, step, want string
	}{
		{"2.57", "0.1", "2.5"},
		{"2.5", "0.1", "2.5"},
		{"0.0999", "0.1", "0"},
		{"123.456", "1", "123"},
		{"7.7", "0", "7.7"}, // zero step leaves the input alone
	}
	for _, c := range cases {
		if got := floorToStep(dec(c.qty), dec(c.step)); !got.Equal(dec(c.want)) {
			t.Errorf("floorToStep(%s, %s) = %s, want %s", c.qty, c.step, got, c.want)
		}
	}
}

func TestRoundToTick(t *testing.T) {
	t.Parallel()
	cases := []struct {
		p, tick, want string
	}{
		{"100.84", "0.01", "100.84"},
		{"100.842", "0.01", "100.84"},
		{"100.848", "0.01", "100.85"},
		{"99.987", "0.05", "100"},
		{"0.12344", "0.0001", "0.1234"},
		{"42", "0", "42"},
	}
	for _, c := range cases {
		if got := roundToTick(dec(c.p), dec(c.tick)); !got.Equal(dec(c.want)) {
			t.Errorf("roundToTick(%s, %s) = %s, want %s", c.p, c.tick, got, c.want)
		}
	}
}

func TestPctOf(t *testing.T) {
	t.Parallel()
	if got := pctOf(dec("200"), dec("1.5")); !got.Equal(dec("3")) {
		t.Errorf("pctOf(200, 1.5) = %s, want 3", got)
	}
	if got := pctOf(dec("100"), decimal.Zero); !got.IsZero() {
		t.Errorf("pctOf(100, 0) = %s, want 0", got)
	}
}

func TestTooFar(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		side    types.Side
		last    string
		trigger string
		pct     float64
		want    bool
	}{
		{"long below trigger", types.Buy, "99", "100", 0.5, false},
		{"long just inside", types.Buy, "100.49", "100", 0.5, false},
		{"long at boundary", types.Buy, "100.5", "100", 0.5, true},
		{"long past", types.Buy, "100.6", "100", 0.5, true},
		{"short above trigger", types.Sell, "101", "100", 0.5, false},
		{"short at boundary", types.Sell, "99.5", "100", 0.5, true},
		{"short past", types.Sell, "99.4", "100", 0.5, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := tooFar(c.side, dec(c.last), dec(c.trigger), c.pct); got != c.want {
				t.Errorf("tooFar = %v, want %v", got, c.want)
			}
		})
	}
}

func TestEntryPrices(t *testing.T) {
	cfg := testConfig()
	cfg.Entry.TriggerBufferPct = 0.2
	cfg.Entry.LimitOffsetPct = 0.1
	h := newHarness(t, cfg)
	rules := types.InstrumentRules{TickSize: dec("0.1")}

	// Long: trigger pulled down in our favor, limit pushed up past it.
	triggerAdj, limit := h.eng.entryPrices(types.Buy, dec("100"), rules)
	if !triggerAdj.Equal(dec("99.8")) || !limit.Equal(dec("100.1")) {
		t.Errorf("buy trigger=%s limit=%s, want 99.8 / 100.1", triggerAdj, limit)
	}

	// Short mirror.
	triggerAdj, limit = h.eng.entryPrices(types.Sell, dec("100"), rules)
	if !triggerAdj.Equal(dec("100.2")) || !limit.Equal(dec("99.9")) {
		t.Errorf("sell trigger=%s limit=%s, want 100.2 / 99.9", triggerAdj, limit)
	}
}

func TestSplitLink(t *testing.T) {
	t.Parallel()
	cases := []struct {
		link, tradeID, tag string
	}{
		{"BTCUSDT|Buy|1700000000", "BTCUSDT|Buy|1700000000", ""},
		{"BTCUSDT|Buy|1700000000:TP2", "BTCUSDT|Buy|1700000000", "TP2"},
		{"BTCUSDT|Buy|1700000000:DCA1", "BTCUSDT|Buy|1700000000", "DCA1"},
	}
	for _, c := range cases {
		id, tag := splitLink(c.link)
		if id != c.tradeID || tag != c.tag {
			t.Errorf("splitLink(%q) = (%q, %q), want (%q, %q)", c.link, id, tag, c.tradeID, c.tag)
		}
	}
}

func TestExitReason(t *testing.T) {
	t.Parallel()
	threeTPs := []decimal.Decimal{dec("101"), dec("102"), dec("104")}
	cases := []struct {
		name string
		rec  state.TradeRecord
		pnl  string
		want string
	}{
		{
			name: "trailing wins over everything",
			rec:  state.TradeRecord{TrailingStarted: true, TPPrices: threeTPs, TPFills: []int{1, 2, 3}},
			pnl:  "12",
			want: "trailing_stop",
		},
		{
			name: "all tps hit",
			rec:  state.TradeRecord{TPPrices: threeTPs, TPFills: []int{1, 2, 3}},
			pnl:  "9",
			want: "all_tps_hit",
		},
		{
			name: "breakeven scratch",
			rec:  state.TradeRecord{TPPrices: threeTPs, TPFills: []int{1}, SLMovedToBE: true},
			pnl:  "0.004",
			want: "breakeven",
		},
		{
			name: "partial then stop",
			rec:  state.TradeRecord{TPPrices: threeTPs, TPFills: []int{1, 2}},
			pnl:  "-2",
			want: "tp2_then_sl",
		},
		{
			name: "partial then stop with moved be but real pnl",
			rec:  state.TradeRecord{TPPrices: threeTPs, TPFills: []int{1}, SLMovedToBE: true},
			pnl:  "1.8",
			want: "tp1_then_sl",
		},
		{
			name: "straight stop loss",
			rec:  state.TradeRecord{TPPrices: threeTPs},
			pnl:  "-10",
			want: "stop_loss",
		},
		{
			name: "flat close with no story",
			rec:  state.TradeRecord{TPPrices: threeTPs},
			pnl:  "0",
			want: "unknown",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := exitReason(&c.rec, dec(c.pnl)); got != c.want {
				t.Errorf("exitReason = %q, want %q", got, c.want)
			}
		})
	}
}
