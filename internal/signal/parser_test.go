package signal

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/pkg/types"
)

const embedSignal = `BARD SHORT Signal
Enter on Trigger: $0.0581
TP1: $0.0575
TP2: $0.0569
TP3: $0.0563
DCA #1: $0.0592
DCA #2: $0.0605
Stop Loss: $0.0640`

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseEmbedFormat(t *testing.T) {
	t.Parallel()
	p := NewParser()

	intent, ok := p.Parse(embedSignal, "USDT")
	if !ok {
		t.Fatal("no match")
	}
	if intent.Symbol() != "BARDUSDT" {
		t.Errorf("symbol = %s", intent.Symbol())
	}
	if intent.Side != types.Sell {
		t.Errorf("side = %s, want Sell for SHORT", intent.Side)
	}
	if !intent.Trigger.Equal(dec("0.0581")) {
		t.Errorf("trigger = %s", intent.Trigger)
	}
	if len(intent.TPPrices) != 3 || !intent.TPPrices[2].Equal(dec("0.0563")) {
		t.Errorf("tps = %v", intent.TPPrices)
	}
	if len(intent.DCAPrices) != 2 || !intent.DCAPrices[1].Equal(dec("0.0605")) {
		t.Errorf("dcas = %v", intent.DCAPrices)
	}
	if intent.SLPrice == nil || !intent.SLPrice.Equal(dec("0.0640")) {
		t.Errorf("sl = %v", intent.SLPrice)
	}
}

func TestParseEmbedEntryFallbackAndOptionalSL(t *testing.T) {
	t.Parallel()
	p := NewParser()

	text := `YALA LONG Signal
Entry: 1,250.5
TP1: 1260 TP2: 1270 TP3: 1285`
	intent, ok := p.Parse(text, "USDT")
	if !ok {
		t.Fatal("no match")
	}
	if intent.Side != types.Buy {
		t.Errorf("side = %s", intent.Side)
	}
	if !intent.Trigger.Equal(dec("1250.5")) {
		t.Errorf("comma-separated trigger = %s", intent.Trigger)
	}
	if intent.SLPrice != nil {
		t.Errorf("sl should be absent, got %v", intent.SLPrice)
	}
	if len(intent.DCAPrices) != 0 {
		t.Errorf("dcas = %v", intent.DCAPrices)
	}
}

func TestParseEmbedRequiresThreeTargets(t *testing.T) {
	t.Parallel()
	p := NewParser()

	text := `BARD SHORT Signal
Enter on Trigger: 0.0581
TP1: 0.0575
TP2: 0.0569`
	if _, ok := p.Parse(text, "USDT"); ok {
		t.Error("embed format with two targets must not match")
	}
}

func TestParsePlainFormat(t *testing.T) {
	t.Parallel()
	p := NewParser()

	text := `SHORT BARDUSDT
Entry: 0.0581
Targets: 0.0575, 0.0569, 0.0563
DCA: 0.0592, 0.0605
SL: 0.0640`
	intent, ok := p.Parse(text, "USDT")
	if !ok {
		t.Fatal("no match")
	}
	if intent.BaseAsset != "BARD" {
		t.Errorf("base = %s (quote suffix must be trimmed)", intent.BaseAsset)
	}
	if len(intent.TPPrices) != 3 {
		t.Errorf("tps = %v", intent.TPPrices)
	}
	if len(intent.DCAPrices) != 2 {
		t.Errorf("dcas = %v", intent.DCAPrices)
	}
	if intent.SLPrice == nil || !intent.SLPrice.Equal(dec("0.0640")) {
		t.Errorf("sl = %v", intent.SLPrice)
	}
}

func TestParseCompactFormat(t *testing.T) {
	t.Parallel()
	p := NewParser()

	intent, ok := p.Parse(`$BARD | SHORT | 0.0581 | TP 0.0575/0.0569/0.0563 | SL 0.0640`, "USDT")
	if !ok {
		t.Fatal("no match")
	}
	if intent.Symbol() != "BARDUSDT" || intent.Side != types.Sell {
		t.Errorf("intent = %+v", intent)
	}
	if len(intent.TPPrices) != 3 {
		t.Errorf("tps = %v", intent.TPPrices)
	}
	if intent.SLPrice == nil {
		t.Error("sl missing")
	}

	// SL section is optional.
	intent, ok = p.Parse(`$ETH | LONG | Trigger 3200 | TP 3250/3300`, "USDT")
	if !ok {
		t.Fatal("no match without SL")
	}
	if intent.SLPrice != nil {
		t.Errorf("sl = %v, want nil", intent.SLPrice)
	}
}

func TestParseRejectsNonSignals(t *testing.T) {
	t.Parallel()
	p := NewParser()

	for _, text := range []string{
		"",
		"gm everyone",
		"BARD SHORT Signal",          // header only, no prices
		"Entry: 100\nTargets: 101",   // no side/base
		"BARD moved to breakeven",    // progress update
		"TP1 hit! BARD SHORT Signal", // no entry price
	} {
		if _, ok := p.Parse(text, "USDT"); ok {
			t.Errorf("Parse(%q) matched, want reject", text)
		}
	}
}

func TestParseIdempotent(t *testing.T) {
	t.Parallel()
	p := NewParser()

	a, ok1 := p.Parse(embedSignal, "USDT")
	b, ok2 := p.Parse(embedSignal, "USDT")
	if !ok1 || !ok2 {
		t.Fatal("no match")
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("same text must produce the same fingerprint")
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	p := NewParser()

	a, _ := p.Parse(embedSignal, "USDT")
	fp := Fingerprint(a)
	if len(fp) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(fp))
	}

	// A different trigger must change the fingerprint.
	other := *a
	other.Trigger = dec("0.0999")
	if Fingerprint(&other) == fp {
		t.Error("fingerprint ignores trigger")
	}

	// SL is not part of the identity.
	withSL := *a
	sl := dec("1")
	withSL.SLPrice = &sl
	if Fingerprint(&withSL) != fp {
		t.Error("fingerprint must not depend on SL")
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		text string
		want types.SignalStatus
	}{
		{embedSignal, types.StatusActive},
		{"BARD signal cancelled, do not enter", types.StatusCancelled},
		{"Trade invalidated", types.StatusCancelled},
		{"Position closed manually", types.StatusClosed},
		{"We got stopped out on BARD", types.StatusClosed},
		{"All targets hit! Great trade", types.StatusWin},
		{"Trade won", types.StatusWin},
		{"SL moved to breakeven", types.StatusBreakeven},
		{"Stop moved to break even after TP1", types.StatusBreakeven},
		{"gm", types.StatusUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyStatus(tc.text); got != tc.want {
			t.Errorf("ClassifyStatus(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestClassifyStatusTerminalWinsOverBreakeven(t *testing.T) {
	t.Parallel()
	got := ClassifyStatus("moved to breakeven, then closed")
	if got != types.StatusClosed {
		t.Errorf("got %s, want closed", got)
	}
}

func TestParseUpdate(t *testing.T) {
	t.Parallel()
	p := NewParser()

	up := p.ParseUpdate(`BARD SHORT Signal
Enter on Trigger: 0.0581
TP1: 0.0575
TP2: 0.0569
TP3: 0.0560
Stop Loss: 0.0620`)
	if up.SLPrice == nil || !up.SLPrice.Equal(dec("0.0620")) {
		t.Errorf("sl = %v", up.SLPrice)
	}
	if len(up.TPPrices) != 3 || !up.TPPrices[2].Equal(dec("0.0560")) {
		t.Errorf("tps = %v", up.TPPrices)
	}

	// A message with no mutable fields yields an empty update.
	empty := p.ParseUpdate("gm")
	if empty.SLPrice != nil || len(empty.TPPrices) != 0 || len(empty.DCAPrices) != 0 {
		t.Errorf("update = %+v, want empty", empty)
	}
}

func TestFormatPrecedenceFirstMatchWins(t *testing.T) {
	t.Parallel()
	p := NewParser()

	// Text matching both embed and plain layouts: embed is registered first.
	text := `BARD SHORT Signal
SHORT BARDUSDT
Entry: 0.0581
TP1: 0.0575
TP2: 0.0569
TP3: 0.0563
Targets: 9.9`
	intent, ok := p.Parse(text, "USDT")
	if !ok {
		t.Fatal("no match")
	}
	// The embed format reads TP1..TP3; the plain format would have read the
	// Targets list. No merging across formats.
	if len(intent.TPPrices) != 3 || !intent.TPPrices[0].Equal(dec("0.0575")) {
		t.Errorf("tps = %v, want embed format's ladder", intent.TPPrices)
	}
}
