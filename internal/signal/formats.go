// formats.go holds the concrete message layouts the channel has used.
package signal

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Embed format — the channel's current layout
//
//	BARD SHORT Signal
//	Enter on Trigger: $0.0581
//	TP1: $0.0575  TP2: $0.0569  TP3: $0.0563
//	DCA #1: $0.0592  DCA #2: $0.0605
//	Stop Loss: $0.0640
// ————————————————————————————————————————————————————————————————————————

var (
	embedHeadRe    = regexp.MustCompile(`(?i)\b([A-Z0-9]{2,15})\s+(LONG|SHORT)\s+Signal`)
	embedTriggerRe = regexp.MustCompile(`(?i)enter\s+on\s+trigger\s*:?\s*\$?\s*` + num)
	embedEntryRe   = regexp.MustCompile(`(?i)\bentry\s*:?\s*\$?\s*` + num)
)

type embedFormat struct{}

func (embedFormat) Name() string { return "embed" }

func (embedFormat) Parse(text, quote string) (*types.SignalIntent, bool) {
	head := embedHeadRe.FindStringSubmatch(text)
	if head == nil {
		return nil, false
	}

	trigger, ok := firstPrice(embedTriggerRe, text)
	if !ok {
		trigger, ok = firstPrice(embedEntryRe, text)
	}
	if !ok {
		return nil, false
	}

	tps := indexedPrices(tpRe, text, 9)
	// The desk always posts at least three targets; fewer means this is a
	// progress update, not a fresh signal.
	if len(tps) < 3 {
		return nil, false
	}

	intent := &types.SignalIntent{
		BaseAsset:  strings.ToUpper(head[1]),
		QuoteAsset: quote,
		Side:       sideFromWord(head[2]),
		Trigger:    trigger,
		TPPrices:   tps,
		DCAPrices:  indexedPrices(dcaRe, text, 3),
	}
	if sl, ok := firstPrice(slRe, text); ok {
		intent.SLPrice = &sl
	}
	return intent, true
}

// ————————————————————————————————————————————————————————————————————————
// Plain format — older layout without the "Signal" header
//
//	SHORT BARDUSDT
//	Entry: 0.0581
//	Targets: 0.0575, 0.0569, 0.0563
//	DCA: 0.0592, 0.0605
//	SL: 0.0640
// ————————————————————————————————————————————————————————————————————————

var (
	plainHeadRe = regexp.MustCompile(`(?i)\b(LONG|SHORT)\s+([A-Z0-9]{2,20})\b`)
	plainDCARe  = regexp.MustCompile(`(?i)\bdcas?\s*:?\s*((?:\$?\s*` + num + `\s*[,/]?\s*)+)`)
)

type plainFormat struct{}

func (plainFormat) Name() string { return "plain" }

func (plainFormat) Parse(text, quote string) (*types.SignalIntent, bool) {
	head := plainHeadRe.FindStringSubmatch(text)
	if head == nil {
		return nil, false
	}

	trigger, ok := firstPrice(embedEntryRe, text)
	if !ok {
		return nil, false
	}

	tps := listPrices(targetsRe, text)
	if len(tps) == 0 {
		tps = indexedPrices(tpRe, text, 9)
	}
	if len(tps) == 0 {
		return nil, false
	}

	base := strings.ToUpper(head[2])
	base = strings.TrimSuffix(base, strings.ToUpper(quote))
	// "LONG Signal" headers belong to the embed format, never a ticker.
	if base == "" || base == "SIGNAL" {
		return nil, false
	}

	intent := &types.SignalIntent{
		BaseAsset:  base,
		QuoteAsset: quote,
		Side:       sideFromWord(head[1]),
		Trigger:    trigger,
		TPPrices:   tps,
		DCAPrices:  listPrices(plainDCARe, text),
	}
	if sl, ok := firstPrice(slRe, text); ok {
		intent.SLPrice = &sl
	}
	return intent, true
}

// ————————————————————————————————————————————————————————————————————————
// Compact format — single-line relay layout
//
//	$BARD | SHORT | 0.0581 | TP 0.0575/0.0569/0.0563 | SL 0.0640
// ————————————————————————————————————————————————————————————————————————

var compactRe = regexp.MustCompile(
	`(?i)\$([A-Z0-9]{2,15})\s*\|\s*(LONG|SHORT)\s*\|\s*(?:trigger\s+)?\$?` + num +
		`\s*\|\s*TPs?\s+((?:\$?` + num + `\s*/?\s*)+)` +
		`(?:\|\s*SL\s+\$?` + num + `)?`)

type compactFormat struct{}

func (compactFormat) Name() string { return "compact" }

func (compactFormat) Parse(text, quote string) (*types.SignalIntent, bool) {
	m := compactRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}

	trigger, ok := parsePrice(m[3])
	if !ok {
		return nil, false
	}

	var tps []decimal.Decimal
	for _, raw := range priceRe.FindAllString(m[4], -1) {
		if d, pok := parsePrice(raw); pok {
			tps = append(tps, d)
		}
	}
	if len(tps) == 0 {
		return nil, false
	}

	intent := &types.SignalIntent{
		BaseAsset:  strings.ToUpper(m[1]),
		QuoteAsset: quote,
		Side:       sideFromWord(m[2]),
		Trigger:    trigger,
		TPPrices:   tps,
	}
	if m[6] != "" {
		if sl, pok := parsePrice(m[6]); pok {
			intent.SLPrice = &sl
		}
	}
	return intent, true
}

func sideFromWord(w string) types.Side {
	if strings.EqualFold(w, "LONG") {
		return types.Buy
	}
	return types.Sell
}
