// Package signal parses chat messages into structured trade intents.
//
// The channel has used several message layouts over time, so parsing goes
// through an ordered format registry: the first format that matches wins and
// fields are never merged across formats. All parsing is pure and idempotent;
// input text is expected to have markdown already stripped (see the chat
// package).
package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/pkg/types"
)

// num matches a price with optional thousands separators.
const num = `([0-9][0-9,]*\.?[0-9]*)`

// Format is one recognizable message layout.
type Format interface {
	Name() string
	Parse(text, quote string) (*types.SignalIntent, bool)
}

// Parser runs the format registry in registration order.
type Parser struct {
	formats []Format
}

// NewParser builds the default registry. Order matters: the embed format is
// the channel's current layout and is tried first.
func NewParser() *Parser {
	return &Parser{formats: []Format{
		embedFormat{},
		plainFormat{},
		compactFormat{},
	}}
}

// Parse maps raw text to an intent, or reports no match. The returned intent
// always satisfies: trigger > 0, every TP/DCA > 0, at least one TP.
func (p *Parser) Parse(text, quote string) (*types.SignalIntent, bool) {
	text = strings.ReplaceAll(text, "\r", "")
	for _, f := range p.formats {
		if intent, ok := f.Parse(text, quote); ok {
			if !valid(intent) {
				continue
			}
			intent.RawText = text
			return intent, true
		}
	}
	return nil, false
}

func valid(in *types.SignalIntent) bool {
	if !in.Trigger.IsPositive() || len(in.TPPrices) == 0 {
		return false
	}
	for _, tp := range in.TPPrices {
		if !tp.IsPositive() {
			return false
		}
	}
	for _, dca := range in.DCAPrices {
		if !dca.IsPositive() {
			return false
		}
	}
	return true
}

// ClassifyStatus is the method form of the package-level function, for
// callers holding a *Parser behind an interface.
func (p *Parser) ClassifyStatus(text string) types.SignalStatus { return ClassifyStatus(text) }

// Fingerprint is the method form of the package-level function.
func (p *Parser) Fingerprint(in *types.SignalIntent) string { return Fingerprint(in) }

// Fingerprint returns a short stable hash over the fields that identify a
// signal for dedup: symbol, side, trigger and the TP ladder.
func Fingerprint(in *types.SignalIntent) string {
	var sb strings.Builder
	sb.WriteString(in.Symbol())
	sb.WriteByte('|')
	sb.WriteString(string(in.Side))
	sb.WriteByte('|')
	sb.WriteString(in.Trigger.String())
	for _, tp := range in.TPPrices {
		sb.WriteByte('|')
		sb.WriteString(tp.String())
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// ————————————————————————————————————————————————————————————————————————
// Status classification
// ————————————————————————————————————————————————————————————————————————

var (
	cancelledRe = regexp.MustCompile(`(?i)\b(cancell?ed|invalidated)\b`)
	closedRe    = regexp.MustCompile(`(?i)\b(closed|stopped\s+out)\b`)
	winRe       = regexp.MustCompile(`(?i)(all\s+targets\s+hit|\bwon\b|\btrade\s+win\b)`)
	breakevenRe = regexp.MustCompile(`(?i)(break\s*even|moved\s+to\s+be\b)`)
	signalRe    = regexp.MustCompile(`(?i)\b(long|short)\b.*\b(signal|entry|trigger)\b`)
)

// ClassifyStatus reads the lifecycle wording of a message. Terminal statuses
// win over breakeven; a message that still reads like a live signal is
// active; anything else is unknown.
func ClassifyStatus(text string) types.SignalStatus {
	switch {
	case cancelledRe.MatchString(text):
		return types.StatusCancelled
	case closedRe.MatchString(text):
		return types.StatusClosed
	case winRe.MatchString(text):
		return types.StatusWin
	case breakevenRe.MatchString(text):
		return types.StatusBreakeven
	case signalRe.MatchString(text):
		return types.StatusActive
	}
	return types.StatusUnknown
}

// ————————————————————————————————————————————————————————————————————————
// Update probe
// ————————————————————————————————————————————————————————————————————————

// ParseUpdate extracts the current mutable values from a previously matched
// message. Absent fields stay nil/empty; the engine treats that as "leave
// unchanged".
func (p *Parser) ParseUpdate(text string) types.SignalUpdate {
	text = strings.ReplaceAll(text, "\r", "")

	var up types.SignalUpdate
	if sl, ok := firstPrice(slRe, text); ok {
		up.SLPrice = &sl
	}
	up.TPPrices = indexedPrices(tpRe, text, 9)
	if len(up.TPPrices) == 0 {
		up.TPPrices = listPrices(targetsRe, text)
	}
	up.DCAPrices = indexedPrices(dcaRe, text, 3)
	return up
}

// ————————————————————————————————————————————————————————————————————————
// Shared scanning helpers
// ————————————————————————————————————————————————————————————————————————

var (
	slRe      = regexp.MustCompile(`(?i)(?:\bstop\s+loss\b|\bsl\b)\s*:?\s*\$?\s*` + num)
	targetsRe = regexp.MustCompile(`(?i)targets?\s*:?\s*((?:\$?\s*` + num + `\s*[,/]?\s*)+)`)
	priceRe   = regexp.MustCompile(num)
)

// tpRe and dcaRe are sprintf templates over the ladder index.
const (
	tpRe  = `(?i)tp%d\s*:?\s*\$?\s*` + num
	dcaRe = `(?i)dca\s*#?%d\s*:?\s*\$?\s*` + num
)

func parsePrice(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func firstPrice(re *regexp.Regexp, text string) (decimal.Decimal, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	return parsePrice(m[1])
}

// indexedPrices scans "TP1: x", "TP2: y", ... stopping at the first missing
// index so ladders stay dense and ordered.
func indexedPrices(template, text string, max int) []decimal.Decimal {
	var out []decimal.Decimal
	for i := 1; i <= max; i++ {
		re := regexp.MustCompile(fmt.Sprintf(template, i))
		m := re.FindStringSubmatch(text)
		if m == nil {
			break
		}
		d, ok := parsePrice(m[1])
		if !ok {
			break
		}
		out = append(out, d)
	}
	return out
}

// listPrices extracts every number from a "Targets: a, b, c" style capture.
func listPrices(re *regexp.Regexp, text string) []decimal.Decimal {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var out []decimal.Decimal
	for _, raw := range priceRe.FindAllString(m[1], -1) {
		if d, ok := parsePrice(raw); ok {
			out = append(out, d)
		}
	}
	return out
}
