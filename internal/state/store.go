// store.go persists the ledger document as a single JSON file.
//
// Writes are atomic: serialize to <path>.tmp, then rename over the target,
// so a crash mid-save never leaves a corrupt ledger. The engine is the only
// writer; the mutex exists so Save can be called while the supervisor reads.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	schemaVersion      = 2
	maxHistory         = 500
	maxFingerprints    = 500
	storeFilePerm      = 0o600
	storeDirectoryPerm = 0o755
)

// Document is the full persisted state.
type Document struct {
	Version          int                     `json:"version"`
	OpenTrades       map[string]*TradeRecord `json:"open_trades"`
	TradeHistory     []*TradeRecord          `json:"trade_history"`
	LastSeenMsgID    string                  `json:"last_seen_msg_id"`
	SeenFingerprints []string                `json:"seen_signal_fingerprints"` // most recent last
	DailyCounts      map[string]int          `json:"daily_counts"`             // UTC day → placements
}

func newDocument() *Document {
	return &Document{
		Version:     schemaVersion,
		OpenTrades:  make(map[string]*TradeRecord),
		DailyCounts: make(map[string]int),
	}
}

// Store owns the ledger file.
type Store struct {
	path string
	mu   sync.Mutex
	doc  *Document
}

// Open loads the ledger from path, or starts fresh when the file does not
// exist. A corrupt file is an error; the operator decides what to do with it.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: newDocument()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if doc.OpenTrades == nil {
		doc.OpenTrades = make(map[string]*TradeRecord)
	}
	if doc.DailyCounts == nil {
		doc.DailyCounts = make(map[string]int)
	}
	doc.Version = schemaVersion
	s.doc = &doc
	return s, nil
}

// Document returns the live document. The engine mutates it directly from
// its owner goroutine and calls Save after each mutation batch.
func (s *Store) Document() *Document { return s.doc }

// Save atomically writes the document to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, storeDirectoryPerm); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, storeFilePerm); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// ————————————————————————————————————————————————————————————————————————
// Document helpers
// ————————————————————————————————————————————————————————————————————————

// ActiveCount counts trades still occupying a concurrency slot.
func (d *Document) ActiveCount() int {
	n := 0
	for _, r := range d.OpenTrades {
		if r.Active() {
			n++
		}
	}
	return n
}

// HasFingerprint reports whether a signal fingerprint was seen before.
func (d *Document) HasFingerprint(fp string) bool {
	for _, f := range d.SeenFingerprints {
		if f == fp {
			return true
		}
	}
	return false
}

// AddFingerprint records a fingerprint, keeping only the most recent
// maxFingerprints entries.
func (d *Document) AddFingerprint(fp string) {
	if d.HasFingerprint(fp) {
		return
	}
	d.SeenFingerprints = append(d.SeenFingerprints, fp)
	if excess := len(d.SeenFingerprints) - maxFingerprints; excess > 0 {
		d.SeenFingerprints = d.SeenFingerprints[excess:]
	}
}

// IncrementDaily bumps the placement counter for a UTC day.
func (d *Document) IncrementDaily(day string) {
	d.DailyCounts[day]++
}

// DailyCount returns the placement counter for a UTC day; unseen days are
// zero.
func (d *Document) DailyCount(day string) int {
	return d.DailyCounts[day]
}

// Archive moves a terminal trade from the active ledger to the bounded
// history.
func (d *Document) Archive(tradeID string) {
	rec, ok := d.OpenTrades[tradeID]
	if !ok {
		return
	}
	delete(d.OpenTrades, tradeID)
	d.TradeHistory = append(d.TradeHistory, rec)
	if excess := len(d.TradeHistory) - maxHistory; excess > 0 {
		d.TradeHistory = d.TradeHistory[excess:]
	}
}

// SortedTradeIDs returns active trade ids in a stable order, for
// deterministic iteration and logging.
func (d *Document) SortedTradeIDs() []string {
	ids := make([]string, 0, len(d.OpenTrades))
	for id := range d.OpenTrades {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
