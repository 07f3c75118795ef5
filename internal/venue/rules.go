// rules.go caches per-symbol instrument rules so precision lookups don't hit
// the venue on every sizing or rounding decision.
package venue

import (
	"context"
	"sync"
	"time"

	"github.com/candree7-rgb/aoalgo/pkg/types"
)

const rulesTTL = 5 * time.Minute

// rulesFetcher is the slice of Client the cache needs.
type rulesFetcher interface {
	InstrumentRules(ctx context.Context, category types.Category, symbol string) (types.InstrumentRules, error)
}

// RulesCache is a TTL cache over InstrumentRules. Safe for concurrent use.
type RulesCache struct {
	fetcher rulesFetcher

	mu      sync.Mutex
	entries map[string]rulesEntry

	now func() time.Time
}

type rulesEntry struct {
	rules     types.InstrumentRules
	fetchedAt time.Time
}

// NewRulesCache wraps a fetcher (normally *Client) with a 5-minute TTL cache.
func NewRulesCache(fetcher rulesFetcher) *RulesCache {
	return &RulesCache{
		fetcher: fetcher,
		entries: make(map[string]rulesEntry),
		now:     time.Now,
	}
}

// Get returns the rules for a symbol, fetching on miss or expiry. A fetch
// failure with a stale entry present returns the stale entry; precision
// rules change rarely enough that stale beats failing.
func (c *RulesCache) Get(ctx context.Context, category types.Category, symbol string) (types.InstrumentRules, error) {
	key := string(category) + ":" + symbol

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.fetchedAt) < rulesTTL {
		return entry.rules, nil
	}

	rules, err := c.fetcher.InstrumentRules(ctx, category, symbol)
	if err != nil {
		if ok {
			return entry.rules, nil
		}
		return types.InstrumentRules{}, err
	}

	c.mu.Lock()
	c.entries[key] = rulesEntry{rules: rules, fetchedAt: c.now()}
	c.mu.Unlock()
	return rules, nil
}
