package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/candree7-rgb/aoalgo/pkg/types"
)

type fakeFetcher struct {
	calls int
	rules types.InstrumentRules
	err   error
}

func (f *fakeFetcher) InstrumentRules(ctx context.Context, category types.Category, symbol string) (types.InstrumentRules, error) {
	f.calls++
	if f.err != nil {
		return types.InstrumentRules{}, f.err
	}
	return f.rules, nil
}

func TestRulesCacheHitWithinTTL(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{rules: types.InstrumentRules{TickSize: decimal.RequireFromString("0.1")}}
	cache := NewRulesCache(fetcher)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := cache.Get(ctx, types.CategoryLinear, "BTCUSDT"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if fetcher.calls != 1 {
		t.Errorf("calls = %d, want 1", fetcher.calls)
	}

	now = now.Add(rulesTTL + time.Second)
	if _, err := cache.Get(ctx, types.CategoryLinear, "BTCUSDT"); err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("calls = %d, want refetch after TTL", fetcher.calls)
	}
}

func TestRulesCacheServesStaleOnFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{rules: types.InstrumentRules{MinQty: decimal.New(1, 0)}}
	cache := NewRulesCache(fetcher)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := cache.Get(ctx, types.CategoryLinear, "ETHUSDT"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	now = now.Add(rulesTTL + time.Second)
	fetcher.err = errors.New("boom")
	rules, err := cache.Get(ctx, types.CategoryLinear, "ETHUSDT")
	if err != nil {
		t.Fatalf("stale entry should mask fetch failure, got %v", err)
	}
	if !rules.MinQty.Equal(decimal.New(1, 0)) {
		t.Errorf("rules = %+v", rules)
	}

	// A cold miss with a failing fetcher surfaces the error.
	if _, err := cache.Get(ctx, types.CategoryLinear, "SOLUSDT"); err == nil {
		t.Error("cold miss should fail")
	}
}
