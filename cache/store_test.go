package cache

import (
	"testing"
	"time"

	"github.com/cricline/cricsync/clock"
	"github.com/cricline/cricsync/logger"
	"github.com/cricline/cricsync/storage"
	"github.com/cricline/cricsync/types"
)

func testCacheConfig() *types.CacheConfig {
	return &types.CacheConfig{
		Enabled: true,
		PrefixRules: []types.PatternRule{
			{Pattern: "match:live:", Rule: types.CacheRule{TTL: 10 * time.Second, StaleWhileRevalidate: 20 * time.Second, Version: 1}},
		},
		DefaultRule:   types.CacheRule{TTL: 5 * time.Second, StaleWhileRevalidate: 10 * time.Second, Version: 1},
		MaxMemEntries: 100,
	}
}

func newTestStore(persist types.KeyValueStore) (*TwoTierStore, *clock.Fake) {
	fake := clock.NewFake(time.Unix(1000, 0))
	store := NewTwoTierStore(testCacheConfig(), persist, fake, logger.NewNop())
	return store, fake
}

func TestGetFreshnessWindows(t *testing.T) {
	store, fake := newTestStore(nil)

	if err := store.Set("k", "value", nil); err != nil {
		t.Fatalf("set: %v", err)
	}

	fake.Advance(3 * time.Second)
	result, ok := store.Get("k", nil)
	if !ok {
		t.Fatalf("expected hit inside ttl")
	}
	if result.Stale {
		t.Fatalf("expected fresh result at age 3s")
	}
	if result.Data != "value" {
		t.Fatalf("unexpected data: %v", result.Data)
	}

	fake.Advance(4 * time.Second)
	result, ok = store.Get("k", nil)
	if !ok {
		t.Fatalf("expected hit inside stale window")
	}
	if !result.Stale {
		t.Fatalf("expected stale flag at age 7s")
	}

	fake.Advance(9 * time.Second)
	if _, ok := store.Get("k", nil); ok {
		t.Fatalf("expected miss past combined window at age 16s")
	}
}

func TestVersionMismatchIsMiss(t *testing.T) {
	store, _ := newTestStore(nil)

	if err := store.Set("k", "value", nil); err != nil {
		t.Fatalf("set: %v", err)
	}

	bumped := &types.CacheRule{TTL: 5 * time.Second, StaleWhileRevalidate: 10 * time.Second, Version: 2}
	if _, ok := store.Get("k", bumped); ok {
		t.Fatalf("expected miss on version bump")
	}

	// The mismatched entry is removed, not served to readers of the old
	// version either.
	if _, ok := store.Get("k", nil); ok {
		t.Fatalf("expected entry dropped after version mismatch")
	}
}

func TestPersistentTierSurvivesRestart(t *testing.T) {
	persist := storage.NewMemoryStore(1 << 20)
	store, fake := newTestStore(persist)

	if err := store.Set("match:live:42", map[string]interface{}{"score": "101/2"}, nil); err != nil {
		t.Fatalf("set: %v", err)
	}

	fake.Advance(12 * time.Second)

	// A fresh store over the same backend simulates an app restart: the
	// memory tier is empty, the value comes back from the persistent one.
	restarted := NewTwoTierStore(testCacheConfig(), persist, fake, logger.NewNop())
	result, ok := restarted.Get("match:live:42", nil)
	if !ok {
		t.Fatalf("expected hit from persistent tier")
	}
	if !result.Stale {
		t.Fatalf("expected stale flag at age 12s with ttl 10s")
	}
}

func TestInvalidatePattern(t *testing.T) {
	persist := storage.NewMemoryStore(1 << 20)
	store, _ := newTestStore(persist)

	for _, key := range []string{"match:live:1", "match:live:2", "player:7"} {
		if err := store.Set(key, "v", nil); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	removed := store.InvalidatePattern("match:live")
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	if _, ok := store.Get("match:live:1", nil); ok {
		t.Fatalf("expected invalidated key to miss")
	}
	if _, ok := store.Get("player:7", nil); !ok {
		t.Fatalf("expected unrelated key to survive")
	}
}

func TestQuotaEvictionOldestFirst(t *testing.T) {
	persist := storage.NewMemoryStore(220)
	store, fake := newTestStore(persist)

	if err := store.Set("old", "0123456789", nil); err != nil {
		t.Fatalf("set old: %v", err)
	}
	fake.Advance(time.Second)
	if err := store.Set("mid", "0123456789", nil); err != nil {
		t.Fatalf("set mid: %v", err)
	}
	fake.Advance(time.Second)
	if err := store.Set("new", "0123456789", nil); err != nil {
		t.Fatalf("set new: %v", err)
	}

	if _, ok, _ := persist.Get("old"); ok {
		t.Fatalf("expected oldest entry evicted from persistent tier")
	}
	if _, ok, _ := persist.Get("new"); !ok {
		t.Fatalf("expected newest entry present in persistent tier")
	}

	// The memory tier never evicts for quota; all three stay readable.
	for _, key := range []string{"old", "mid", "new"} {
		if _, ok := store.Get(key, nil); !ok {
			t.Fatalf("expected %s in memory tier", key)
		}
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	persist := storage.NewMemoryStore(1 << 20)
	store, fake := newTestStore(persist)

	if err := store.Set("a", "v", nil); err != nil {
		t.Fatalf("set a: %v", err)
	}
	fake.Advance(16 * time.Second)
	if err := store.Set("b", "v", nil); err != nil {
		t.Fatalf("set b: %v", err)
	}

	removed := store.Sweep()
	if removed != 1 {
		t.Fatalf("expected 1 swept, got %d", removed)
	}

	if _, ok := store.Get("a", nil); ok {
		t.Fatalf("expected expired entry gone")
	}
	if _, ok := store.Get("b", nil); !ok {
		t.Fatalf("expected fresh entry to survive sweep")
	}
}

func TestMemoryEntryCap(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	cfg := testCacheConfig()
	cfg.MaxMemEntries = 2
	store := NewTwoTierStore(cfg, nil, fake, logger.NewNop())

	if err := store.Set("first", "v", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	fake.Advance(time.Second)
	if err := store.Set("second", "v", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	fake.Advance(time.Second)
	if err := store.Set("third", "v", nil); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, ok := store.Get("first", nil); ok {
		t.Fatalf("expected oldest memory entry evicted")
	}
	if _, ok := store.Get("third", nil); !ok {
		t.Fatalf("expected newest memory entry present")
	}
}
