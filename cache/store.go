package cache

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cricline/cricsync/config"
	"github.com/cricline/cricsync/types"
	"github.com/cricline/cricsync/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// evictRetryBytes is the extra amount freed when a persistent write still
// fails after the first targeted eviction pass.
const evictRetryBytes = 256 * 1024

// TwoTierStore keeps values in process memory and, best-effort, in a
// quota-bounded persistent backend. The persistent tier is an optimization:
// every one of its failures degrades to a miss or to memory-only caching,
// never to an error for the caller.
type TwoTierStore struct {
	cfg     *types.CacheConfig
	persist types.KeyValueStore
	clock   types.Clock
	logger  types.Logger

	// One lock covers both tiers so quota eviction and the write that
	// needed it happen as a unit.
	mu  sync.Mutex
	mem map[string]*types.CacheEntry

	state atomic.Value
}

func NewTwoTierStore(cfg *types.CacheConfig, persist types.KeyValueStore, clk types.Clock, logger types.Logger) *TwoTierStore {
	s := &TwoTierStore{
		cfg:     cfg,
		persist: persist,
		clock:   clk,
		logger:  logger,
		mem:     make(map[string]*types.CacheEntry),
	}
	s.state.Store(StateStopped)
	return s
}

func (s *TwoTierStore) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	s.logger.Info("Cache store started",
		zap.Bool("persistent_tier", s.persist != nil))
	return nil
}

func (s *TwoTierStore) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer s.setState(StateStopped)

	s.mu.Lock()
	s.mem = make(map[string]*types.CacheEntry)
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Close(); err != nil {
			s.logger.Warn("Persistent tier close failed", zap.Error(err))
		}
	}

	s.logger.Info("Cache store stopped")
	return nil
}

func (s *TwoTierStore) IsRunning() bool {
	return s.getState() == StateRunning
}

// Get returns the cached value for key when it is inside the freshness or
// stale-while-revalidate window, flagging the latter. Entries past the
// combined window are removed lazily and reported absent.
func (s *TwoTierStore) Get(key string, override *types.CacheRule) (*types.CacheResult, bool) {
	rule := config.ResolveCacheRule(s.cfg, key, override)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.mem[key]; ok {
		if entry.Rule.Version != rule.Version {
			s.removeLocked(key)
			return nil, false
		}

		age := now.Sub(entry.Timestamp)
		if age > rule.TTL+rule.StaleWhileRevalidate {
			s.removeLocked(key)
			return nil, false
		}

		return &types.CacheResult{
			Data:      entry.Data,
			Timestamp: entry.Timestamp,
			Stale:     age > rule.TTL,
		}, true
	}

	if s.persist == nil {
		return nil, false
	}

	raw, ok, err := s.persist.Get(key)
	if err != nil || !ok {
		if err != nil {
			s.logger.Debug("Persistent tier read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var stored types.StoredEntry
	if err := utils.Unmarshal(raw, &stored); err != nil {
		s.logger.Debug("Stored entry parse failed, dropping", zap.String("key", key), zap.Error(err))
		s.deletePersistLocked(key)
		return nil, false
	}

	if stored.Version != rule.Version {
		s.deletePersistLocked(key)
		return nil, false
	}

	timestamp := time.UnixMilli(stored.Timestamp)
	age := now.Sub(timestamp)
	if age > rule.TTL+rule.StaleWhileRevalidate {
		s.deletePersistLocked(key)
		return nil, false
	}

	// Backfill the memory tier so the next read skips deserialization.
	s.mem[key] = &types.CacheEntry{
		Key:       key,
		Data:      stored.Data,
		Timestamp: timestamp,
		Rule:      rule,
	}
	s.evictMemLocked()

	return &types.CacheResult{
		Data:      stored.Data,
		Timestamp: timestamp,
		Stale:     age > rule.TTL,
	}, true
}

// Set replaces the entry for key in both tiers. Persistence is best-effort:
// quota pressure triggers oldest-first eviction, then one retry with a
// larger eviction, then silent degradation to memory-only.
func (s *TwoTierStore) Set(key string, data interface{}, override *types.CacheRule) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	rule := config.ResolveCacheRule(s.cfg, key, override)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem[key] = &types.CacheEntry{
		Key:       key,
		Data:      data,
		Timestamp: now,
		Rule:      rule,
	}
	s.evictMemLocked()

	if s.persist == nil {
		return nil
	}

	stored := types.StoredEntry{
		Data:      data,
		Timestamp: now.UnixMilli(),
		TTLMs:     rule.TTL.Milliseconds(),
		SWRMs:     rule.StaleWhileRevalidate.Milliseconds(),
		Version:   rule.Version,
	}

	payload, err := utils.Marshal(stored)
	if err != nil {
		s.logger.Debug("Entry serialization failed, memory-only", zap.String("key", key), zap.Error(err))
		return nil
	}

	need := int64(len(key) + len(payload))
	if usage, err := s.persist.Usage(); err == nil {
		if quota := s.persist.Quota(); quota > 0 && usage+need > quota {
			s.evictPersistLocked(usage + need - quota)
		}
	}

	if err := s.persist.Set(key, payload); err != nil {
		if !types.IsError(err, types.ErrQuotaExceeded) {
			s.logger.Debug("Persistent tier write failed, memory-only", zap.String("key", key), zap.Error(err))
			return nil
		}

		s.evictPersistLocked(need + evictRetryBytes)
		if err := s.persist.Set(key, payload); err != nil {
			s.logger.Debug("Persistent tier write failed after eviction, memory-only",
				zap.String("key", key), zap.Error(err))
		}
	}

	return nil
}

func (s *TwoTierStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
	return nil
}

// InvalidatePattern removes every entry whose key contains substring, in
// both tiers, and returns how many were dropped.
func (s *TwoTierStore) InvalidatePattern(substring string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A key can live in both tiers; count it once.
	matched := make(map[string]struct{})
	for key := range s.mem {
		if containsSubstring(key, substring) {
			delete(s.mem, key)
			matched[key] = struct{}{}
		}
	}

	if s.persist != nil {
		keys, err := s.persist.Keys()
		if err != nil {
			s.logger.Debug("Persistent tier key scan failed", zap.Error(err))
			return len(matched)
		}
		for _, key := range keys {
			if containsSubstring(key, substring) {
				s.deletePersistLocked(key)
				matched[key] = struct{}{}
			}
		}
	}

	return len(matched)
}

func (s *TwoTierStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem = make(map[string]*types.CacheEntry)

	if s.persist != nil {
		keys, err := s.persist.Keys()
		if err != nil {
			s.logger.Debug("Persistent tier key scan failed", zap.Error(err))
			return nil
		}
		for _, key := range keys {
			s.deletePersistLocked(key)
		}
	}

	return nil
}

// Sweep removes every entry past its combined freshness window from both
// tiers, bounding storage growth for keys nobody reads anymore. Returns
// the number of entries removed.
func (s *TwoTierStore) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// A key can live in both tiers; count it once.
	expired := make(map[string]struct{})
	for key, entry := range s.mem {
		if now.Sub(entry.Timestamp) > entry.Rule.TTL+entry.Rule.StaleWhileRevalidate {
			delete(s.mem, key)
			expired[key] = struct{}{}
		}
	}

	if s.persist != nil {
		keys, err := s.persist.Keys()
		if err != nil {
			s.logger.Debug("Persistent tier key scan failed", zap.Error(err))
			return len(expired)
		}

		for _, key := range keys {
			raw, ok, err := s.persist.Get(key)
			if err != nil || !ok {
				continue
			}

			var stored types.StoredEntry
			if err := utils.Unmarshal(raw, &stored); err != nil {
				s.deletePersistLocked(key)
				expired[key] = struct{}{}
				continue
			}

			age := now.Sub(time.UnixMilli(stored.Timestamp))
			window := time.Duration(stored.TTLMs+stored.SWRMs) * time.Millisecond
			if age > window {
				s.deletePersistLocked(key)
				expired[key] = struct{}{}
			}
		}
	}

	if len(expired) > 0 {
		s.logger.Debug("Cache sweep completed", zap.Int("removed", len(expired)))
	}

	return len(expired)
}

func (s *TwoTierStore) removeLocked(key string) {
	delete(s.mem, key)
	s.deletePersistLocked(key)
}

func (s *TwoTierStore) deletePersistLocked(key string) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Delete(key); err != nil {
		s.logger.Debug("Persistent tier delete failed", zap.String("key", key), zap.Error(err))
	}
}

// evictMemLocked drops the oldest memory entries once the tier exceeds its
// entry cap.
func (s *TwoTierStore) evictMemLocked() {
	max := s.cfg.MaxMemEntries
	if max <= 0 || len(s.mem) <= max {
		return
	}

	type aged struct {
		key string
		ts  time.Time
	}
	entries := make([]aged, 0, len(s.mem))
	for key, entry := range s.mem {
		entries = append(entries, aged{key: key, ts: entry.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts.Before(entries[j].ts) })

	for _, e := range entries[:len(s.mem)-max] {
		delete(s.mem, e.key)
	}
}

// evictPersistLocked frees at least needed bytes from the persistent tier,
// removing entries strictly oldest-timestamp-first.
func (s *TwoTierStore) evictPersistLocked(needed int64) {
	keys, err := s.persist.Keys()
	if err != nil {
		s.logger.Debug("Eviction key scan failed", zap.Error(err))
		return
	}

	type candidate struct {
		key       string
		timestamp int64
		size      int64
	}

	candidates := make([]candidate, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := s.persist.Get(key)
		if err != nil || !ok {
			continue
		}

		c := candidate{key: key, size: int64(len(key) + len(raw))}

		var stored types.StoredEntry
		if err := utils.Unmarshal(raw, &stored); err == nil {
			c.timestamp = stored.Timestamp
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].timestamp < candidates[j].timestamp
	})

	var freed int64
	evicted := 0
	for _, c := range candidates {
		if freed >= needed {
			break
		}
		s.deletePersistLocked(c.key)
		freed += c.size
		evicted++
	}

	if evicted > 0 {
		s.logger.Debug("Persistent tier eviction",
			zap.Int("evicted", evicted),
			zap.Int64("freed_bytes", freed))
	}
}

func (s *TwoTierStore) getState() State {
	return s.state.Load().(State)
}

func (s *TwoTierStore) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *TwoTierStore) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func containsSubstring(key, substring string) bool {
	return substring != "" && strings.Contains(key, substring)
}
