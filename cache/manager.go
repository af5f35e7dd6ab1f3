package cache

import (
	"context"
	"time"

	"github.com/cricline/cricsync/types"
)

var customCacheCreators = make(map[string]types.CacheStoreCreator)

func RegisterCacheStore(cacheName string, creator types.CacheStoreCreator) {
	customCacheCreators[cacheName] = creator
}

func NewCacheStore(ctx context.Context, cfg *types.CacheConfig, persist types.KeyValueStore, clk types.Clock, logger types.Logger, metrics types.MetricsManager) (types.CacheStore, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, types.ErrCacheDisabled
	}

	impl := NewTwoTierStore(cfg, persist, clk, logger)

	return newInstrumentedCacheStore(logger, metrics, impl), nil
}

type instrumentedCacheStore struct {
	impl    types.CacheStore
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedCacheStore(logger types.Logger, metrics types.MetricsManager, impl types.CacheStore) types.CacheStore {
	return &instrumentedCacheStore{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (ics *instrumentedCacheStore) Get(key string, override *types.CacheRule) (*types.CacheResult, bool) {
	start := time.Now()
	result, exists := ics.impl.Get(key, override)
	duration := time.Since(start)

	outcome := "miss"
	if exists {
		outcome = "hit"
		if result.Stale {
			outcome = "stale"
		}
	}

	ics.recordMetric("get", outcome, duration)
	return result, exists
}

func (ics *instrumentedCacheStore) Set(key string, data interface{}, override *types.CacheRule) error {
	start := time.Now()
	err := ics.impl.Set(key, data, override)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ics.recordMetric("set", result, duration)
	return err
}

func (ics *instrumentedCacheStore) Delete(key string) error {
	start := time.Now()
	err := ics.impl.Delete(key)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ics.recordMetric("delete", result, duration)
	return err
}

func (ics *instrumentedCacheStore) InvalidatePattern(substring string) int {
	start := time.Now()
	removed := ics.impl.InvalidatePattern(substring)
	ics.recordMetric("invalidate", "success", time.Since(start))
	return removed
}

func (ics *instrumentedCacheStore) Clear() error {
	start := time.Now()
	err := ics.impl.Clear()
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	ics.recordMetric("clear", result, duration)
	return err
}

func (ics *instrumentedCacheStore) Sweep() int {
	start := time.Now()
	removed := ics.impl.Sweep()
	ics.recordMetric("sweep", "success", time.Since(start))
	return removed
}

func (ics *instrumentedCacheStore) Start() error {
	return ics.impl.Start()
}

func (ics *instrumentedCacheStore) Stop() error {
	return ics.impl.Stop()
}

func (ics *instrumentedCacheStore) IsRunning() bool {
	return ics.impl.IsRunning()
}

func (ics *instrumentedCacheStore) recordMetric(operation, result string, duration time.Duration) {
	opCounter := ics.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := ics.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}
