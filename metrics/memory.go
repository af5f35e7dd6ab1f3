package metrics

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cricline/cricsync/types"
)

func floatBits(f float64) uint64 { return math.Float64bits(f) }
func bitsFloat(b uint64) float64 { return math.Float64frombits(b) }

// MemoryMetrics keeps instruments in process memory. It exists so the
// instrumented decorators always have something to record into without a
// scrape endpoint.
type MemoryMetrics struct {
	ctx        context.Context
	logger     types.Logger
	counters   sync.Map
	gauges     sync.Map
	histograms sync.Map
	running    atomic.Bool
}

func NewMemoryMetrics(ctx context.Context, logger types.Logger) types.MetricsManager {
	return &MemoryMetrics{ctx: ctx, logger: logger}
}

func (m *MemoryMetrics) Start() error {
	m.running.Store(true)
	return nil
}

func (m *MemoryMetrics) Stop() error {
	m.running.Store(false)
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return m.running.Load()
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := instrumentKey(name, labels)
	actual, _ := m.counters.LoadOrStore(key, &memCounter{})
	return actual.(*memCounter)
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := instrumentKey(name, labels)
	actual, _ := m.gauges.LoadOrStore(key, &memGauge{})
	return actual.(*memGauge)
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := instrumentKey(name, labels)
	actual, _ := m.histograms.LoadOrStore(key, &memHistogram{})
	return actual.(*memHistogram)
}

// CounterValue reads a counter back out, mostly for tests.
func (m *MemoryMetrics) CounterValue(name string, labels map[string]string) float64 {
	if v, ok := m.counters.Load(instrumentKey(name, labels)); ok {
		return v.(*memCounter).value()
	}
	return 0
}

// GaugeValue reads a gauge back out, mostly for tests.
func (m *MemoryMetrics) GaugeValue(name string, labels map[string]string) float64 {
	if v, ok := m.gauges.Load(instrumentKey(name, labels)); ok {
		return bitsFloat(v.(*memGauge).bits.Load())
	}
	return 0
}

func instrumentKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	return sb.String()
}

type memCounter struct {
	bits atomic.Uint64
}

func (c *memCounter) Inc() { c.Add(1) }

func (c *memCounter) Add(delta float64) {
	for {
		old := c.bits.Load()
		next := floatBits(bitsFloat(old) + delta)
		if c.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *memCounter) value() float64 {
	return bitsFloat(c.bits.Load())
}

type memGauge struct {
	bits atomic.Uint64
}

func (g *memGauge) Set(value float64) { g.bits.Store(floatBits(value)) }
func (g *memGauge) Inc()              { g.add(1) }
func (g *memGauge) Dec()              { g.add(-1) }

func (g *memGauge) add(delta float64) {
	for {
		old := g.bits.Load()
		next := floatBits(bitsFloat(old) + delta)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

type memHistogram struct {
	mu    sync.Mutex
	count int64
	sum   float64
}

func (h *memHistogram) Observe(value float64) {
	h.mu.Lock()
	h.count++
	h.sum += value
	h.mu.Unlock()
}
