package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/cricline/cricsync/types"
	"github.com/cricline/cricsync/utils"
)

type PrometheusConfig struct {
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Subsystem       string            `yaml:"subsystem" json:"subsystem"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

type PrometheusMetrics struct {
	ctx        context.Context
	logger     types.Logger
	config     *PrometheusConfig
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.RWMutex
	running    int32
}

func NewPrometheusMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	promConfig := &PrometheusConfig{
		Namespace:       "cricsync",
		Labels:          make(map[string]string),
		EnableGoMetrics: true,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, promConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal prometheus config")
		}
	}

	registry := prometheus.NewRegistry()
	if promConfig.EnableGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	return &PrometheusMetrics{
		ctx:        ctx,
		logger:     logger,
		config:     promConfig,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}, nil
}

func (p *PrometheusMetrics) Start() error {
	atomic.StoreInt32(&p.running, 1)
	p.logger.Info("Prometheus metrics started",
		zap.String("namespace", p.config.Namespace))
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	atomic.StoreInt32(&p.running, 0)
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

// Registry exposes the underlying registry so an embedding application can
// mount its own scrape endpoint.
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// Gather snapshots every registered metric family.
func (p *PrometheusMetrics) Gather() ([]*dto.MetricFamily, error) {
	return p.registry.Gather()
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	labelNames := sortedLabelNames(labels)
	vecKey := name + "|" + strings.Join(labelNames, ",")

	p.mu.Lock()
	vec, exists := p.counters[vecKey]
	if !exists {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.config.Namespace,
			Subsystem: p.config.Subsystem,
			Name:      name,
		}, labelNames)
		if err := p.registry.Register(vec); err != nil {
			p.logger.Debug("Counter registration failed", zap.String("name", name), zap.Error(err))
		}
		p.counters[vecKey] = vec
	}
	p.mu.Unlock()

	return vec.With(prometheus.Labels(labels))
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	labelNames := sortedLabelNames(labels)
	vecKey := name + "|" + strings.Join(labelNames, ",")

	p.mu.Lock()
	vec, exists := p.gauges[vecKey]
	if !exists {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.config.Namespace,
			Subsystem: p.config.Subsystem,
			Name:      name,
		}, labelNames)
		if err := p.registry.Register(vec); err != nil {
			p.logger.Debug("Gauge registration failed", zap.String("name", name), zap.Error(err))
		}
		p.gauges[vecKey] = vec
	}
	p.mu.Unlock()

	return vec.With(prometheus.Labels(labels))
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	labelNames := sortedLabelNames(labels)
	vecKey := name + "|" + strings.Join(labelNames, ",")

	p.mu.Lock()
	vec, exists := p.histograms[vecKey]
	if !exists {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.config.Namespace,
			Subsystem: p.config.Subsystem,
			Name:      name,
			Buckets:   buckets,
		}, labelNames)
		if err := p.registry.Register(vec); err != nil {
			p.logger.Debug("Histogram registration failed", zap.String("name", name), zap.Error(err))
		}
		p.histograms[vecKey] = vec
	}
	p.mu.Unlock()

	return vec.With(prometheus.Labels(labels))
}

func sortedLabelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
