package metrics

import (
	"context"

	"github.com/cricline/cricsync/types"
)

var customMetricsCreators = make(map[string]types.MetricsCreator)

func RegisterMetricsManager(name string, creator types.MetricsCreator) {
	customMetricsCreators[name] = creator
}

func NewMetricsManager(ctx context.Context, config *types.MetricsConfig, logger types.Logger) (types.MetricsManager, error) {
	if config == nil || !config.Enabled {
		return NewNopMetrics(), nil
	}

	switch config.Type {
	case "", "memory":
		return NewMemoryMetrics(ctx, logger), nil
	case "prometheus":
		return NewPrometheusMetrics(ctx, logger, config)
	default:
		if creator, exists := customMetricsCreators[config.Type]; exists {
			return creator(config.Config)
		}
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", config.Type)
	}
}

// NewNopMetrics returns a manager whose instruments discard every
// observation. Used when metrics are disabled and in tests.
func NewNopMetrics() types.MetricsManager {
	return &nopMetrics{}
}

type nopMetrics struct{}

type nopInstrument struct{}

func (nopInstrument) Inc()            {}
func (nopInstrument) Add(float64)     {}
func (nopInstrument) Set(float64)     {}
func (nopInstrument) Dec()            {}
func (nopInstrument) Observe(float64) {}

func (*nopMetrics) Start() error    { return nil }
func (*nopMetrics) Stop() error     { return nil }
func (*nopMetrics) IsRunning() bool { return true }

func (*nopMetrics) Counter(string, map[string]string) types.Counter {
	return nopInstrument{}
}

func (*nopMetrics) Gauge(string, map[string]string) types.Gauge {
	return nopInstrument{}
}

func (*nopMetrics) Histogram(string, []float64, map[string]string) types.Histogram {
	return nopInstrument{}
}
