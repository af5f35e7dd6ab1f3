package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cricline/cricsync/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, types.WrapError(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

// Defaults carries the resource-family freshness and rate-limit tables for
// the known feed families: live match state, recent/upcoming lists,
// scorecards, player profiles, series data, rankings.
func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "cricsync",
		Version: "dev",
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Cache: &types.CacheConfig{
			Enabled: true,
			PrefixRules: []types.PatternRule{
				{Pattern: "match:live:", Rule: types.CacheRule{TTL: 10 * time.Second, StaleWhileRevalidate: 20 * time.Second, Version: 1}},
				{Pattern: "matches:recent", Rule: types.CacheRule{TTL: 3 * time.Minute, StaleWhileRevalidate: 10 * time.Minute, Version: 1}},
				{Pattern: "matches:upcoming", Rule: types.CacheRule{TTL: 5 * time.Minute, StaleWhileRevalidate: 15 * time.Minute, Version: 1}},
				{Pattern: "player:", Rule: types.CacheRule{TTL: time.Hour, StaleWhileRevalidate: 24 * time.Hour, Version: 1}},
				{Pattern: "series:", Rule: types.CacheRule{TTL: 30 * time.Minute, StaleWhileRevalidate: 2 * time.Hour, Version: 1}},
				{Pattern: "rankings:", Rule: types.CacheRule{TTL: 6 * time.Hour, StaleWhileRevalidate: 24 * time.Hour, Version: 1}},
			},
			SuffixRules: []types.PatternRule{
				{Pattern: ":scorecard:live", Rule: types.CacheRule{TTL: 30 * time.Second, StaleWhileRevalidate: time.Minute, Version: 1}},
				{Pattern: ":scorecard", Rule: types.CacheRule{TTL: 5 * time.Minute, StaleWhileRevalidate: 15 * time.Minute, Version: 1}},
			},
			DefaultRule:   types.CacheRule{TTL: time.Minute, StaleWhileRevalidate: 5 * time.Minute, Version: 1},
			MaxMemEntries: 2000,
		},
		Storage: &types.StorageConfig{
			Enabled: true,
			Type:    "memory",
			Quota:   4 * 1024 * 1024,
		},
		Coordinator: &types.CoordinatorConfig{
			Rules: map[string]types.RequestRule{
				"match:live": {MinInterval: 2 * time.Second, MaxConcurrent: 4, Priority: 10, RetryCount: 2, RetryDelay: time.Second},
				"commentary": {MinInterval: 2 * time.Second, MaxConcurrent: 4, Priority: 10, RetryCount: 2, RetryDelay: time.Second},
				"scorecard":  {MinInterval: 5 * time.Second, MaxConcurrent: 2, Priority: 5, RetryCount: 2, RetryDelay: time.Second},
				"player":     {MinInterval: 10 * time.Second, MaxConcurrent: 2, Priority: 1, RetryCount: 3, RetryDelay: 2 * time.Second},
				"rankings":   {MinInterval: 30 * time.Second, MaxConcurrent: 1, Priority: 1, RetryCount: 3, RetryDelay: 2 * time.Second},
			},
			DefaultRule: types.RequestRule{MinInterval: 3 * time.Second, MaxConcurrent: 2, Priority: 1, RetryCount: 2, RetryDelay: time.Second},
		},
		Client: &types.ClientConfig{
			Timeout: 15 * time.Second,
		},
		Backoff: &types.BackoffPolicy{
			BaseDelay:      time.Second,
			MaxDelay:       60 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
		},
		Subscription: &types.SubscriptionConfig{
			ReconnectDelay: 5 * time.Second,
			PollInterval:   10 * time.Second,
			UpdateBuffer:   16,
		},
		Commentary: &types.CommentaryConfig{
			MaxItems:          500,
			FullPageThreshold: 20,
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Sweep: &types.SweepConfig{
			Enabled:  true,
			Schedule: "0 */5 * * * *",
			Timezone: "UTC",
		},
	}
}
