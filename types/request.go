package types

import (
	"context"
	"time"
)

// Fetcher produces one value for one logical resource. The scraping layer
// supplies these; the coordinator only cares about the error taxonomy.
type Fetcher func(ctx context.Context) (interface{}, error)

// RequestCoordinator guarantees at most one network dispatch per key per
// dedup window, rate-limits dispatches, retries transient failures and
// feeds terminal failures into the backoff tracker.
type RequestCoordinator interface {
	Request(ctx context.Context, key string, fetcher Fetcher, opts *RequestOptions) (interface{}, error)
	Cancel(key string)
	CancelAll()
	InFlight(key string) bool
	Close()
}

// RequestRule is the per-resource-family dispatch policy, resolved by
// substring match over the rate-limit table.
type RequestRule struct {
	MinInterval   time.Duration `yaml:"min_interval" json:"min_interval"`
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent"`
	Priority      int           `yaml:"priority" json:"priority"`
	RetryCount    int           `yaml:"retry_count" json:"retry_count"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// RequestOptions tunes a single call. Force bypasses the in-flight dedup
// window; it is deliberately explicit rather than implied by any refresh
// path.
type RequestOptions struct {
	Rule  *RequestRule
	Force bool
}

// BackoffTracker owes a delay for keys that keep failing. State is per key;
// the policy is global.
type BackoffTracker interface {
	Delay(key string) time.Duration
	RecordError(key string)
	Reset(key string)
	ErrorCount(key string) int
	Clear()
}

// BackoffPolicy is the static backoff shape shared by all keys.
type BackoffPolicy struct {
	BaseDelay      time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction" json:"jitter_fraction"`
}
