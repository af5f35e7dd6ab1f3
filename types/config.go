package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
}

type ServiceConfig struct {
	Name         string              `yaml:"name" json:"name" validate:"required"`
	Version      string              `yaml:"version" json:"version" validate:"required"`
	Logger       *LoggerConfig       `yaml:"logger" json:"logger"`
	Cache        *CacheConfig        `yaml:"cache" json:"cache"`
	Storage      *StorageConfig      `yaml:"storage" json:"storage"`
	Coordinator  *CoordinatorConfig  `yaml:"coordinator" json:"coordinator"`
	Client       *ClientConfig       `yaml:"client" json:"client"`
	Backoff      *BackoffPolicy      `yaml:"backoff" json:"backoff"`
	Subscription *SubscriptionConfig `yaml:"subscription" json:"subscription"`
	Commentary   *CommentaryConfig   `yaml:"commentary" json:"commentary"`
	Metrics      *MetricsConfig      `yaml:"metrics" json:"metrics"`
	Sweep        *SweepConfig        `yaml:"sweep" json:"sweep"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

// CacheConfig holds the freshness rule table. Rules are matched in order:
// exact key, prefix pattern, suffix pattern, default.
type CacheConfig struct {
	Enabled       bool                 `yaml:"enabled" json:"enabled"`
	ExactRules    map[string]CacheRule `yaml:"exact_rules" json:"exact_rules"`
	PrefixRules   []PatternRule        `yaml:"prefix_rules" json:"prefix_rules"`
	SuffixRules   []PatternRule        `yaml:"suffix_rules" json:"suffix_rules"`
	DefaultRule   CacheRule            `yaml:"default_rule" json:"default_rule"`
	MaxMemEntries int                  `yaml:"max_mem_entries" json:"max_mem_entries"`
}

type PatternRule struct {
	Pattern string    `yaml:"pattern" json:"pattern" validate:"required"`
	Rule    CacheRule `yaml:"rule" json:"rule"`
}

type StorageConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Quota   int64       `yaml:"quota" json:"quota" validate:"min=0"`
	Config  interface{} `yaml:"config" json:"config"`
}

// CoordinatorConfig holds the rate-limit table, matched by substring over
// known resource families.
type CoordinatorConfig struct {
	Rules       map[string]RequestRule `yaml:"rules" json:"rules"`
	DefaultRule RequestRule            `yaml:"default_rule" json:"default_rule"`
}

type ClientConfig struct {
	BaseURL         string            `yaml:"base_url" json:"base_url"`
	Timeout         time.Duration     `yaml:"timeout" json:"timeout"`
	Headers         map[string]string `yaml:"headers" json:"headers"`
	MaxConnsPerHost int               `yaml:"max_conns_per_host" json:"max_conns_per_host"`
}

type SubscriptionConfig struct {
	PushURL        string        `yaml:"push_url" json:"push_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	UpdateBuffer   int           `yaml:"update_buffer" json:"update_buffer"`
}

type CommentaryConfig struct {
	MaxItems          int `yaml:"max_items" json:"max_items" validate:"min=0"`
	FullPageThreshold int `yaml:"full_page_threshold" json:"full_page_threshold" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{} `yaml:"config" json:"config"`
}

type SweepConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Schedule string `yaml:"schedule" json:"schedule"`
	Timezone string `yaml:"timezone" json:"timezone"`
}
