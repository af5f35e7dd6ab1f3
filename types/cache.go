package types

import (
	"time"
)

// CacheStore is the two-tier cache at the center of the sync core. Values
// live in process memory and, best-effort, in a quota-bounded persistent
// tier. A value older than ttl but inside the stale-while-revalidate window
// is still served, flagged stale.
type CacheStore interface {
	LifecycleManager
	Get(key string, override *CacheRule) (*CacheResult, bool)
	Set(key string, data interface{}, override *CacheRule) error
	Delete(key string) error
	InvalidatePattern(substring string) int
	Clear() error
	Sweep() int
}

type CacheStoreCreator func(config interface{}) (CacheStore, error)

// CacheRule is the freshness policy resolved for a key: explicit override,
// then exact match, then prefix/suffix patterns, then the default.
type CacheRule struct {
	TTL                  time.Duration `yaml:"ttl" json:"ttl"`
	StaleWhileRevalidate time.Duration `yaml:"stale_while_revalidate" json:"stale_while_revalidate"`
	Version              int           `yaml:"version" json:"version"`
}

type CacheResult struct {
	Data      interface{}
	Timestamp time.Time
	Stale     bool
}

// CacheEntry is the in-memory tier record. Entries are replaced wholesale
// on Set, never mutated in place.
type CacheEntry struct {
	Key       string
	Data      interface{}
	Timestamp time.Time
	Rule      CacheRule
}

// StoredEntry is the persistent tier envelope, serialized as JSON.
type StoredEntry struct {
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	TTLMs     int64       `json:"ttl_ms"`
	SWRMs     int64       `json:"swr_ms"`
	Version   int         `json:"version"`
}
