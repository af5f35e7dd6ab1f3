package types

// KeyValueStore is the persistent storage collaborator: flat string keys,
// opaque byte payloads, a fixed quota. Set returns ErrQuotaExceeded when a
// write would not fit; callers are expected to evict and retry. The
// persistent tier is an optimization, never a correctness dependency.
type KeyValueStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys() ([]string, error)
	Usage() (int64, error)
	Quota() int64
	Close() error
}

type KeyValueStoreCreator func(config interface{}) (KeyValueStore, error)
