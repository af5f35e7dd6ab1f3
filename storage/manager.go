package storage

import (
	"context"

	"github.com/cricline/cricsync/types"
)

const DefaultQuota = 4 * 1024 * 1024

var customStoreCreators = make(map[string]types.KeyValueStoreCreator)

func RegisterStore(storeName string, creator types.KeyValueStoreCreator) {
	customStoreCreators[storeName] = creator
}

// NewKeyValueStore builds the persistent tier selected by config. A nil or
// disabled config yields no store at all; the cache then runs memory-only.
func NewKeyValueStore(ctx context.Context, logger types.Logger, config *types.StorageConfig) (types.KeyValueStore, error) {
	if config == nil || !config.Enabled {
		return nil, nil
	}

	quota := config.Quota
	if quota <= 0 {
		quota = DefaultQuota
	}

	var store types.KeyValueStore
	var err error

	switch config.Type {
	case "", "memory":
		store = NewMemoryStore(quota)
	case "sqlite":
		store, err = NewSQLiteStore(logger, config.Config, quota)
	case "clover":
		store, err = NewCloverStore(logger, config.Config, quota)
	case "redis":
		store, err = NewRedisStore(ctx, logger, config.Config, quota)
	default:
		if creator, exists := customStoreCreators[config.Type]; exists {
			store, err = creator(config.Config)
		} else {
			return nil, types.Errorf(types.ErrStorageTypeUnknown, "type: %s", config.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	return NewCompressedStore(store), nil
}
