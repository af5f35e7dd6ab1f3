package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cricline/cricsync/types"
	"github.com/cricline/cricsync/utils"
)

type RedisConfig struct {
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	HashKey  string `yaml:"hash_key" json:"hash_key"`
}

// RedisStore keeps the persistent tier in a single hash so multiple clients
// on the same host share one warmed cache. Quota is enforced locally, not
// by the server.
type RedisStore struct {
	ctx     context.Context
	client  *redis.Client
	logger  types.Logger
	hashKey string
	quota   int64
}

func NewRedisStore(ctx context.Context, logger types.Logger, config interface{}, quota int64) (*RedisStore, error) {
	redisConfig := &RedisConfig{
		Address: "localhost:6379",
		HashKey: "cricsync:kv",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis config")
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisConfig.Address,
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	logger.Info("Redis store connected",
		zap.String("address", redisConfig.Address),
		zap.String("hash_key", redisConfig.HashKey))

	return &RedisStore{
		ctx:     ctx,
		client:  client,
		logger:  logger,
		hashKey: redisConfig.HashKey,
		quota:   quota,
	}, nil
}

func (s *RedisStore) Get(key string) ([]byte, bool, error) {
	value, err := s.client.HGet(s.ctx, s.hashKey, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.WrapError(err, "redis get failed")
	}
	return value, true, nil
}

func (s *RedisStore) Set(key string, value []byte) error {
	usage, err := s.Usage()
	if err != nil {
		return err
	}

	var existing int64
	if old, err := s.client.HGet(s.ctx, s.hashKey, key).Bytes(); err == nil {
		existing = entrySize(key, old)
	}

	newUsage := usage - existing + entrySize(key, value)
	if s.quota > 0 && newUsage > s.quota {
		return types.Errorf(types.ErrQuotaExceeded, "usage %d of %d", newUsage, s.quota)
	}

	err = s.client.HSet(s.ctx, s.hashKey, key, value).Err()
	return types.WrapError(err, "redis set failed")
}

func (s *RedisStore) Delete(key string) error {
	err := s.client.HDel(s.ctx, s.hashKey, key).Err()
	return types.WrapError(err, "redis delete failed")
}

func (s *RedisStore) Keys() ([]string, error) {
	keys, err := s.client.HKeys(s.ctx, s.hashKey).Result()
	if err != nil {
		return nil, types.WrapError(err, "redis keys failed")
	}
	return keys, nil
}

func (s *RedisStore) Usage() (int64, error) {
	all, err := s.client.HGetAll(s.ctx, s.hashKey).Result()
	if err != nil {
		return 0, types.WrapError(err, "redis usage failed")
	}

	var usage int64
	for key, value := range all {
		usage += int64(len(key) + len(value))
	}
	return usage, nil
}

func (s *RedisStore) Quota() int64 {
	return s.quota
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
