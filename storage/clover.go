package storage

import (
	"encoding/base64"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/cricline/cricsync/types"
	"github.com/cricline/cricsync/utils"
)

const cloverCollection = "kv_store"

type CloverConfig struct {
	Path string `yaml:"path" json:"path"`
}

// CloverStore is a document-database-backed persistent tier. Payloads are
// base64-encoded because clover stores documents as JSON.
type CloverStore struct {
	db     *clover.DB
	logger types.Logger
	quota  int64
}

func NewCloverStore(logger types.Logger, config interface{}, quota int64) (*CloverStore, error) {
	cloverConfig := &CloverConfig{}

	if config != nil {
		if err := utils.UnmarshalConfig(config, cloverConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover config")
		}
	}

	db, err := clover.Open(cloverConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover store")
	}

	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to check clover collection")
	}

	if !exists {
		if err := db.CreateCollection(cloverCollection); err != nil {
			_ = db.Close()
			return nil, types.WrapError(err, "failed to create clover collection")
		}
	}

	logger.Info("Clover store opened", zap.String("path", cloverConfig.Path))

	return &CloverStore{db: db, logger: logger, quota: quota}, nil
}

func (s *CloverStore) Get(key string) ([]byte, bool, error) {
	doc, err := s.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).FindFirst()
	if err != nil {
		return nil, false, types.WrapError(err, "clover get failed")
	}
	if doc == nil {
		return nil, false, nil
	}

	encoded, ok := doc.Get("value").(string)
	if !ok {
		return nil, false, types.ErrEntryCorrupted
	}

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, types.WrapError(err, "clover value decode failed")
	}
	return value, true, nil
}

func (s *CloverStore) Set(key string, value []byte) error {
	size := entrySize(key, value)

	var existingSize int64
	doc, err := s.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).FindFirst()
	if err != nil {
		return types.WrapError(err, "clover lookup failed")
	}
	if doc != nil {
		if sz, ok := doc.Get("size").(int64); ok {
			existingSize = sz
		} else if szf, ok := doc.Get("size").(float64); ok {
			existingSize = int64(szf)
		}
	}

	usage, err := s.Usage()
	if err != nil {
		return err
	}

	newUsage := usage - existingSize + size
	if s.quota > 0 && newUsage > s.quota {
		return types.Errorf(types.ErrQuotaExceeded, "usage %d of %d", newUsage, s.quota)
	}

	if doc != nil {
		if err := s.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).Delete(); err != nil {
			return types.WrapError(err, "clover replace failed")
		}
	}

	newDoc := clover.NewDocument()
	newDoc.Set("key", key)
	newDoc.Set("value", base64.StdEncoding.EncodeToString(value))
	newDoc.Set("size", size)

	_, err = s.db.InsertOne(cloverCollection, newDoc)
	return types.WrapError(err, "clover set failed")
}

func (s *CloverStore) Delete(key string) error {
	err := s.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).Delete()
	return types.WrapError(err, "clover delete failed")
}

func (s *CloverStore) Keys() ([]string, error) {
	docs, err := s.db.Query(cloverCollection).FindAll()
	if err != nil {
		return nil, types.WrapError(err, "clover keys failed")
	}

	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		if key, ok := doc.Get("key").(string); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *CloverStore) Usage() (int64, error) {
	docs, err := s.db.Query(cloverCollection).FindAll()
	if err != nil {
		return 0, types.WrapError(err, "clover usage failed")
	}

	var usage int64
	for _, doc := range docs {
		switch sz := doc.Get("size").(type) {
		case int64:
			usage += sz
		case float64:
			usage += int64(sz)
		}
	}
	return usage, nil
}

func (s *CloverStore) Quota() int64 {
	return s.quota
}

func (s *CloverStore) Close() error {
	return s.db.Close()
}
