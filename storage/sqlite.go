package storage

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cricline/cricsync/types"
	"github.com/cricline/cricsync/utils"
)

type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// SQLiteStore keeps the persistent tier in a single-file database so cached
// data survives process restarts on disk-backed hosts.
type SQLiteStore struct {
	db     *sql.DB
	logger types.Logger
	quota  int64
}

func NewSQLiteStore(logger types.Logger, config interface{}, quota int64) (*SQLiteStore, error) {
	sqliteConfig := &SQLiteConfig{Path: "cricsync.db"}

	if config != nil {
		if err := utils.UnmarshalConfig(config, sqliteConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite config")
		}
	}

	if dir := filepath.Dir(sqliteConfig.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, types.WrapError(err, "failed to create storage directory")
		}
	}

	db, err := sql.Open("sqlite3", sqliteConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite store")
	}

	db.SetMaxOpenConns(1)

	schema := `CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		size INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to initialize sqlite schema")
	}

	logger.Info("SQLite store opened", zap.String("path", sqliteConfig.Path))

	return &SQLiteStore{db: db, logger: logger, quota: quota}, nil
}

func (s *SQLiteStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.WrapError(err, "sqlite get failed")
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(key string, value []byte) error {
	size := entrySize(key, value)

	var existing sql.NullInt64
	err := s.db.QueryRow("SELECT size FROM kv_store WHERE key = ?", key).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return types.WrapError(err, "sqlite size lookup failed")
	}

	usage, err := s.Usage()
	if err != nil {
		return err
	}

	newUsage := usage - existing.Int64 + size
	if s.quota > 0 && newUsage > s.quota {
		return types.Errorf(types.ErrQuotaExceeded, "usage %d of %d", newUsage, s.quota)
	}

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO kv_store (key, value, size) VALUES (?, ?, ?)",
		key, value, size,
	)
	return types.WrapError(err, "sqlite set failed")
}

func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM kv_store WHERE key = ?", key)
	return types.WrapError(err, "sqlite delete failed")
}

func (s *SQLiteStore) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM kv_store")
	if err != nil {
		return nil, types.WrapError(err, "sqlite keys failed")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, types.WrapError(err, "sqlite key scan failed")
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Usage() (int64, error) {
	var usage sql.NullInt64
	err := s.db.QueryRow("SELECT SUM(size) FROM kv_store").Scan(&usage)
	if err != nil {
		return 0, types.WrapError(err, "sqlite usage failed")
	}
	return usage.Int64, nil
}

func (s *SQLiteStore) Quota() int64 {
	return s.quota
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
