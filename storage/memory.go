package storage

import (
	"sync"

	"github.com/cricline/cricsync/types"
)

// MemoryStore is the quota-bounded in-process backend. It is also what the
// cache degrades to when a real persistent backend keeps failing.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	usage  int64
	quota  int64
	closed bool
}

func NewMemoryStore(quota int64) *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, types.ErrStorageClosed
	}

	value, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ErrStorageClosed
	}

	newUsage := s.usage + entrySize(key, value)
	if old, ok := s.data[key]; ok {
		newUsage -= entrySize(key, old)
	}
	if s.quota > 0 && newUsage > s.quota {
		return types.Errorf(types.ErrQuotaExceeded, "usage %d of %d", newUsage, s.quota)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	if old, ok := s.data[key]; ok {
		s.usage -= entrySize(key, old)
	}
	s.data[key] = stored
	s.usage += entrySize(key, stored)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ErrStorageClosed
	}

	if old, ok := s.data[key]; ok {
		s.usage -= entrySize(key, old)
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, types.ErrStorageClosed
	}

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *MemoryStore) Usage() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage, nil
}

func (s *MemoryStore) Quota() int64 {
	return s.quota
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	s.usage = 0
	return nil
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
