package storage

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/cricline/cricsync/types"
)

// compressThreshold is the payload size above which compression is worth
// the CPU. Small score payloads gain nothing; full scorecards and
// commentary pages shrink several-fold, stretching the fixed quota.
const compressThreshold = 1024

var compressedMagic = []byte{0xb7, 0x01}

// CompressedStore transparently brotli-compresses large payloads before
// they reach the inner backend. Reads pass small and legacy uncompressed
// values straight through.
type CompressedStore struct {
	inner types.KeyValueStore
}

func NewCompressedStore(inner types.KeyValueStore) *CompressedStore {
	return &CompressedStore{inner: inner}
}

func (s *CompressedStore) Get(key string) ([]byte, bool, error) {
	value, ok, err := s.inner.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}

	if !bytes.HasPrefix(value, compressedMagic) {
		return value, true, nil
	}

	reader := brotli.NewReader(bytes.NewReader(value[len(compressedMagic):]))
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, types.WrapError(err, "failed to decompress stored entry")
	}
	return decoded, true, nil
}

func (s *CompressedStore) Set(key string, value []byte) error {
	if len(value) < compressThreshold {
		return s.inner.Set(key, value)
	}

	var buf bytes.Buffer
	buf.Write(compressedMagic)

	writer := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := writer.Write(value); err != nil {
		_ = writer.Close()
		return s.inner.Set(key, value)
	}
	if err := writer.Close(); err != nil {
		return s.inner.Set(key, value)
	}

	// Compression can inflate incompressible payloads; keep the smaller form.
	if buf.Len() >= len(value) {
		return s.inner.Set(key, value)
	}

	return s.inner.Set(key, buf.Bytes())
}

func (s *CompressedStore) Delete(key string) error {
	return s.inner.Delete(key)
}

func (s *CompressedStore) Keys() ([]string, error) {
	return s.inner.Keys()
}

func (s *CompressedStore) Usage() (int64, error) {
	return s.inner.Usage()
}

func (s *CompressedStore) Quota() int64 {
	return s.inner.Quota()
}

func (s *CompressedStore) Close() error {
	return s.inner.Close()
}
