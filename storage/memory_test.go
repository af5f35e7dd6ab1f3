package storage

import (
	"bytes"
	"testing"

	"github.com/cricline/cricsync/types"
)

func TestMemoryStoreQuota(t *testing.T) {
	store := NewMemoryStore(20)

	if err := store.Set("a", []byte("0123456789")); err != nil {
		t.Fatalf("set within quota: %v", err)
	}

	err := store.Set("b", []byte("0123456789"))
	if !types.IsError(err, types.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	// The failed write must not corrupt accounting.
	usage, _ := store.Usage()
	if usage != 11 {
		t.Fatalf("expected usage 11, got %d", usage)
	}
}

func TestMemoryStoreReplaceAccounting(t *testing.T) {
	store := NewMemoryStore(100)

	if err := store.Set("k", []byte("0123456789")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set("k", []byte("01")); err != nil {
		t.Fatalf("replace: %v", err)
	}

	usage, _ := store.Usage()
	if usage != 3 {
		t.Fatalf("expected usage 3 after replace, got %d", usage)
	}

	if err := store.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	usage, _ = store.Usage()
	if usage != 0 {
		t.Fatalf("expected usage 0 after delete, got %d", usage)
	}
}

func TestMemoryStoreReplaceFitsFreedSpace(t *testing.T) {
	store := NewMemoryStore(11)

	if err := store.Set("k", []byte("0123456789")); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Replacing an entry only needs the delta, not key+old+new at once.
	if err := store.Set("k", []byte("9876543210")); err != nil {
		t.Fatalf("replace at quota: %v", err)
	}

	usage, _ := store.Usage()
	if usage != 11 {
		t.Fatalf("expected usage 11 after replace, got %d", usage)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore(100)
	_ = store.Close()

	if err := store.Set("k", []byte("v")); !types.IsError(err, types.ErrStorageClosed) {
		t.Fatalf("expected ErrStorageClosed, got %v", err)
	}
	if _, _, err := store.Get("k"); !types.IsError(err, types.ErrStorageClosed) {
		t.Fatalf("expected ErrStorageClosed on get, got %v", err)
	}
}

func TestMemoryStoreGetCopies(t *testing.T) {
	store := NewMemoryStore(100)
	_ = store.Set("k", []byte("abc"))

	value, ok, err := store.Get("k")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	value[0] = 'x'

	again, _, _ := store.Get("k")
	if !bytes.Equal(again, []byte("abc")) {
		t.Fatalf("stored value mutated through returned slice")
	}
}
