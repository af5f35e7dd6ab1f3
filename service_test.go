package cricsync

import (
	"context"
	"testing"
	"time"

	"github.com/cricline/cricsync/types"
)

func TestServiceLifecycle(t *testing.T) {
	service, err := NewService(context.Background(), "")
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	if err := service.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !service.IsRunning() {
		t.Fatalf("expected running after start")
	}
	if err := service.Start(); !types.IsError(err, types.ErrServiceIsRunning) {
		t.Fatalf("expected double start rejected, got %v", err)
	}

	if err := service.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if service.IsRunning() {
		t.Fatalf("expected stopped after stop")
	}
}

func TestServiceSubscribeRoundTrip(t *testing.T) {
	service, err := NewService(context.Background(), "")
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	if err := service.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = service.Stop() }()

	fetcher := func(ctx context.Context) (interface{}, error) {
		return map[string]interface{}{"score": "204/5"}, nil
	}

	sub, err := service.Subscribe("match:live:99", "99", fetcher, false)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case snap := <-sub.Updates():
		data, ok := snap.Data.(map[string]interface{})
		if !ok || data["score"] != "204/5" {
			t.Fatalf("unexpected snapshot data: %v", snap.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot from subscription")
	}

	// The fetched value is cached for subsequent readers.
	result, ok := service.Cache().Get("match:live:99", nil)
	if !ok {
		t.Fatalf("expected fetched value cached")
	}
	if data, _ := result.Data.(map[string]interface{}); data["score"] != "204/5" {
		t.Fatalf("unexpected cached data: %v", result.Data)
	}
}

func TestServiceSubscribeRequiresRunning(t *testing.T) {
	service, err := NewService(context.Background(), "")
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	_, err = service.Subscribe("k", "1", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, false)
	if !types.IsError(err, types.ErrServiceNotRunning) {
		t.Fatalf("expected ErrServiceNotRunning, got %v", err)
	}
}
