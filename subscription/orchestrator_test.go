package subscription

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cricline/cricsync/backoff"
	"github.com/cricline/cricsync/cache"
	"github.com/cricline/cricsync/clock"
	"github.com/cricline/cricsync/coordinator"
	"github.com/cricline/cricsync/logger"
	"github.com/cricline/cricsync/metrics"
	"github.com/cricline/cricsync/types"
)

type fakePushChannel struct {
	messages   chan *types.PushFrame
	errs       chan error
	connectErr error
	closed     atomic.Bool
}

func newFakePushChannel() *fakePushChannel {
	return &fakePushChannel{
		messages: make(chan *types.PushFrame, 8),
		errs:     make(chan error, 1),
	}
}

func (f *fakePushChannel) Connect(ctx context.Context, resourceID string) error {
	return f.connectErr
}

func (f *fakePushChannel) Messages() <-chan *types.PushFrame { return f.messages }
func (f *fakePushChannel) Errors() <-chan error              { return f.errs }

func (f *fakePushChannel) Close() error {
	f.closed.Store(true)
	return nil
}

func newTestDeps(t *testing.T) (types.CacheStore, types.RequestCoordinator) {
	t.Helper()
	log := logger.NewNop()
	clk := clock.Real()

	cacheCfg := &types.CacheConfig{
		Enabled:       true,
		DefaultRule:   types.CacheRule{TTL: time.Minute, StaleWhileRevalidate: time.Minute, Version: 1},
		MaxMemEntries: 100,
	}
	store := cache.NewTwoTierStore(cacheCfg, nil, clk, log)

	coordCfg := &types.CoordinatorConfig{
		DefaultRule: types.RequestRule{MinInterval: 0, RetryCount: 0},
	}
	tracker := backoff.NewTracker(&types.BackoffPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, clk, log)
	coord := coordinator.New(coordCfg, tracker, clk, log, metrics.NewNopMetrics())

	return store, coord
}

func waitSnapshot(t *testing.T, sub types.Subscription) types.Snapshot {
	t.Helper()
	select {
	case snap := <-sub.Updates():
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return types.Snapshot{}
	}
}

func waitStatus(t *testing.T, sub types.Subscription, want types.ConnectionStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sub.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never reached %v, stuck at %v", want, sub.Status())
}

func TestPushFramesFlowToCacheAndUpdates(t *testing.T) {
	store, coord := newTestDeps(t)
	channel := newFakePushChannel()

	var fetches int32
	opts := Options{
		Key:        "match:live:1",
		ResourceID: "1",
		Fetcher: func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&fetches, 1)
			return "fetched", nil
		},
		NewChannel: func() types.PushChannel { return channel },
	}

	cfg := &types.SubscriptionConfig{ReconnectDelay: time.Minute, PollInterval: time.Minute, UpdateBuffer: 8}
	sub := NewOrchestrator(context.Background(), opts, cfg, store, coord, clock.Real(), logger.NewNop())
	defer func() { _ = sub.Close() }()

	// Bootstrap has no cached value, so the first snapshot is a fetch.
	snap := waitSnapshot(t, sub)
	if snap.Data != "fetched" {
		t.Fatalf("expected bootstrap fetch, got %v", snap.Data)
	}

	waitStatus(t, sub, types.StatusConnected)

	channel.messages <- &types.PushFrame{Type: types.FrameUpdate, Data: "pushed"}

	snap = waitSnapshot(t, sub)
	if snap.Data != "pushed" {
		t.Fatalf("expected pushed value, got %v", snap.Data)
	}

	// Pushed frames land in the cache too.
	result, ok := store.Get("match:live:1", nil)
	if !ok || result.Data != "pushed" {
		t.Fatalf("expected cache updated from push frame")
	}
}

func TestPushFailureSchedulesReconnect(t *testing.T) {
	store, coord := newTestDeps(t)
	channel := newFakePushChannel()

	opts := Options{
		Key:        "match:live:2",
		ResourceID: "2",
		Fetcher: func(ctx context.Context) (interface{}, error) {
			return "fetched", nil
		},
		NewChannel: func() types.PushChannel { return channel },
	}

	cfg := &types.SubscriptionConfig{ReconnectDelay: time.Minute, PollInterval: time.Minute, UpdateBuffer: 8}
	sub := NewOrchestrator(context.Background(), opts, cfg, store, coord, clock.Real(), logger.NewNop())
	defer func() { _ = sub.Close() }()

	waitStatus(t, sub, types.StatusConnected)

	channel.errs <- types.ErrPushChannelClosed

	waitStatus(t, sub, types.StatusReconnecting)
	if !channel.closed.Load() {
		t.Fatalf("expected failed channel closed")
	}
}

func TestOfflineFallsBackToPolling(t *testing.T) {
	store, coord := newTestDeps(t)
	channel := newFakePushChannel()

	var fetches int32
	opts := Options{
		Key:        "match:live:3",
		ResourceID: "3",
		Fetcher: func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&fetches, 1)
			return "fetched", nil
		},
		NewChannel: func() types.PushChannel { return channel },
	}

	cfg := &types.SubscriptionConfig{ReconnectDelay: time.Minute, PollInterval: 20 * time.Millisecond, UpdateBuffer: 8}
	sub := NewOrchestrator(context.Background(), opts, cfg, store, coord, clock.Real(), logger.NewNop())
	defer func() { _ = sub.Close() }()

	waitStatus(t, sub, types.StatusConnected)

	sub.SetOnline(false)
	waitStatus(t, sub, types.StatusFallbackPolling)

	before := atomic.LoadInt32(&fetches)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&fetches) > before {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("polling never fetched while offline")
}

func TestVisibilitySuspendsAndResumes(t *testing.T) {
	store, coord := newTestDeps(t)

	var fetches int32
	opts := Options{
		Key:        "matches:recent",
		ResourceID: "recent",
		Fetcher: func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&fetches, 1)
			return "fetched", nil
		},
	}

	cfg := &types.SubscriptionConfig{ReconnectDelay: time.Minute, PollInterval: time.Minute, UpdateBuffer: 8}
	sub := NewOrchestrator(context.Background(), opts, cfg, store, coord, clock.Real(), logger.NewNop())
	defer func() { _ = sub.Close() }()

	// No push channel configured: the subscription polls.
	waitStatus(t, sub, types.StatusFallbackPolling)

	sub.SetVisible(false)
	waitStatus(t, sub, types.StatusSuspended)

	before := atomic.LoadInt32(&fetches)
	sub.SetVisible(true)

	// Visibility resume refreshes once immediately.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&fetches) > before {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&fetches) == before {
		t.Fatalf("expected immediate refresh on resume")
	}
	waitStatus(t, sub, types.StatusFallbackPolling)
}

func TestCloseStopsUpdates(t *testing.T) {
	store, coord := newTestDeps(t)

	opts := Options{
		Key:        "series:1",
		ResourceID: "1",
		Fetcher: func(ctx context.Context) (interface{}, error) {
			return "fetched", nil
		},
	}

	cfg := &types.SubscriptionConfig{ReconnectDelay: time.Minute, PollInterval: time.Minute, UpdateBuffer: 8}
	sub := NewOrchestrator(context.Background(), opts, cfg, store, coord, clock.Real(), logger.NewNop())

	waitSnapshot(t, sub)

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The updates channel closes; pending reads drain then report closed.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("updates channel never closed")
		}
	}
}
