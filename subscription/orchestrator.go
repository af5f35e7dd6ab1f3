package subscription

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cricline/cricsync/types"
)

// Options describes one resource subscription. A nil NewChannel means the
// resource has no push feed and lives on polling alone.
type Options struct {
	Key        string
	ResourceID string
	Fetcher    types.Fetcher
	NewChannel func() types.PushChannel
}

// Orchestrator is the per-resource facade gluing the cache, the
// coordinator and the push channel into one "current value + status"
// stream. Fresh cache hits are served instantly; stale ones are served
// flagged while a refresh runs; live resources ride the push channel and
// fall back to timed polling when it fails or the network is gone.
type Orchestrator struct {
	opts   Options
	cfg    *types.SubscriptionConfig
	cache  types.CacheStore
	coord  types.RequestCoordinator
	clock  types.Clock
	logger types.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	updates chan types.Snapshot
	status  atomic.Int32

	mu         sync.Mutex
	visible    bool
	online     bool
	closed     bool
	push       types.PushChannel
	cancelPush context.CancelFunc
	cancelPoll context.CancelFunc
	reconnect  types.Timer
}

func NewOrchestrator(ctx context.Context, opts Options, cfg *types.SubscriptionConfig, cache types.CacheStore, coord types.RequestCoordinator, clk types.Clock, logger types.Logger) *Orchestrator {
	subCtx, cancel := context.WithCancel(ctx)

	o := &Orchestrator{
		opts:    opts,
		cfg:     cfg,
		cache:   cache,
		coord:   coord,
		clock:   clk,
		logger:  logger,
		ctx:     subCtx,
		cancel:  cancel,
		updates: make(chan types.Snapshot, updateBuffer(cfg)),
		visible: true,
		online:  true,
	}
	o.setStatus(types.StatusConnecting)

	go o.bootstrap()

	return o
}

func updateBuffer(cfg *types.SubscriptionConfig) int {
	if cfg != nil && cfg.UpdateBuffer > 0 {
		return cfg.UpdateBuffer
	}
	return 16
}

func (o *Orchestrator) Updates() <-chan types.Snapshot {
	return o.updates
}

func (o *Orchestrator) Status() types.ConnectionStatus {
	return types.ConnectionStatus(o.status.Load())
}

// Refresh bypasses cache freshness and always dispatches through the
// coordinator. It still coalesces with an in-flight request for the same
// key; callers needing a truly separate dispatch pass Force themselves.
func (o *Orchestrator) Refresh() error {
	return o.fetchAndPublish(nil)
}

// SetVisible tears down all background work when the consuming UI is
// hidden and resumes, with one immediate refresh, when it shows again.
func (o *Orchestrator) SetVisible(visible bool) {
	o.mu.Lock()
	if o.closed || o.visible == visible {
		o.mu.Unlock()
		return
	}
	o.visible = visible

	if !visible {
		o.teardownLocked()
		o.mu.Unlock()
		o.setStatus(types.StatusSuspended)
		return
	}
	o.mu.Unlock()

	go func() {
		_ = o.Refresh()
	}()
	o.resume()
}

// SetOnline routes the subscription straight to fallback polling while the
// network is down instead of burning reconnect attempts.
func (o *Orchestrator) SetOnline(online bool) {
	o.mu.Lock()
	if o.closed || o.online == online {
		o.mu.Unlock()
		return
	}
	o.online = online
	visible := o.visible
	o.teardownLocked()
	o.mu.Unlock()

	if visible {
		o.resume()
	}
}

func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.teardownLocked()
	o.mu.Unlock()

	o.cancel()
	close(o.updates)
	return nil
}

// bootstrap serves whatever the cache has, refreshes if it is stale or
// missing, then enters the appropriate live mode.
func (o *Orchestrator) bootstrap() {
	if result, ok := o.cache.Get(o.opts.Key, nil); ok {
		o.publish(types.Snapshot{
			Data:      result.Data,
			Status:    o.Status(),
			Stale:     result.Stale,
			Timestamp: result.Timestamp,
		})

		if !result.Stale {
			o.resume()
			return
		}
	}

	_ = o.fetchAndPublish(nil)
	o.resume()
}

// resume enters push or polling mode depending on capability and network
// state. Callers must not hold the mutex.
func (o *Orchestrator) resume() {
	o.mu.Lock()
	if o.closed || !o.visible {
		o.mu.Unlock()
		return
	}

	live := o.opts.NewChannel != nil
	online := o.online
	o.mu.Unlock()

	if live && online {
		o.startPush()
	} else {
		o.startPolling()
	}
}

func (o *Orchestrator) startPush() {
	o.mu.Lock()
	if o.closed || !o.visible || o.cancelPush != nil {
		o.mu.Unlock()
		return
	}

	pushCtx, cancelPush := context.WithCancel(o.ctx)
	o.cancelPush = cancelPush
	o.mu.Unlock()

	o.setStatus(types.StatusConnecting)

	channel := o.opts.NewChannel()
	if err := channel.Connect(pushCtx, o.opts.ResourceID); err != nil {
		o.logger.Debug("Push channel connect failed",
			zap.String("resource", o.opts.ResourceID),
			zap.Error(err))
		o.handlePushFailure(channel, cancelPush)
		return
	}

	o.mu.Lock()
	o.push = channel
	o.stopPollingLocked()
	o.mu.Unlock()

	o.setStatus(types.StatusConnected)

	go o.consumePush(pushCtx, channel, cancelPush)
}

func (o *Orchestrator) consumePush(ctx context.Context, channel types.PushChannel, cancelPush context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-channel.Messages():
			if !ok {
				// A teardown closes the channel deliberately; only an
				// unexpected close counts as a failure.
				select {
				case <-ctx.Done():
					return
				default:
				}
				o.handlePushFailure(channel, cancelPush)
				return
			}
			o.handleFrame(frame)
		case err := <-channel.Errors():
			o.logger.Debug("Push channel error",
				zap.String("resource", o.opts.ResourceID),
				zap.Error(err))
			o.handlePushFailure(channel, cancelPush)
			return
		}
	}
}

func (o *Orchestrator) handleFrame(frame *types.PushFrame) {
	if frame == nil || (frame.Type != types.FrameInitial && frame.Type != types.FrameUpdate) {
		return
	}

	if err := o.cache.Set(o.opts.Key, frame.Data, nil); err != nil {
		o.logger.Debug("Cache write from push frame failed", zap.Error(err))
	}

	o.publish(types.Snapshot{
		Data:      frame.Data,
		Status:    o.Status(),
		Timestamp: o.clock.Now(),
	})
}

// handlePushFailure closes the channel and either schedules a reconnect
// or, when offline, drops to polling immediately.
func (o *Orchestrator) handlePushFailure(channel types.PushChannel, cancelPush context.CancelFunc) {
	_ = channel.Close()
	cancelPush()

	o.mu.Lock()
	if o.push == channel {
		o.push = nil
	}
	if o.cancelPush != nil {
		o.cancelPush = nil
	}

	if o.closed || !o.visible {
		o.mu.Unlock()
		return
	}

	o.setStatus(types.StatusDisconnected)

	if !o.online {
		o.mu.Unlock()
		o.startPolling()
		return
	}

	o.setStatus(types.StatusReconnecting)
	delay := o.cfg.ReconnectDelay
	o.reconnect = o.clock.AfterFunc(delay, func() {
		o.mu.Lock()
		o.reconnect = nil
		o.mu.Unlock()
		o.startPush()
	})
	o.mu.Unlock()
}

func (o *Orchestrator) startPolling() {
	o.mu.Lock()
	if o.closed || !o.visible {
		o.mu.Unlock()
		return
	}
	if o.cancelPoll != nil {
		o.mu.Unlock()
		o.setStatus(types.StatusFallbackPolling)
		return
	}

	pollCtx, cancelPoll := context.WithCancel(o.ctx)
	o.cancelPoll = cancelPoll
	interval := o.cfg.PollInterval
	o.mu.Unlock()

	o.setStatus(types.StatusFallbackPolling)

	go func() {
		ticker := o.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C():
				_ = o.fetchAndPublish(pollCtx)
			}
		}
	}()
}

// fetchAndPublish dispatches through the coordinator, caches the result
// and publishes it. A nil ctx uses the subscription context.
func (o *Orchestrator) fetchAndPublish(ctx context.Context) error {
	if ctx == nil {
		ctx = o.ctx
	}

	data, err := o.coord.Request(ctx, o.opts.Key, o.opts.Fetcher, nil)
	if err != nil {
		o.publish(types.Snapshot{
			Status:    o.Status(),
			Err:       err,
			Timestamp: o.clock.Now(),
		})
		return err
	}

	if err := o.cache.Set(o.opts.Key, data, nil); err != nil {
		o.logger.Debug("Cache write failed", zap.Error(err))
	}

	o.publish(types.Snapshot{
		Data:      data,
		Status:    o.Status(),
		Timestamp: o.clock.Now(),
	})
	return nil
}

// publish delivers a snapshot with latest-wins semantics: when the buffer
// is full the oldest pending update is dropped, never the newest.
func (o *Orchestrator) publish(snap types.Snapshot) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	defer o.mu.Unlock()

	for {
		select {
		case o.updates <- snap:
			return
		default:
			select {
			case <-o.updates:
			default:
			}
		}
	}
}

func (o *Orchestrator) setStatus(status types.ConnectionStatus) {
	o.status.Store(int32(status))
}

// teardownLocked stops every background activity. Callers hold the mutex.
func (o *Orchestrator) teardownLocked() {
	if o.reconnect != nil {
		o.reconnect.Stop()
		o.reconnect = nil
	}
	if o.cancelPush != nil {
		o.cancelPush()
		o.cancelPush = nil
	}
	if o.push != nil {
		_ = o.push.Close()
		o.push = nil
	}
	o.stopPollingLocked()
}

func (o *Orchestrator) stopPollingLocked() {
	if o.cancelPoll != nil {
		o.cancelPoll()
		o.cancelPoll = nil
	}
}
