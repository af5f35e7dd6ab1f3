package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cricline/cricsync/config"
	"github.com/cricline/cricsync/types"
)

// maxRetryDelay caps the exponential retry delay inside one request's
// local retry loop.
const maxRetryDelay = 30 * time.Second

// Coordinator guarantees at most one network dispatch per key per dedup
// window. Callers arriving while a dispatch is outstanding, or shortly
// after it completed, receive the same result instead of triggering a
// second fetch. Terminal failures feed the backoff tracker, penalizing
// future calls for that key only.
type Coordinator struct {
	cfg     *types.CoordinatorConfig
	backoff types.BackoffTracker
	clock   types.Clock
	logger  types.Logger
	metrics types.MetricsManager

	mu           sync.Mutex
	inflight     map[string]*call
	lastDispatch map[string]time.Time
	closed       bool
}

// call is one dispatched fetch plus its shared result. The entry outlives
// completion: it stays registered until minInterval has elapsed past
// dispatch, which keeps the dedup window meaningful for fast fetches.
type call struct {
	done       chan struct{}
	result     interface{}
	err        error
	dispatched time.Time
	cancel     context.CancelFunc
}

func New(cfg *types.CoordinatorConfig, tracker types.BackoffTracker, clk types.Clock, logger types.Logger, metrics types.MetricsManager) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		backoff:      tracker,
		clock:        clk,
		logger:       logger,
		metrics:      metrics,
		inflight:     make(map[string]*call),
		lastDispatch: make(map[string]time.Time),
	}
}

func (c *Coordinator) Request(ctx context.Context, key string, fetcher types.Fetcher, opts *types.RequestOptions) (interface{}, error) {
	if fetcher == nil {
		return nil, types.ErrFetcherIsNil
	}

	var rule types.RequestRule
	force := false
	if opts != nil {
		rule = config.ResolveRequestRule(c.cfg, key, opts.Rule)
		force = opts.Force
	} else {
		rule = config.ResolveRequestRule(c.cfg, key, nil)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, types.ErrCoordinatorClosed
	}

	if !force {
		if existing, ok := c.inflight[key]; ok && c.clock.Now().Sub(existing.dispatched) < rule.MinInterval {
			c.mu.Unlock()
			c.recordMetric(key, "dedup")
			return c.join(ctx, existing)
		}
	}
	c.mu.Unlock()

	if err := c.waitTurn(ctx, key, rule, force); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, types.ErrCoordinatorClosed
	}

	// Another caller may have dispatched while this one was waiting out
	// backoff or the rate limit; join them rather than double-dispatch.
	if !force {
		if existing, ok := c.inflight[key]; ok && c.clock.Now().Sub(existing.dispatched) < rule.MinInterval {
			c.mu.Unlock()
			c.recordMetric(key, "dedup")
			return c.join(ctx, existing)
		}
	}

	// The fetch runs on its own context: late joiners share the result,
	// so one caller's departure must not abort it.
	callCtx, cancel := context.WithCancel(context.Background())
	now := c.clock.Now()
	cl := &call{
		done:       make(chan struct{}),
		dispatched: now,
		cancel:     cancel,
	}
	c.inflight[key] = cl
	c.lastDispatch[key] = now
	c.mu.Unlock()

	c.recordMetric(key, "dispatch")

	cl.result, cl.err = c.execute(callCtx, key, fetcher, rule)
	close(cl.done)
	cancel()

	c.scheduleCleanup(key, cl, rule.MinInterval)

	if cl.err != nil {
		c.recordMetric(key, "error")
	} else {
		c.recordMetric(key, "success")
	}

	return cl.result, cl.err
}

// join waits on an outstanding call and returns its shared result.
func (c *Coordinator) join(ctx context.Context, cl *call) (interface{}, error) {
	select {
	case <-cl.done:
		return cl.result, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// waitTurn sleeps out any backoff owed for key plus whatever remains of
// the minimum dispatch interval. Force skips neither; it only bypasses
// result sharing.
func (c *Coordinator) waitTurn(ctx context.Context, key string, rule types.RequestRule, force bool) error {
	wait := c.backoff.Delay(key)

	c.mu.Lock()
	if last, ok := c.lastDispatch[key]; ok {
		if remaining := rule.MinInterval - c.clock.Now().Sub(last); remaining > wait && !force {
			wait = remaining
		}
	}
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	c.logger.Debug("Delaying dispatch",
		zap.String("key", key),
		zap.Duration("wait", wait))

	select {
	case <-c.clock.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs the fetch with its local retry loop. Non-retryable failures
// abort immediately without a backoff penalty; exhausted retries record
// one backoff error against the key.
func (c *Coordinator) execute(ctx context.Context, key string, fetcher types.Fetcher, rule types.RequestRule) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= rule.RetryCount; attempt++ {
		result, err := fetcher(ctx)
		if err == nil {
			c.backoff.Reset(key)
			return result, nil
		}

		lastErr = err

		if !types.IsRetryable(err) {
			c.logger.Debug("Non-retryable fetch failure",
				zap.String("key", key),
				zap.Error(err))
			return nil, err
		}

		if attempt < rule.RetryCount {
			delay := rule.RetryDelay << attempt
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}

			c.logger.Debug("Retrying fetch",
				zap.String("key", key),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))

			select {
			case <-c.clock.After(delay):
			case <-ctx.Done():
				return nil, types.Errorf(types.ErrRequestCancelled, "key: %s", key)
			}
		}
	}

	c.backoff.RecordError(key)

	c.logger.Warn("Fetch failed after retries",
		zap.String("key", key),
		zap.Int("attempts", rule.RetryCount+1),
		zap.Error(lastErr))

	return nil, lastErr
}

// scheduleCleanup removes the in-flight entry once minInterval has elapsed
// past dispatch, not on completion.
func (c *Coordinator) scheduleCleanup(key string, cl *call, minInterval time.Duration) {
	remaining := minInterval - c.clock.Now().Sub(cl.dispatched)
	if remaining <= 0 {
		c.removeCall(key, cl)
		return
	}

	c.clock.AfterFunc(remaining, func() {
		c.removeCall(key, cl)
	})
}

func (c *Coordinator) removeCall(key string, cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.inflight[key]; ok && current == cl {
		delete(c.inflight, key)
	}
	// The rate-limit stamp has served its purpose once minInterval has
	// elapsed; dropping it keeps the map from growing with dead keys. A
	// newer dispatch keeps its own stamp.
	if last, ok := c.lastDispatch[key]; ok && !last.After(cl.dispatched) {
		delete(c.lastDispatch, key)
	}
}

// Cancel aborts the outstanding fetch for key, if any. Joined callers all
// observe the cancellation error.
func (c *Coordinator) Cancel(key string) {
	c.mu.Lock()
	cl, ok := c.inflight[key]
	c.mu.Unlock()

	if ok {
		cl.cancel()
	}
}

func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	calls := make([]*call, 0, len(c.inflight))
	for _, cl := range c.inflight {
		calls = append(calls, cl)
	}
	c.mu.Unlock()

	for _, cl := range calls {
		cl.cancel()
	}
}

func (c *Coordinator) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.inflight[key]
	if !ok {
		return false
	}

	select {
	case <-cl.done:
		return false
	default:
		return true
	}
}

func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	calls := make([]*call, 0, len(c.inflight))
	for _, cl := range c.inflight {
		calls = append(calls, cl)
	}
	c.mu.Unlock()

	for _, cl := range calls {
		cl.cancel()
	}
}

func (c *Coordinator) recordMetric(key, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Counter("coordinator_requests_total", map[string]string{
		"result": result,
	}).Inc()
}
