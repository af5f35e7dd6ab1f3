package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cricline/cricsync/types"
)

// Tracker owes progressively longer delays to keys that keep failing. The
// policy is shared; the error history is per key.
type Tracker struct {
	policy types.BackoffPolicy
	clock  types.Clock
	logger types.Logger
	mu     sync.Mutex
	states map[string]*keyState
	rng    *rand.Rand
}

type keyState struct {
	errorCount int
	lastError  time.Time
}

func NewTracker(policy *types.BackoffPolicy, clk types.Clock, logger types.Logger) *Tracker {
	p := types.BackoffPolicy{
		BaseDelay:      time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
	if policy != nil {
		p = *policy
	}

	return &Tracker{
		policy: p,
		clock:  clk,
		logger: logger,
		states: make(map[string]*keyState),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the remaining wait owed for key, zero when none. Callers
// only wait out what is left since the last recorded error, not the full
// delay every time they ask.
func (t *Tracker) Delay(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok || state.errorCount == 0 {
		return 0
	}

	delay := t.delayForCount(state.errorCount)

	if t.policy.JitterFraction > 0 {
		jitter := (t.rng.Float64()*2 - 1) * t.policy.JitterFraction * float64(delay)
		delay += time.Duration(jitter)
	}

	elapsed := t.clock.Now().Sub(state.lastError)
	remaining := delay - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Tracker) RecordError(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok {
		state = &keyState{}
		t.states[key] = state
	}

	state.errorCount++
	state.lastError = t.clock.Now()

	t.logger.Debug("Backoff error recorded",
		zap.String("key", key),
		zap.Int("error_count", state.errorCount))
}

func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
}

func (t *Tracker) ErrorCount(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.states[key]; ok {
		return state.errorCount
	}
	return 0
}

func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[string]*keyState)
}

func (t *Tracker) delayForCount(count int) time.Duration {
	raw := float64(t.policy.BaseDelay) * math.Pow(t.policy.Multiplier, float64(count-1))
	if raw < 0 {
		raw = 0
	}
	if max := float64(t.policy.MaxDelay); t.policy.MaxDelay > 0 && raw > max {
		raw = max
	}
	return time.Duration(raw)
}
