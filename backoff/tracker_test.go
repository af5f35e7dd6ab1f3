package backoff

import (
	"testing"
	"time"

	"github.com/cricline/cricsync/clock"
	"github.com/cricline/cricsync/logger"
	"github.com/cricline/cricsync/types"
)

func newTestTracker() (*Tracker, *clock.Fake) {
	fake := clock.NewFake(time.Unix(1000, 0))
	policy := &types.BackoffPolicy{
		BaseDelay:      time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
	return NewTracker(policy, fake, logger.NewNop()), fake
}

func TestDelayWithinJitterBounds(t *testing.T) {
	tracker, _ := newTestTracker()

	tracker.RecordError("k")

	delay := tracker.Delay("k")
	if delay < 900*time.Millisecond || delay > 1100*time.Millisecond {
		t.Fatalf("first delay %v outside [900ms, 1100ms]", delay)
	}
}

func TestDelayGrowsExponentially(t *testing.T) {
	tracker, _ := newTestTracker()

	for i := 0; i < 5; i++ {
		tracker.RecordError("k")
	}

	// base 1s, multiplier 2, five errors: 16s plus at most 10% jitter.
	delay := tracker.Delay("k")
	if delay < 14400*time.Millisecond || delay > 17600*time.Millisecond {
		t.Fatalf("fifth delay %v outside [14.4s, 17.6s]", delay)
	}
}

func TestDelayClampedAtMax(t *testing.T) {
	tracker, _ := newTestTracker()

	for i := 0; i < 20; i++ {
		tracker.RecordError("k")
	}

	delay := tracker.Delay("k")
	if delay < 54*time.Second || delay > 66*time.Second {
		t.Fatalf("clamped delay %v outside [54s, 66s]", delay)
	}
}

func TestDelayCountsElapsedTime(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	policy := &types.BackoffPolicy{
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.0,
	}
	tracker := NewTracker(policy, fake, logger.NewNop())

	tracker.RecordError("k")
	fake.Advance(400 * time.Millisecond)

	if delay := tracker.Delay("k"); delay != 600*time.Millisecond {
		t.Fatalf("expected 600ms remaining, got %v", delay)
	}

	fake.Advance(time.Second)
	if delay := tracker.Delay("k"); delay != 0 {
		t.Fatalf("expected no delay once elapsed, got %v", delay)
	}
}

func TestResetClearsKeyOnly(t *testing.T) {
	tracker, _ := newTestTracker()

	tracker.RecordError("a")
	tracker.RecordError("b")

	tracker.Reset("a")

	if tracker.Delay("a") != 0 {
		t.Fatalf("expected no delay after reset")
	}
	if tracker.ErrorCount("a") != 0 {
		t.Fatalf("expected zero error count after reset")
	}
	if tracker.ErrorCount("b") != 1 {
		t.Fatalf("expected other key untouched")
	}
}

func TestUnknownKeyOwesNothing(t *testing.T) {
	tracker, _ := newTestTracker()

	if tracker.Delay("never-seen") != 0 {
		t.Fatalf("expected zero delay for unknown key")
	}
}
