package clock

import (
	"sync"
	"testing"
	"time"
)

func TestFakeAfterFires(t *testing.T) {
	fake := NewFake(time.Unix(1000, 0))
	ch := fake.After(5 * time.Second)

	fake.Advance(5 * time.Second)

	select {
	case at := <-ch:
		if !at.Equal(time.Unix(1005, 0)) {
			t.Fatalf("fired at %v", at)
		}
	default:
		t.Fatalf("waiter did not fire")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	fake := NewFake(time.Unix(1000, 0))

	fired := false
	timer := fake.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatalf("expected Stop to report the timer as pending")
	}
	fake.Advance(2 * time.Second)

	if fired {
		t.Fatalf("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatalf("second Stop must report already stopped")
	}
}

func TestFakeTickerStopEndsTicks(t *testing.T) {
	fake := NewFake(time.Unix(1000, 0))
	ticker := fake.NewTicker(time.Second)

	fake.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatalf("ticker did not fire")
	}

	ticker.Stop()
	fake.Advance(3 * time.Second)

	select {
	case <-ticker.C():
		t.Fatalf("stopped ticker fired")
	default:
	}
}

func TestFakeTickerStopDuringAdvance(t *testing.T) {
	fake := NewFake(time.Unix(1000, 0))
	ticker := fake.NewTicker(time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			fake.Advance(time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		ticker.Stop()
	}()
	wg.Wait()
}
