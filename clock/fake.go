package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/cricline/cricsync/types"
)

// Fake is a manually advanced clock for deterministic tests. Sleep, After,
// AfterFunc and tickers all fire from Advance.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	tickers []*fakeTicker
}

type waiter struct {
	f    *Fake
	at   time.Time
	ch   chan time.Time
	fn   func()
	done bool
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(d time.Duration) {
	<-f.After(d)
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &waiter{f: f, at: f.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		w.ch <- f.now
		return w.ch
	}
	f.waiters = append(f.waiters, w)
	return w.ch
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) types.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &waiter{f: f, at: f.now.Add(d), fn: fn}
	if d <= 0 {
		go fn()
		w.done = true
		return w
	}
	f.waiters = append(f.waiters, w)
	return w
}

func (w *waiter) Stop() bool {
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	if w.done {
		return false
	}
	w.done = true
	return true
}

func (f *Fake) NewTicker(d time.Duration) types.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTicker{f: f, interval: d, next: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

// fakeTicker state is guarded by the owning Fake's mutex; Stop may be
// called from a goroutine racing Advance.
type fakeTicker struct {
	f        *Fake
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.f.mu.Lock()
	t.stopped = true
	t.f.mu.Unlock()
}

// Advance moves the clock forward, firing every waiter and ticker that
// comes due, in order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		next, ok := f.nextDeadline(target)
		if !ok {
			break
		}
		f.now = next
		f.fireDue()
	}

	f.now = target
	f.mu.Unlock()
}

func (f *Fake) nextDeadline(target time.Time) (time.Time, bool) {
	var deadlines []time.Time
	for _, w := range f.waiters {
		if !w.done && !w.at.After(target) {
			deadlines = append(deadlines, w.at)
		}
	}
	for _, t := range f.tickers {
		if !t.stopped && !t.next.After(target) {
			deadlines = append(deadlines, t.next)
		}
	}
	if len(deadlines) == 0 {
		return time.Time{}, false
	}
	sort.Slice(deadlines, func(i, j int) bool { return deadlines[i].Before(deadlines[j]) })
	return deadlines[0], true
}

func (f *Fake) fireDue() {
	for _, w := range f.waiters {
		if w.done || w.at.After(f.now) {
			continue
		}
		w.done = true
		if w.fn != nil {
			fn := w.fn
			f.mu.Unlock()
			fn()
			f.mu.Lock()
		} else {
			select {
			case w.ch <- f.now:
			default:
			}
		}
	}
	for _, t := range f.tickers {
		if t.stopped || t.next.After(f.now) {
			continue
		}
		select {
		case t.ch <- f.now:
		default:
		}
		t.next = t.next.Add(t.interval)
	}
}
