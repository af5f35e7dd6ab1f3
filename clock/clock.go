package clock

import (
	"time"

	"github.com/cricline/cricsync/types"
)

// Real returns the wall clock used everywhere outside tests.
func Real() types.Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, fn func()) types.Timer {
	return time.AfterFunc(d, fn)
}

func (realClock) NewTicker(d time.Duration) types.Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.t.C }
func (rt *realTicker) Stop()               { rt.t.Stop() }
