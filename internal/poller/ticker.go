package poller

import (
	"sync"
	"time"
)

// Ticker delivers tick times on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// ManualTicker fires only when Tick is called. Tests use it to drive a
// Poller without wall-clock timers.
type ManualTicker struct {
	ch       chan time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewManualTicker returns a ticker with no pending ticks.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		ch:   make(chan time.Time),
		done: make(chan struct{}),
	}
}

// Factory returns a TickerFactory that always hands out t.
func (t *ManualTicker) Factory() TickerFactory {
	return func(time.Duration) Ticker { return t }
}

func (t *ManualTicker) C() <-chan time.Time { return t.ch }

// Stop makes further Tick calls return false.
func (t *ManualTicker) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// Tick blocks until the poll loop has received now. It returns false if
// the ticker was stopped first.
func (t *ManualTicker) Tick(now time.Time) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.ch <- now:
		return true
	case <-t.done:
		return false
	}
}
