// Package poller periodically fetches the device backend and hands the
// decoded results to the vitals store.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrRunning is returned by Start when the poller is already running.
var ErrRunning = errors.New("poller already running")

// FetchFunc retrieves one result from the backend.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// DeliverFunc consumes a successfully fetched result.
type DeliverFunc[T any] func(ctx context.Context, result T)

// Options configure a Poller.
type Options struct {
	// Timeout bounds each fetch. Zero leaves the HTTP client in charge.
	Timeout time.Duration
	// NewTicker defaults to NewRealTicker.
	NewTicker TickerFactory
	// OnRefresh runs after every delivered result.
	OnRefresh func()
	Logger    *zap.Logger
}

// Poller runs fetch on every tick and passes results to deliver.
//
// Ticks are not mutually exclusive: each fetch runs in its own goroutine,
// so a slow backend produces overlapping requests. Failures are logged,
// counted and otherwise ignored; there is no backoff. After Stop no tick
// fires and results of in-flight fetches are dropped.
type Poller[T any] struct {
	name    string
	fetch   FetchFunc[T]
	deliver DeliverFunc[T]
	opts    Options
	logger  *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	loop     sync.WaitGroup
	inflight sync.WaitGroup
	stopped  atomic.Bool

	ticks       atomic.Int64
	failures    atomic.Int64
	consecutive atomic.Int64
	lastSuccess atomic.Int64 // unix nanos
}

// NewPoller creates a stopped poller. name labels logs and metrics.
func NewPoller[T any](name string, fetch FetchFunc[T], deliver DeliverFunc[T], opts Options) *Poller[T] {
	if opts.NewTicker == nil {
		opts.NewTicker = NewRealTicker
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller[T]{
		name:    name,
		fetch:   fetch,
		deliver: deliver,
		opts:    opts,
		logger:  logger.With(zap.String("endpoint", name)),
	}
	p.stopped.Store(true)
	return p
}

// Start begins polling every interval. The first fetch is issued
// immediately.
func (p *Poller[T]) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrRunning
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.stopped.Store(false)
	ticker := p.opts.NewTicker(interval)

	p.loop.Add(1)
	go func() {
		defer p.loop.Done()
		defer ticker.Stop()

		p.tick()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C():
				p.tick()
			}
		}
	}()

	p.logger.Info("poller started", zap.Duration("interval", interval))
	return nil
}

// Stop halts the schedule and waits for in-flight fetches to return. It is
// safe to call more than once.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}

	p.stopped.Store(true)
	cancel()
	p.loop.Wait()
	p.inflight.Wait()
	p.logger.Info("poller stopped", zap.Int64("ticks", p.ticks.Load()))
}

// Running reports whether the poll loop is active.
func (p *Poller[T]) Running() bool {
	return !p.stopped.Load()
}

// tick dispatches one fetch without waiting for it.
func (p *Poller[T]) tick() {
	if p.stopped.Load() {
		return
	}
	p.ticks.Add(1)
	ctx := p.ctx

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.poll(ctx)
	}()
}

// poll runs a single fetch-deliver cycle.
func (p *Poller[T]) poll(ctx context.Context) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := p.fetch(ctx)
	pollDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())

	if p.stopped.Load() {
		return
	}
	if err != nil {
		p.failures.Add(1)
		n := p.consecutive.Add(1)
		pollFailures.WithLabelValues(p.name, failureReason(err)).Inc()
		fields := []zap.Field{zap.Error(err), zap.Int64("consecutive", n)}
		// Repeated failures drop to debug until the next success.
		if n == 1 {
			p.logger.Warn("poll failed", fields...)
		} else {
			p.logger.Debug("poll failed", fields...)
		}
		return
	}

	if p.consecutive.Swap(0) > 0 {
		p.logger.Info("poll recovered")
	}
	p.lastSuccess.Store(time.Now().UnixNano())
	pollsTotal.WithLabelValues(p.name).Inc()

	p.deliver(ctx, result)
	if p.opts.OnRefresh != nil {
		p.opts.OnRefresh()
	}
}

// Stats is a point-in-time view of a poller's counters.
type Stats struct {
	Running             bool      `json:"running"`
	Ticks               int64     `json:"ticks"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
}

// Stats returns the poller's counters.
func (p *Poller[T]) Stats() Stats {
	s := Stats{
		Running:             p.Running(),
		Ticks:               p.ticks.Load(),
		Failures:            p.failures.Load(),
		ConsecutiveFailures: p.consecutive.Load(),
	}
	if ns := p.lastSuccess.Load(); ns != 0 {
		s.LastSuccess = time.Unix(0, ns)
	}
	return s
}
