// Package workerpool provides the bounded executor transfers run on.
package workerpool

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/italolelis/segment_recovery/internal/logctx"
	"github.com/italolelis/segment_recovery/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Pool runs submitted tasks on at most Max goroutines at a time.
type Pool struct {
	name      string
	max       int
	group     errgroup.Group
	active    atomic.Int64
	logger    *slog.Logger
	telemetry *telemetry.Telemetry
}

// Option configures a Pool.
type Option func(*Pool)

// WithTelemetry reports the number of busy workers through tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(p *Pool) {
		p.telemetry = tel
	}
}

// New creates a pool named name that runs up to size tasks concurrently.
// A size below one is raised to one.
func New(ctx context.Context, name string, size int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}

	p := &Pool{
		name:   name,
		max:    size,
		logger: logctx.LoggerFromContext(ctx).With("pool", name),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.group.SetLimit(size)

	return p
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Max returns the pool capacity.
func (p *Pool) Max() int {
	return p.max
}

// Active returns the number of tasks currently running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Submit runs task on the pool, blocking while all workers are busy.
// A panicking task is logged and does not take the pool down.
func (p *Pool) Submit(task func()) {
	p.group.Go(func() error {
		p.active.Add(1)
		p.telemetry.IncrementActiveWorkers(p.name)

		defer func() {
			p.active.Add(-1)
			p.telemetry.DecrementActiveWorkers(p.name)

			if r := recover(); r != nil {
				p.logger.Error("worker panic",
					"panic", r,
					"stack", string(debug.Stack()))
				p.telemetry.RecordSystemError("workerpool", "panic")
			}
		}()

		task()

		return nil
	})
}

// Close waits for every submitted task to return. The pool must not be used afterwards.
func (p *Pool) Close() {
	_ = p.group.Wait()
}
