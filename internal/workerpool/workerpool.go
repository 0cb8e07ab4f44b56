// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package workerpool runs submitted tasks on a fixed number of long lived workers.
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/z5labs/fileserver/internal/try"
	"github.com/z5labs/fileserver/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of work. Tasks report nothing back to the submitter;
// a returned error is only logged.
type Task func(context.Context) error

// ErrClosed is returned when submitting to a closed Pool.
var ErrClosed = errors.New("workerpool: pool is closed")

// Pool is a fixed set of workers consuming a bounded queue.
type Pool struct {
	workers int
	log     *slog.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	senders sync.WaitGroup
	tasks   chan Task

	busy   metric.Int64UpDownCounter
	failed metric.Int64Counter
}

// Option configures a Pool.
type Option func(*Pool)

// Logger sets the logger task failures are reported to.
func Logger(log *slog.Logger) Option {
	return func(p *Pool) {
		p.log = log
	}
}

// New returns a Pool with the given number of workers and queue capacity.
// Values below 1 are raised to 1 worker and an unbuffered queue.
func New(workers, queueSize int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	meter := otel.Meter("github.com/z5labs/fileserver/internal/workerpool")
	busy, _ := meter.Int64UpDownCounter(
		"workerpool.tasks.busy",
		metric.WithDescription("Number of workers currently running a task."),
	)
	failed, _ := meter.Int64Counter(
		"workerpool.tasks.failed",
		metric.WithDescription("Number of tasks which returned an error or panicked."),
	)

	p := &Pool{
		workers: workers,
		log:     slog.Default(),
		done:    make(chan struct{}),
		tasks:   make(chan Task, queueSize),
		busy:    busy,
		failed:  failed,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Workers returns the number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// Submit enqueues t. It blocks while the queue is full until a worker
// frees a slot, ctx is done or the Pool is closed.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.senders.Add(1)
	p.mu.RUnlock()
	defer p.senders.Done()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case p.tasks <- t:
		return nil
	}
}

// Close stops the Pool from accepting new tasks and wakes any Submit
// blocked on a full queue. Tasks already queued are still run. Close is
// safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	// tasks may only be closed once no Submit can still send on it.
	p.senders.Wait()
	close(p.tasks)
}

// Run starts the workers and blocks until the Pool is closed and every
// queued task has completed. ctx is passed through to each task.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := range p.workers {
		g.Go(func() error {
			p.work(ctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	for t := range p.tasks {
		err := p.exec(ctx, t)
		if err == nil {
			continue
		}

		p.failed.Add(ctx, 1)
		p.log.ErrorContext(
			ctx,
			"task failed",
			slogfield.Int("worker_id", id),
			slogfield.Error(err),
		)
	}
}

func (p *Pool) exec(ctx context.Context, t Task) (err error) {
	p.busy.Add(ctx, 1)
	defer p.busy.Add(ctx, -1)
	defer try.Recover(&err)

	return t(ctx)
}
