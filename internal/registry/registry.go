// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package registry tracks when each live connection was last active and
// reaps the ones which have been idle for too long.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/z5labs/fileserver/pkg/slogfield"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Conn is the part of a connection the registry needs. Close must be
// idempotent since the owning handler may close the same connection.
type Conn interface {
	Close() error
	SetReadDeadline(time.Time) error
}

// Record is a snapshot of one tracked connection.
type Record struct {
	ID         uuid.UUID
	LastActive time.Time
}

type entry struct {
	conn       Conn
	lastActive time.Time

	// busy is set while a request is being handled. Busy entries are
	// never reaped however long the handling takes.
	busy bool
}

// Registry is safe for concurrent use.
type Registry struct {
	idleTimeout  time.Duration
	reapInterval time.Duration
	now          func() time.Time
	log          *slog.Logger

	mu    sync.Mutex
	conns map[uuid.UUID]*entry

	reaped metric.Int64Counter
}

// Option configures a Registry.
type Option func(*Registry)

// ReapInterval sets how often Run sweeps for idle connections.
func ReapInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.reapInterval = d
		}
	}
}

// Logger sets the logger used for reaped connections.
func Logger(log *slog.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

// Clock overrides the time source.
func Clock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New returns a Registry which considers a connection idle once it has
// not been active for longer than idleTimeout.
func New(idleTimeout time.Duration, opts ...Option) *Registry {
	reaped, _ := otel.Meter("github.com/z5labs/fileserver/internal/registry").Int64Counter(
		"fileserver.connections.reaped",
		metric.WithDescription("Number of connections closed for being idle."),
	)

	r := &Registry{
		idleTimeout:  idleTimeout,
		reapInterval: time.Second,
		now:          time.Now,
		log:          slog.Default(),
		conns:        make(map[uuid.UUID]*entry),
		reaped:       reaped,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register starts tracking conn under id, marking it active now.
func (r *Registry) Register(id uuid.UUID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &entry{
		conn:       conn,
		lastActive: r.now(),
	}
}

// Touch marks id as active now. It reports false if id is no longer
// tracked, which means the connection has been reaped.
func (r *Registry) Touch(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.lastActive = r.now()
	return true
}

// Begin marks id as active now and handling a request, which keeps the
// reaper away from it until End is called. It reports false if id is no
// longer tracked.
func (r *Registry) Begin(id uuid.UUID) bool {
	return r.mark(id, true)
}

// End marks id as active now and waiting for its next request. It
// reports false if id is no longer tracked.
func (r *Registry) End(id uuid.UUID) bool {
	return r.mark(id, false)
}

func (r *Registry) mark(id uuid.UUID, busy bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.busy = busy
	e.lastActive = r.now()
	return true
}

// Remove stops tracking id. It does not close the connection.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Lookup returns the record for id.
func (r *Registry) Lookup(id uuid.UUID) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return Record{}, false
	}
	return Record{ID: id, LastActive: e.lastActive}, true
}

// Sweep closes and forgets every connection idle for longer than the
// idle timeout. Connections between Begin and End are skipped. It returns the number of connections reaped.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now()

	var stale []Record
	var conns []Conn
	r.mu.Lock()
	for id, e := range r.conns {
		if e.busy || now.Sub(e.lastActive) <= r.idleTimeout {
			continue
		}
		stale = append(stale, Record{ID: id, LastActive: e.lastActive})
		conns = append(conns, e.conn)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	// closing can block on the network so it happens outside the lock
	for i, c := range conns {
		err := c.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			r.log.WarnContext(ctx, "failed to close idle connection", slogfield.ConnID(stale[i].ID), slogfield.Error(err))
			continue
		}
		r.log.InfoContext(
			ctx,
			"closed idle connection",
			slogfield.ConnID(stale[i].ID),
			slogfield.Duration("idle", now.Sub(stale[i].LastActive)),
		)
	}
	if len(stale) > 0 {
		r.reaped.Add(ctx, int64(len(stale)))
	}
	return len(stale)
}

// Run sweeps on a fixed period until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Shutdown expires the read deadline of every tracked connection so any
// handler blocked reading wakes up. Writes in progress are unaffected.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for _, e := range r.conns {
		conns = append(conns, e.conn)
	}
	r.mu.Unlock()

	past := time.Unix(1, 0)
	for _, c := range conns {
		_ = c.SetReadDeadline(past)
	}
}
