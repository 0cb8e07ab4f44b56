// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package server serves static files over HTTP/1.1.
//
// One goroutine accepts connections and queues them on a fixed pool of
// workers. A worker owns its connection for as long as the connection
// stays open, so the number of workers is also the number of clients
// served at once. Idle keep-alive connections are closed by a reaper.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/z5labs/fileserver/internal/registry"
	"github.com/z5labs/fileserver/internal/workerpool"
	"github.com/z5labs/fileserver/pkg/slogfield"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/z5labs/fileserver/server"

// FileLookup resolves request paths to file contents.
type FileLookup interface {
	Exists(path string) bool
	Read(path string) ([]byte, error)
	MimeType(path string) string
}

// Server owns the listening socket, the worker pool and the connection
// registry.
type Server struct {
	cfg   Config
	ln    net.Listener
	files FileLookup
	log   *slog.Logger

	pool  *workerpool.Pool
	conns *registry.Registry

	tracer   trace.Tracer
	requests metric.Int64Counter
	active   metric.Int64UpDownCounter
}

// Option configures a Server.
type Option func(*Server)

// Logger sets the logger for the server and its worker pool and registry.
func Logger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// New returns a Server which will accept connections from ln and answer
// requests from files.
func New(ln net.Listener, files FileLookup, cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg.withDefaults(),
		ln:    ln,
		files: files,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.pool = workerpool.New(s.cfg.WorkerCount, s.cfg.QueueSize, workerpool.Logger(s.log))
	s.conns = registry.New(
		s.cfg.IdleTimeout,
		registry.ReapInterval(s.cfg.ReapInterval),
		registry.Logger(s.log),
	)

	meter := otel.Meter(instrumentationName)
	s.tracer = otel.Tracer(instrumentationName)
	s.requests, _ = meter.Int64Counter(
		"fileserver.requests",
		metric.WithDescription("Number of HTTP requests answered."),
	)
	s.active, _ = meter.Int64UpDownCounter(
		"fileserver.connections.active",
		metric.WithDescription("Number of open client connections."),
	)
	return s
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Run serves connections until ctx is cancelled. On cancellation it stops
// accepting, lets queued and in-flight requests finish, wakes idle
// connections so they close, and returns nil once every worker is done.
func (s *Server) Run(ctx context.Context) error {
	s.log.InfoContext(
		ctx,
		"serving files",
		slogfield.String("addr", s.ln.Addr().String()),
		slogfield.String("document_root", s.cfg.DocumentRoot),
		slogfield.Int("workers", s.cfg.WorkerCount),
		slogfield.Bool("keep_alive", s.cfg.KeepAlive),
		slogfield.Duration("idle_timeout", s.cfg.IdleTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.pool.Run(gctx)
	})
	g.Go(func() error {
		return s.conns.Run(gctx)
	})
	g.Go(func() error {
		return s.acceptLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		err := s.ln.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	err := g.Wait()
	s.log.InfoContext(ctx, "server stopped")
	return err
}

// ErrListenerClosed is returned by Run if the listener is closed by
// something other than the server shutting down.
var ErrListenerClosed = errors.New("server: listener closed unexpectedly")

func (s *Server) acceptLoop(ctx context.Context) error {
	defer s.conns.Shutdown()
	defer s.pool.Close()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		nc, err := s.ln.Accept()
		if err == nil {
			bo.Reset()
			s.dispatch(ctx, nc)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, net.ErrClosed) {
			return ErrListenerClosed
		}

		wait := bo.NextBackOff()
		s.log.ErrorContext(
			ctx,
			"failed to accept connection",
			slogfield.Error(err),
			slogfield.Duration("retry_in", wait),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (s *Server) dispatch(ctx context.Context, nc net.Conn) {
	c := newConn(nc)
	s.conns.Register(c.id, c)
	s.active.Add(ctx, 1)

	s.log.DebugContext(
		ctx,
		"accepted connection",
		slogfield.ConnID(c.id),
		slogfield.RemoteAddr(c.RemoteAddr()),
	)

	err := s.pool.Submit(ctx, func(ctx context.Context) error {
		return s.serveConn(ctx, c)
	})
	if err == nil {
		return
	}

	s.log.WarnContext(
		ctx,
		"dropping connection",
		slogfield.ConnID(c.id),
		slogfield.RemoteAddr(c.RemoteAddr()),
		slogfield.Error(err),
	)
	s.release(ctx, c)
}

// release closes c and forgets its activity record.
func (s *Server) release(ctx context.Context, c *conn) {
	s.conns.Remove(c.id)
	s.active.Add(ctx, -1)

	err := c.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.DebugContext(ctx, "failed to close connection", slogfield.ConnID(c.id), slogfield.Error(err))
	}
}
