// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelslog provides a OpenTelemetry aware slog.Handler implementation.
package otelslog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/z5labs/fileserver/pkg/slogfield"

	"go.opentelemetry.io/otel/trace"
)

// Handler is an slog.Handler which helps standardize and correlate your
// logs by automatically adding the Trace ID and Span ID to your logs.
//
// Records can additionally be mirrored, unmodified, to other handlers
// e.g. an OpenTelemetry log bridge which correlates records on its own.
type Handler struct {
	slog    slog.Handler
	mirrors []slog.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// Mirror registers handlers which receive every record the Handler receives.
func Mirror(hs ...slog.Handler) Option {
	return func(h *Handler) {
		h.mirrors = append(h.mirrors, hs...)
	}
}

// NewHandler
func NewHandler(h slog.Handler, opts ...Option) *Handler {
	handler := &Handler{slog: h}
	for _, opt := range opts {
		opt(handler)
	}
	return handler
}

// New provides a simple wrapper for slog.New(NewHandler(h, opts...)).
func New(h slog.Handler, opts ...Option) *slog.Logger {
	return slog.New(NewHandler(h, opts...))
}

// Enabled implements the slog.Handler interface.
func (h *Handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	if h.slog.Enabled(ctx, lvl) {
		return true
	}
	for _, m := range h.mirrors {
		if m.Enabled(ctx, lvl) {
			return true
		}
	}
	return false
}

// Handle implements the slog.Handler interface.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, m := range h.mirrors {
		if !m.Enabled(ctx, record.Level) {
			continue
		}
		err := m.Handle(ctx, record.Clone())
		if err != nil {
			errs = append(errs, err)
		}
	}

	if h.slog.Enabled(ctx, record.Level) {
		err := h.handle(ctx, record)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) handle(ctx context.Context, record slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return h.slog.Handle(ctx, record)
	}

	r := record.Clone()
	r.AddAttrs(
		slog.Group(
			"otel",
			slogfield.String("trace_id", spanCtx.TraceID().String()),
			slogfield.String("span_id", spanCtx.SpanID().String()),
		),
	)
	return h.slog.Handle(ctx, r)
}

// WithAttrs implements the slog.Handler interface.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	mirrors := make([]slog.Handler, len(h.mirrors))
	for i, m := range h.mirrors {
		mirrors[i] = m.WithAttrs(attrs)
	}
	return &Handler{
		slog:    h.slog.WithAttrs(attrs),
		mirrors: mirrors,
	}
}

// WithGroup implements the slog.Handler interface.
func (h *Handler) WithGroup(name string) slog.Handler {
	mirrors := make([]slog.Handler, len(h.mirrors))
	for i, m := range h.mirrors {
		mirrors[i] = m.WithGroup(name)
	}
	return &Handler{
		slog:    h.slog.WithGroup(name),
		mirrors: mirrors,
	}
}
