// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/z5labs/fileserver/internal/httpwire"
	"github.com/z5labs/fileserver/internal/try"
	"github.com/z5labs/fileserver/pkg/slogfield"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// serveConn owns c until it is closed. Requests on c are handled one at
// a time: read, parse, dispatch, respond, then either wait for the next
// request or close. Only a panic is reported back to the worker pool.
func (s *Server) serveConn(ctx context.Context, c *conn) (err error) {
	defer s.release(ctx, c)
	defer try.Recover(&err)

	log := s.log.With(slogfield.ConnID(c.id), slogfield.RemoteAddr(c.RemoteAddr()))

	// The record disappears if the connection sat in the queue past
	// the idle timeout and was reaped.
	if !s.conns.Touch(c.id) {
		log.DebugContext(ctx, "connection reaped before being served")
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	rd := newReader(c, s.cfg.ReadBufferSize)
	for s.serveRequest(ctx, log, c, rd) {
	}
	return nil
}

// serveRequest handles a single request. It reports whether the
// connection should be kept open for another one.
func (s *Server) serveRequest(ctx context.Context, log *slog.Logger, c *conn, rd *reader) bool {
	n, err := rd.readHead()
	peerDone := false
	switch {
	case err == nil:
	case errors.Is(err, errHeadTooLarge):
	case errors.Is(err, io.EOF) && n == 0:
		log.DebugContext(ctx, "peer closed connection")
		return false
	case errors.Is(err, io.EOF):
		peerDone = true
	case isClosedOrTimeout(err):
		log.DebugContext(ctx, "connection closed while waiting for request")
		return false
	default:
		log.WarnContext(ctx, "failed to read request", slogfield.Error(err))
		return false
	}

	// Bytes have arrived so the connection is no longer idle. It stays
	// out of the reaper's reach until finish has written the response.
	if !s.conns.Begin(c.id) {
		log.DebugContext(ctx, "connection reaped while reading request")
		return false
	}

	ctx, span := s.tracer.Start(ctx, "HTTP request", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	if errors.Is(err, errHeadTooLarge) {
		log.InfoContext(ctx, "request head too large", slogfield.Int("buffered", n))
		span.SetStatus(codes.Error, err.Error())
		s.finish(ctx, log, c, span, httpwire.BadRequest())
		return false
	}

	req, err := httpwire.ParseRequest(rd.bytes(n))
	rd.consume(n)
	if err != nil {
		log.InfoContext(ctx, "malformed request", slogfield.Error(err))
		span.SetStatus(codes.Error, err.Error())
		s.finish(ctx, log, c, span, httpwire.BadRequest())
		return false
	}

	span.SetName(req.Method)
	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
		attribute.String("network.protocol.version", req.Version),
	)
	log.DebugContext(ctx, "received request", slogfield.Request(req.Method, req.Path))

	bodyLen, err := req.ContentLength()
	if err != nil {
		log.InfoContext(ctx, "malformed request", slogfield.Error(err))
		span.SetStatus(codes.Error, err.Error())
		s.finish(ctx, log, c, span, httpwire.BadRequest())
		return false
	}

	directive := httpwire.Close
	if s.cfg.KeepAlive && req.KeepAlive() && !peerDone && ctx.Err() == nil {
		directive = httpwire.KeepAlive
	}

	resp := s.route(ctx, log, req, directive)
	if !s.finish(ctx, log, c, span, resp) || resp.Connection == httpwire.Close {
		return false
	}

	// bodies are never read, only skipped so the next request lines up
	err = rd.discard(bodyLen)
	if err != nil {
		log.DebugContext(ctx, "failed to skip request body", slogfield.Error(err))
		return false
	}
	return true
}

// route maps a parsed request to its response.
func (s *Server) route(ctx context.Context, log *slog.Logger, req httpwire.Request, conn httpwire.Directive) httpwire.Response {
	if req.Method != httpwire.MethodGet {
		return httpwire.MethodNotAllowed(conn)
	}
	if !s.files.Exists(req.Path) {
		return httpwire.NotFound(conn)
	}

	body, err := s.files.Read(req.Path)
	if err != nil {
		log.WarnContext(ctx, "failed to read file", slogfield.String("path", req.Path), slogfield.Error(err))
		return httpwire.NotFound(conn)
	}
	if len(body) == 0 && !s.cfg.ServeEmptyFiles {
		return httpwire.NotFound(conn)
	}
	return httpwire.OK(s.files.MimeType(req.Path), body, conn)
}

// finish records resp on the span and request counter, then writes it.
// It reports whether the write succeeded and the connection is still
// tracked by the registry, handing it back to the reaper if so.
func (s *Server) finish(ctx context.Context, log *slog.Logger, c *conn, span trace.Span, resp httpwire.Response) bool {
	status := attribute.Int("http.response.status_code", resp.StatusCode)
	span.SetAttributes(status)
	s.requests.Add(ctx, 1, metric.WithAttributes(status))

	if s.cfg.WriteTimeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}

	n, err := resp.WriteTo(c)
	if err != nil {
		log.WarnContext(ctx, "failed to write response", slogfield.StatusCode(resp.StatusCode), slogfield.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write response")
		return false
	}

	log.DebugContext(
		ctx,
		"sent response",
		slogfield.StatusCode(resp.StatusCode),
		slogfield.Int64("bytes", n),
		slogfield.String("connection", string(resp.Connection)),
	)
	return s.conns.End(c.id)
}
