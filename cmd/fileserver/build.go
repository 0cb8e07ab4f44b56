// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/z5labs/fileserver"
	"github.com/z5labs/fileserver/app"
	"github.com/z5labs/fileserver/internal/docroot"
	"github.com/z5labs/fileserver/pkg/otelslog"
	"github.com/z5labs/fileserver/pkg/slogfield"
	"github.com/z5labs/fileserver/server"
	"github.com/z5labs/fileserver/telemetry"
)

var errUnknownLogFormat = errors.New("unknown log format")

func newLogger(w io.Writer, cfg fileserver.LoggingConfig, tel *telemetry.Providers) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.Level,
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, errUnknownLogFormat
	}

	var mirrors []otelslog.Option
	if th := tel.LogHandler(); th != nil {
		mirrors = append(mirrors, otelslog.Mirror(th))
	}
	return otelslog.New(h, mirrors...), nil
}

type builder struct {
	stderr  io.Writer
	signals []os.Signal
}

func (b builder) Build(ctx context.Context, cfg fileserver.Config) (_ fileserver.App, err error) {
	tel, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		err = errors.Join(err, tel.Shutdown(ctx))
	}()

	log, err := newLogger(b.stderr, cfg.Logging, tel)
	if err != nil {
		return nil, err
	}
	log.DebugContext(ctx, "loaded config", slogfield.Any("config", cfg))

	files, err := docroot.Open(cfg.DocumentRoot, cfg.Files.DocrootOptions()...)
	if err != nil {
		log.ErrorContext(ctx, "failed to open document root", slogfield.Error(err))
		return nil, err
	}

	ln, err := server.Listen(ctx, cfg.Port, cfg.Backlog)
	if err != nil {
		log.ErrorContext(ctx, "failed to initialize server", slogfield.Error(err))
		return nil, err
	}

	srv := server.New(ln, files, cfg.Config, server.Logger(log))

	var a fileserver.App = fileserver.AppFunc(srv.Run)
	a = app.WithLifecycleHooks(a, app.Lifecycle{
		PostRun: app.ComposeLifecycleHooks(
			app.LifecycleHookFunc(func(ctx context.Context) error {
				log.InfoContext(ctx, "shutting down")
				return nil
			}),
			app.LifecycleHookFunc(tel.Shutdown),
		),
	})
	a = app.Recover(a)
	a = app.WithSignalNotifications(a, b.signals...)
	return a, nil
}

func newBuilder(stderr io.Writer) builder {
	return builder{
		stderr:  stderr,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
}
