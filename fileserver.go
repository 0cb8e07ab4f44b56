// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package fileserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/z5labs/fileserver/config"
	"github.com/z5labs/fileserver/internal/docroot"
	"github.com/z5labs/fileserver/server"
	"github.com/z5labs/fileserver/telemetry"
)

// App is a running fileserver process. Run blocks until ctx is cancelled
// or serving fails.
type App interface {
	Run(context.Context) error
}

// AppFunc is a func variant of the [App] interface.
type AppFunc func(context.Context) error

// Run implements the [App] interface.
func (f AppFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Builder turns a validated [Config] into an [App]. This is where the
// listening socket is bound and the document root opened.
type Builder interface {
	Build(context.Context, Config) (App, error)
}

// BuilderFunc is a func variant of the [Builder] interface.
type BuilderFunc func(context.Context, Config) (App, error)

// Build implements the [Builder] interface.
func (f BuilderFunc) Build(ctx context.Context, cfg Config) (App, error) {
	return f(ctx, cfg)
}

// Config is everything a fileserver process can be configured with.
// The server settings sit at the top level, e.g. "port" and "worker_count".
type Config struct {
	server.Config `config:",squash"`

	Files     FilesConfig      `config:"files"`
	Logging   LoggingConfig    `config:"logging"`
	Telemetry telemetry.Config `config:"telemetry"`
}

// FilesConfig controls how request paths map onto the document root.
type FilesConfig struct {
	// Index is the file served for a path naming a directory.
	Index string `config:"index"`

	// MimeTypes adds to, or overrides, the built in extension table,
	// e.g. {".md": "text/markdown"}.
	MimeTypes map[string]string `config:"mime_types"`
}

// DocrootOptions returns the [docroot.Option]s described by cfg.
func (cfg FilesConfig) DocrootOptions() []docroot.Option {
	opts := make([]docroot.Option, 0, 1+len(cfg.MimeTypes))
	if cfg.Index != "" {
		opts = append(opts, docroot.Index(cfg.Index))
	}
	for ext, typ := range cfg.MimeTypes {
		opts = append(opts, docroot.MimeType(ext, typ))
	}
	return opts
}

type LoggingConfig struct {
	Level slog.Level `config:"level"`

	// Format is either "json" or "text".
	Format string `config:"format"`
}

// Defaults returns the settings [Run] starts from before applying any
// other source.
func Defaults() config.Map {
	def := server.DefaultConfig()
	return config.Map{
		"port":              def.Port,
		"document_root":     def.DocumentRoot,
		"worker_count":      def.WorkerCount,
		"queue_size":        def.QueueSize,
		"backlog":           def.Backlog,
		"keep_alive":        def.KeepAlive,
		"idle_timeout":      def.IdleTimeout,
		"reap_interval":     def.ReapInterval,
		"write_timeout":     def.WriteTimeout,
		"read_buffer_size":  def.ReadBufferSize,
		"serve_empty_files": def.ServeEmptyFiles,
		"files": map[string]any{
			"index": docroot.DefaultIndex,
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "json",
		},
		"telemetry": map[string]any{
			"enabled":      false,
			"service_name": "fileserver",
		},
	}
}

// InvalidConfigError describes a single setting which is out of range.
type InvalidConfigError struct {
	Key    string
	Value  any
	Reason string
}

// Error implements the [builtin.error] interface.
func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Key, e.Value, e.Reason)
}

// Validate reports every setting in cfg which the server cannot run with.
// The returned error joins one [InvalidConfigError] per bad setting.
func (cfg Config) Validate() error {
	var errs []error
	check := func(ok bool, key string, value any, reason string) {
		if !ok {
			errs = append(errs, InvalidConfigError{Key: key, Value: value, Reason: reason})
		}
	}

	check(cfg.Port >= 0 && cfg.Port <= 65535, "port", cfg.Port, "must be between 0 and 65535")
	check(cfg.DocumentRoot != "", "document_root", cfg.DocumentRoot, "must not be empty")
	check(cfg.WorkerCount >= 1, "worker_count", cfg.WorkerCount, "must be at least 1")
	check(cfg.QueueSize >= 0, "queue_size", cfg.QueueSize, "must not be negative")
	check(cfg.Backlog >= 1, "backlog", cfg.Backlog, "must be at least 1")
	check(cfg.IdleTimeout > 0, "idle_timeout", cfg.IdleTimeout, "must be positive")
	check(cfg.ReapInterval > 0, "reap_interval", cfg.ReapInterval, "must be positive")
	check(cfg.ReadBufferSize > 0, "read_buffer_size", cfg.ReadBufferSize, "must be positive")
	check(
		cfg.Files.Index == path.Base(cfg.Files.Index) && cfg.Files.Index != "." && cfg.Files.Index != "/",
		"files.index", cfg.Files.Index, "must be a plain file name",
	)

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		check(false, "logging.format", cfg.Logging.Format, `must be "json" or "text"`)
	}
	return errors.Join(errs...)
}

// Run reads srcs on top of [Defaults], validates the result, builds the
// [App] with b and runs it until ctx is cancelled. Each stage wraps its
// failure so callers can tell a bad setting from a failed bind.
func Run(ctx context.Context, b Builder, srcs ...config.Source) error {
	m, err := config.Read(append([]config.Source{Defaults()}, srcs...)...)
	if err != nil {
		return ConfigError{Cause: err}
	}

	var cfg Config
	err = m.Unmarshal(&cfg)
	if err != nil {
		return ConfigError{Cause: err}
	}

	err = cfg.Validate()
	if err != nil {
		return ConfigError{Cause: err}
	}

	app, err := b.Build(ctx, cfg)
	if err != nil {
		return StartupError{Cause: err}
	}

	err = app.Run(ctx)
	if err != nil {
		return ServeError{Cause: err}
	}
	return nil
}

// ConfigError is returned by [Run] when the settings could not be read,
// decoded or validated. Nothing has been started when it is returned.
type ConfigError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigError) Error() string {
	return fmt.Sprintf("bad configuration: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigError) Unwrap() error {
	return e.Cause
}

// StartupError is returned by [Run] when the [Builder] fails, e.g. the
// port is already bound or the document root does not exist.
type StartupError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e StartupError) Error() string {
	return fmt.Sprintf("failed to start: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e StartupError) Unwrap() error {
	return e.Cause
}

// ServeError is returned by [Run] when the [App] stops with an error
// rather than because ctx was cancelled.
type ServeError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ServeError) Error() string {
	return fmt.Sprintf("stopped serving: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ServeError) Unwrap() error {
	return e.Cause
}
