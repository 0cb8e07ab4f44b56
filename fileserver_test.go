// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package fileserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/z5labs/fileserver/config"
	"github.com/z5labs/fileserver/internal/docroot"
	"github.com/z5labs/fileserver/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopBuilder(got *Config) Builder {
	return BuilderFunc(func(ctx context.Context, cfg Config) (App, error) {
		if got != nil {
			*got = cfg
		}
		return AppFunc(func(ctx context.Context) error {
			return nil
		}), nil
	})
}

func TestRun(t *testing.T) {
	t.Run("will return ConfigError", func(t *testing.T) {
		t.Run("if a config source fails", func(t *testing.T) {
			srcErr := errors.New("bad source")
			src := config.SourceFunc(func(config.Store) error {
				return srcErr
			})

			err := Run(context.Background(), noopBuilder(nil), src)

			var cerr ConfigError
			if !assert.ErrorAs(t, err, &cerr) {
				return
			}
			if !assert.ErrorIs(t, err, srcErr) {
				return
			}
		})

		t.Run("if a value cannot be decoded", func(t *testing.T) {
			err := Run(context.Background(), noopBuilder(nil), config.Map{"port": "not a port"})

			var cerr ConfigError
			if !assert.ErrorAs(t, err, &cerr) {
				return
			}
		})

		t.Run("if a value is out of range", func(t *testing.T) {
			called := false
			b := BuilderFunc(func(ctx context.Context, cfg Config) (App, error) {
				called = true
				return nil, nil
			})

			err := Run(context.Background(), b, config.Map{"worker_count": 0})

			var ierr InvalidConfigError
			if !assert.ErrorAs(t, err, &ierr) {
				return
			}
			if !assert.Equal(t, "worker_count", ierr.Key) {
				return
			}
			if !assert.False(t, called) {
				return
			}
		})
	})

	t.Run("will return StartupError", func(t *testing.T) {
		t.Run("if the builder fails", func(t *testing.T) {
			buildErr := errors.New("cannot build")
			err := Run(context.Background(), BuilderFunc(func(ctx context.Context, cfg Config) (App, error) {
				return nil, buildErr
			}))

			var serr StartupError
			if !assert.ErrorAs(t, err, &serr) {
				return
			}
			if !assert.ErrorIs(t, err, buildErr) {
				return
			}
		})
	})

	t.Run("will return ServeError", func(t *testing.T) {
		t.Run("if the app fails", func(t *testing.T) {
			runErr := errors.New("cannot run")
			err := Run(context.Background(), BuilderFunc(func(ctx context.Context, cfg Config) (App, error) {
				return AppFunc(func(ctx context.Context) error {
					return runErr
				}), nil
			}))

			var serr ServeError
			if !assert.ErrorAs(t, err, &serr) {
				return
			}
			if !assert.ErrorIs(t, err, runErr) {
				return
			}
		})
	})

	t.Run("will start from the defaults", func(t *testing.T) {
		var got Config
		err := Run(context.Background(), noopBuilder(&got))
		require.Nil(t, err)

		assert.Equal(t, server.DefaultConfig(), got.Config)
		assert.Equal(t, docroot.DefaultIndex, got.Files.Index)
		assert.Equal(t, "json", got.Logging.Format)
		assert.Equal(t, "fileserver", got.Telemetry.ServiceName)
	})

	t.Run("will let later sources override earlier ones", func(t *testing.T) {
		var got Config
		err := Run(
			context.Background(),
			noopBuilder(&got),
			config.Map{"port": 8081, "logging": map[string]any{"format": "text"}},
			config.Map{"port": "9090", "idle_timeout": "250ms"},
		)
		require.Nil(t, err)

		assert.Equal(t, 9090, got.Port)
		assert.Equal(t, 250*time.Millisecond, got.IdleTimeout)
		assert.Equal(t, "text", got.Logging.Format)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Config:  server.DefaultConfig(),
			Files:   FilesConfig{Index: "index.html"},
			Logging: LoggingConfig{Format: "json"},
		}
	}

	t.Run("will accept the defaults", func(t *testing.T) {
		assert.Nil(t, valid().Validate())
	})

	t.Run("will report every bad setting", func(t *testing.T) {
		cfg := valid()
		cfg.Port = 70000
		cfg.QueueSize = -1
		cfg.IdleTimeout = 0
		cfg.Logging.Format = "xml"
		cfg.Files.Index = "../secret"

		err := cfg.Validate()
		require.NotNil(t, err)

		var keys []string
		for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
			var ierr InvalidConfigError
			require.ErrorAs(t, e, &ierr)
			keys = append(keys, ierr.Key)
		}
		assert.Equal(t, []string{"port", "queue_size", "idle_timeout", "files.index", "logging.format"}, keys)
	})
}

func TestFilesConfig_DocrootOptions(t *testing.T) {
	t.Run("will configure the index and extra mime types", func(t *testing.T) {
		dir := t.TempDir()
		require.Nil(t, os.WriteFile(filepath.Join(dir, "home.html"), []byte("home"), 0o600))
		require.Nil(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# notes"), 0o600))

		cfg := FilesConfig{
			Index:     "home.html",
			MimeTypes: map[string]string{"md": "text/markdown"},
		}
		root, err := docroot.Open(dir, cfg.DocrootOptions()...)
		require.Nil(t, err)

		b, err := root.Read("/")
		require.Nil(t, err)
		assert.Equal(t, []byte("home"), b)
		assert.Equal(t, "text/markdown", root.MimeType("/notes.md"))
	})
}
