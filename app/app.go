// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app provides helpers for common fileserver.App implementation patterns.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/z5labs/fileserver"
	"github.com/z5labs/fileserver/internal/try"
)

// Recover will wrap the given [fileserver.App] with panic recovery.
// A recovered panic is returned as a [try.PanicError].
func Recover(app fileserver.App) fileserver.App {
	return fileserver.AppFunc(func(ctx context.Context) (err error) {
		defer try.Recover(&err)

		return app.Run(ctx)
	})
}

// WithSignalNotifications wraps a given [fileserver.App] in an implementation
// that cancels the [context.Context] that's passed to app.Run if an [os.Signal]
// is received by the running process.
func WithSignalNotifications(app fileserver.App, signals ...os.Signal) fileserver.App {
	return fileserver.AppFunc(func(ctx context.Context) error {
		sigCtx, cancel := signal.NotifyContext(ctx, signals...)
		defer cancel()

		return app.Run(sigCtx)
	})
}

// LifecycleHook represents functionality that needs to be performed
// at a specific "time" relative to the execution of [fileserver.App.Run].
type LifecycleHook interface {
	Run(context.Context) error
}

// LifecycleHookFunc is a func variant of the [LifecycleHook] interface.
type LifecycleHookFunc func(context.Context) error

// Run implements the [LifecycleHook] interface.
func (f LifecycleHookFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// ComposeLifecycleHooks returns a [LifecycleHook] which runs every hook in
// order, even after one fails, and joins their errors.
func ComposeLifecycleHooks(hooks ...LifecycleHook) LifecycleHook {
	return LifecycleHookFunc(func(ctx context.Context) error {
		errs := make([]error, 0, len(hooks))
		for _, hook := range hooks {
			if hook == nil {
				continue
			}
			err := hook.Run(ctx)
			if err == nil {
				continue
			}
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
}

// Lifecycle
type Lifecycle struct {
	// PreRun is executed before the underlying [fileserver.App] runs. If it
	// fails the app is never run but PostRun still is.
	PreRun LifecycleHook

	// PostRun is always executed regardless if the underlying [fileserver.App]
	// returns an error or panics.
	PostRun LifecycleHook
}

// WithLifecycleHooks wraps a given [fileserver.App] in an implementation
// that runs [LifecycleHook]s around the execution of app.Run.
func WithLifecycleHooks(app fileserver.App, lifecycle Lifecycle) fileserver.App {
	return fileserver.AppFunc(func(ctx context.Context) (err error) {
		defer runPostRunHook(lifecycle.PostRun, &err)

		if lifecycle.PreRun != nil {
			err = lifecycle.PreRun.Run(ctx)
			if err != nil {
				return err
			}
		}
		return app.Run(ctx)
	})
}

func runPostRunHook(hook LifecycleHook, err *error) {
	if hook == nil {
		return
	}

	// ctx has usually been cancelled by now, since that is how the app
	// was stopped, so hooks get a fresh one.
	hookErr := hook.Run(context.Background())

	// errors.Join will not return an error if both
	// *err and hookErr are nil.
	*err = errors.Join(*err, hookErr)
}
