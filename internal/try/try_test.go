// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package try

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

func TestRecover(t *testing.T) {
	t.Run("will set the error ref", func(t *testing.T) {
		t.Run("if a non-error value is recovered and the ref is nil", func(t *testing.T) {
			f := func() (err error) {
				defer Recover(&err)
				panic("hello world")
			}

			err := f()

			var perr PanicError
			if !assert.ErrorAs(t, err, &perr) {
				return
			}
			if !assert.Equal(t, "hello world", perr.Value) {
				return
			}
			if !assert.Nil(t, perr.Unwrap()) {
				return
			}
		})

		t.Run("if an error is recovered and the ref is already set", func(t *testing.T) {
			funcErr := errors.New("error value")
			panicErr := errors.New("panic error")
			f := func() (err error) {
				defer Recover(&err)
				err = funcErr
				panic(panicErr)
			}

			err := f()
			if !assert.ErrorIs(t, err, funcErr) {
				return
			}
			if !assert.ErrorIs(t, err, panicErr) {
				return
			}
		})
	})

	t.Run("will leave the error ref untouched", func(t *testing.T) {
		t.Run("if there is no panic", func(t *testing.T) {
			funcErr := errors.New("error value")
			f := func() (err error) {
				defer Recover(&err)
				return funcErr
			}

			err := f()
			if !assert.Equal(t, funcErr, err) {
				return
			}
		})
	})
}

func TestClose(t *testing.T) {
	t.Run("will wrap the close error", func(t *testing.T) {
		t.Run("if the ref is nil", func(t *testing.T) {
			closeErr := errors.New("close failed")
			f := func() (err error) {
				defer Close(&err, closerFunc(func() error { return closeErr }))
				return nil
			}

			err := f()

			var cerr CloseError
			if !assert.ErrorAs(t, err, &cerr) {
				return
			}
			if !assert.ErrorIs(t, err, closeErr) {
				return
			}
		})

		t.Run("and join it with an existing error", func(t *testing.T) {
			funcErr := errors.New("func failed")
			closeErr := errors.New("close failed")
			f := func() (err error) {
				defer Close(&err, closerFunc(func() error { return closeErr }))
				return funcErr
			}

			err := f()
			if !assert.ErrorIs(t, err, funcErr) {
				return
			}
			if !assert.ErrorIs(t, err, closeErr) {
				return
			}
		})
	})

	t.Run("will do nothing", func(t *testing.T) {
		t.Run("if the closer is nil", func(t *testing.T) {
			var err error
			Close(&err, nil)
			if !assert.Nil(t, err) {
				return
			}
		})
	})
}
