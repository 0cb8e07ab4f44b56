// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ListenError is returned when the listening socket cannot be set up.
type ListenError struct {
	Port  int
	Cause error
}

// Error implements the [error] interface.
func (e ListenError) Error() string {
	return fmt.Sprintf("failed to listen on port %d: %s", e.Port, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ListenError) Unwrap() error {
	return e.Cause
}

var errPortOutOfRange = errors.New("port out of range")

// Listen binds a TCP listener on every interface at the given port.
// A port of 0 picks an ephemeral port.
func Listen(ctx context.Context, port, backlog int) (net.Listener, error) {
	if port < 0 || port > 65535 {
		return nil, ListenError{Port: port, Cause: errPortOutOfRange}
	}
	if backlog < 1 {
		backlog = DefaultConfig().Backlog
	}

	ln, err := listen(ctx, port, backlog)
	if err != nil {
		return nil, ListenError{Port: port, Cause: err}
	}
	return ln, nil
}
