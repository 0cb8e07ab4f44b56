// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package slogfield provides the slog attributes logged by the file server.
package slogfield

import (
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
)

// Any returns an slog.Attr for the supplied value.
func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Bool returns an slog.Attr for a bool.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Duration returns an slog.Attr for a time.Duration.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}

// Error returns an slog.Attr for a error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// String returns an slog.Attr for a string.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Int returns an slog.Attr for a int.
func Int(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Int64 returns an slog.Attr for a int64.
func Int64(key string, n int64) slog.Attr {
	return slog.Int64(key, n)
}

// ConnID returns an slog.Attr identifying a client connection.
func ConnID(id uuid.UUID) slog.Attr {
	return slog.String("conn_id", id.String())
}

// RemoteAddr returns an slog.Attr for the peer address of a connection.
// A nil address is logged as an empty string.
func RemoteAddr(addr net.Addr) slog.Attr {
	if addr == nil {
		return slog.String("remote_addr", "")
	}
	return slog.String("remote_addr", addr.String())
}

// Request groups the request line fields of an HTTP request.
func Request(method, path string) slog.Attr {
	return slog.Group(
		"http",
		slog.String("method", method),
		slog.String("path", path),
	)
}

// StatusCode returns an slog.Attr for an HTTP response status code.
func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}
