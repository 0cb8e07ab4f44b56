// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"

	"github.com/z5labs/fileserver/internal/httpwire"

	"github.com/google/uuid"
)

// conn is an accepted connection. Close may be called by both the
// handler and the reaper; only the first call reaches the socket.
type conn struct {
	net.Conn
	id     uuid.UUID
	closed atomic.Bool
}

func newConn(nc net.Conn) *conn {
	return &conn{
		Conn: nc,
		id:   uuid.New(),
	}
}

func (c *conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.Conn.Close()
}

var errHeadTooLarge = errors.New("request head exceeds read buffer")

// reader buffers a connection's input in a fixed size buffer so bytes
// following one request head are kept for the next.
type reader struct {
	r   io.Reader
	buf []byte
	n   int
}

func newReader(r io.Reader, size int) *reader {
	return &reader{
		r:   r,
		buf: make([]byte, size),
	}
}

// readHead blocks until the buffer holds a complete request head and
// returns its length. On EOF any partial head is returned together with
// io.EOF.
func (r *reader) readHead() (int, error) {
	for {
		if h := httpwire.HeadLength(r.buf[:r.n]); h >= 0 {
			return h, nil
		}
		if r.n == len(r.buf) {
			return r.n, errHeadTooLarge
		}

		m, err := r.r.Read(r.buf[r.n:])
		r.n += m
		if err == nil {
			continue
		}
		if h := httpwire.HeadLength(r.buf[:r.n]); h >= 0 {
			return h, nil
		}
		return r.n, err
	}
}

func (r *reader) bytes(n int) []byte {
	return r.buf[:n]
}

func (r *reader) buffered() int {
	return r.n
}

// consume drops the first n buffered bytes.
func (r *reader) consume(n int) {
	copy(r.buf, r.buf[n:r.n])
	r.n -= n
}

// discard skips n bytes of request body, draining the connection for
// whatever is not buffered yet.
func (r *reader) discard(n int64) error {
	k := min(int64(r.n), n)
	r.consume(int(k))
	n -= k
	if n == 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, r.r, n)
	return err
}

// isClosedOrTimeout reports whether err came from the connection being
// closed underneath the reader or from an expired read deadline.
func isClosedOrTimeout(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded)
}
