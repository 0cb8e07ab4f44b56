// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux

package server

import (
	"context"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listen sets the socket up by hand since the net package always uses
// the system maximum for the backlog.
func listen(ctx context.Context, port, backlog int) (net.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}

	err = unix.Bind(fd, &unix.SockaddrInet4{Port: port})
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	err = unix.Listen(fd, backlog)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	// net.FileListener dups the descriptor so f is always closed here.
	f := os.NewFile(uintptr(fd), "tcp-listener")
	defer f.Close()

	return net.FileListener(f)
}
