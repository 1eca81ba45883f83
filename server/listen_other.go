//go:build !linux
// +build !linux

// File: server/listen_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"net/netip"
	"runtime"

	"github.com/momentics/hioload-uring/api"
	"github.com/sirupsen/logrus"
)

// Listen is only implemented on Linux.
func Listen(addr string, backlog, attempts int, log logrus.FieldLogger) (int, error) {
	return -1, fmt.Errorf("server: listen on %s: %w", runtime.GOOS, api.ErrNotSupported)
}

// BoundAddr is only implemented on Linux.
func BoundAddr(fd int) (netip.AddrPort, error) {
	return netip.AddrPort{}, fmt.Errorf("server: %s: %w", runtime.GOOS, api.ErrNotSupported)
}

func closeListener(fd int) error { return nil }
