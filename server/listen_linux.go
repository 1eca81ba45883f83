//go:build linux
// +build linux

// File: server/listen_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listening socket setup. The loop only ever sees the descriptor.

package server

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Listen binds a TCP listening socket on addr with SO_REUSEADDR. A bind that
// fails with EADDRINUSE is retried up to attempts times with jittered backoff.
func Listen(addr string, backlog, attempts int, log logrus.FieldLogger) (int, error) {
	ap, err := resolve(addr)
	if err != nil {
		return -1, err
	}
	family := unix.AF_INET6
	var sa unix.Sockaddr
	if ap.Addr().Is4() {
		family = unix.AF_INET
		sa = &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
	} else {
		sa = &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("server: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("server: setsockopt SO_REUSEADDR: %w", err)
	}

	b := &backoff.Backoff{
		Factor: 1.25,
		Jitter: true,
		Min:    100 * time.Millisecond,
		Max:    1 * time.Second,
	}
	for i := 0; ; i++ {
		err = unix.Bind(fd, sa)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EADDRINUSE) || i+1 >= attempts {
			unix.Close(fd)
			return -1, fmt.Errorf("server: bind %s: %w", ap, err)
		}
		d := b.Duration()
		log.WithFields(logrus.Fields{"addr": ap.String(), "attempt": i + 1, "retry_in": d}).Warn("server: address in use, retrying bind")
		time.Sleep(d)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("server: listen %s: %w", ap, err)
	}
	return fd, nil
}

// BoundAddr returns the local address of a listening descriptor.
func BoundAddr(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("server: getsockname: %w", err)
	}
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port)), nil
	}
	return netip.AddrPort{}, fmt.Errorf("server: unexpected socket address %T", sa)
}

func closeListener(fd int) error { return unix.Close(fd) }

func resolve(addr string) (netip.AddrPort, error) {
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("server: resolve %q: %w", addr, err)
	}
	ap := tcp.AddrPort()
	if !ap.Addr().IsValid() {
		// ":port" binds every IPv4 interface
		ap = netip.AddrPortFrom(netip.IPv4Unspecified(), ap.Port())
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
