// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/control"
	"github.com/momentics/hioload-uring/reactor"
	"github.com/sirupsen/logrus"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger overrides the logger built from the configuration.
func WithLogger(log logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithQueue uses q instead of creating an io_uring instance.
func WithQueue(q api.Queue) ServerOption {
	return func(s *Server) {
		s.queue = q
	}
}

// WithListenFD serves an already listening descriptor. The server does not
// close it.
func WithListenFD(fd int) ServerOption {
	return func(s *Server) {
		s.listenFD = fd
		s.ownListener = false
	}
}

// WithCounters shares a counters instance with the caller.
func WithCounters(c *control.Counters) ServerOption {
	return func(s *Server) {
		s.counters = c
	}
}

// WithLoopOptions appends options passed to reactor.New.
func WithLoopOptions(opts ...reactor.Option) ServerOption {
	return func(s *Server) {
		s.loopOpts = append(s.loopOpts, opts...)
	}
}
