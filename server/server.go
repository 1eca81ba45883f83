// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server wires a listening socket, a completion queue and the event loop.

package server

import (
	"errors"
	"fmt"
	"net/netip"
	"os"

	"github.com/momentics/hioload-uring/affinity"
	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/control"
	"github.com/momentics/hioload-uring/internal/transport"
	"github.com/momentics/hioload-uring/reactor"
	"github.com/sirupsen/logrus"
)

// Server is the high-level facade over one event loop.
type Server struct {
	cfg         *Config
	log         logrus.FieldLogger
	queue       api.Queue
	listenFD    int
	ownListener bool
	counters    *control.Counters
	loopOpts    []reactor.Option
	loop        *reactor.Loop
	closed      bool
}

// NewServer binds the listener, creates the queue and builds the loop.
func NewServer(cfg *Config, handler reactor.HandlerFunc, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:         cfg,
		listenFD:    -1,
		ownListener: true,
		counters:    control.NewCounters(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		log, err := cfg.NewLogger(os.Stderr)
		if err != nil {
			return nil, err
		}
		s.log = log
	}

	if s.ownListener {
		fd, err := Listen(cfg.ListenAddr, cfg.Backlog, cfg.BindAttempts, s.log)
		if err != nil {
			return nil, err
		}
		s.listenFD = fd
	}
	if s.queue == nil {
		q, err := transport.NewQueue(cfg.Reactor.QueueDepth, s.log)
		if err != nil {
			s.closeListener()
			return nil, fmt.Errorf("server: completion queue: %w", err)
		}
		s.queue = q
	}

	loopOpts := append([]reactor.Option{
		reactor.WithConfig(cfg.Reactor),
		reactor.WithLogger(s.log),
		reactor.WithCounters(s.counters),
	}, s.loopOpts...)
	loop, err := reactor.New(s.queue, s.listenFD, handler, loopOpts...)
	if err != nil {
		_ = s.queue.Close()
		s.closeListener()
		return nil, err
	}
	s.loop = loop

	entry := s.log.WithField("listen_fd", s.listenFD)
	if addr, err := s.Addr(); err == nil {
		entry = entry.WithField("addr", addr.String())
	}
	entry.Info("server: listening")
	return s, nil
}

// Serve runs the loop on the calling goroutine until it fails. With CPU set,
// the loop goroutine's thread is pinned first; task goroutines are not.
func (s *Server) Serve() error {
	if s.closed {
		return api.ErrQueueClosed
	}
	if s.cfg.CPU >= 0 {
		if err := affinity.Pin(s.cfg.CPU); err != nil {
			return err
		}
		defer affinity.Unpin()
		s.log.WithField("cpu", s.cfg.CPU).Info("server: loop thread pinned")
	}
	err := s.loop.Run()
	s.log.WithError(err).WithFields(logrus.Fields(s.counters.Snapshot())).Error("server: loop stopped")
	return err
}

// Step runs one loop iteration.
func (s *Server) Step() error { return s.loop.Step() }

// Close tears the loop down and closes an owned listener. It must not be
// called while Serve runs on another goroutine.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.loop.Close()
	if cerr := s.closeListener(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// Addr returns the bound listen address.
func (s *Server) Addr() (netip.AddrPort, error) {
	if !s.ownListener {
		return netip.AddrPort{}, fmt.Errorf("server: external listener: %w", api.ErrNotSupported)
	}
	return BoundAddr(s.listenFD)
}

// Counters exposes the loop counters.
func (s *Server) Counters() *control.Counters { return s.counters }

// Loop exposes the event loop.
func (s *Server) Loop() *reactor.Loop { return s.loop }

func (s *Server) closeListener() error {
	if !s.ownListener || s.listenFD < 0 {
		return nil
	}
	fd := s.listenFD
	s.listenFD = -1
	return closeListener(fd)
}
