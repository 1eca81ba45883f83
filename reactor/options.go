// File: reactor/options.go
// Package reactor defines functional options for the Loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"github.com/momentics/hioload-uring/control"
	"github.com/sirupsen/logrus"
)

// Option customizes loop initialization.
type Option func(*Loop)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(l *Loop) {
		l.cfg = cfg
	}
}

// WithBufferCount sets the number of pooled buffers.
func WithBufferCount(n int) Option {
	return func(l *Loop) {
		l.cfg.BufferCount = n
	}
}

// WithMessageSize sets the capacity of each pooled buffer.
func WithMessageSize(n int) Option {
	return func(l *Loop) {
		l.cfg.MessageSize = n
	}
}

// WithBufferGroup sets the kernel buffer group id.
func WithBufferGroup(id uint16) Option {
	return func(l *Loop) {
		l.cfg.BufferGroup = id
	}
}

// WithExhaustionPolicy selects the -ENOBUFS behavior.
func WithExhaustionPolicy(p ExhaustionPolicy, maxDeferred int) Option {
	return func(l *Loop) {
		l.cfg.Exhaustion = p
		l.cfg.MaxDeferredReads = maxDeferred
	}
}

// WithBatchSize overrides the number of completions handled per step.
func WithBatchSize(n int) Option {
	return func(l *Loop) {
		l.cfg.BatchSize = n
	}
}

// WithLogger sets the logger. Defaults to logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithCounters shares a counters instance with the caller.
func WithCounters(c *control.Counters) Option {
	return func(l *Loop) {
		if c != nil {
			l.counters = c
		}
	}
}

// WithTaskErrorHandler installs a hook receiving every error or recovered
// panic a task body ends with.
func WithTaskErrorHandler(fn func(fd int, err error)) Option {
	return func(l *Loop) {
		l.onTaskError = fn
	}
}
