// File: reactor/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop configuration and defaults.

package reactor

import (
	"fmt"
	"strings"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/pool"
)

// ExhaustionPolicy selects what a read does when the buffer group is empty.
type ExhaustionPolicy int

const (
	// ExhaustionDefer parks the read until a buffer is re-provided.
	ExhaustionDefer ExhaustionPolicy = iota
	// ExhaustionFail resumes the task with api.ErrNoBuffers.
	ExhaustionFail
)

func (p ExhaustionPolicy) String() string {
	switch p {
	case ExhaustionDefer:
		return "defer"
	case ExhaustionFail:
		return "fail"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p ExhaustionPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ExhaustionPolicy) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "defer":
		*p = ExhaustionDefer
	case "fail":
		*p = ExhaustionFail
	default:
		return fmt.Errorf("reactor: exhaustion policy %q: %w", b, api.ErrInvalidArgument)
	}
	return nil
}

// Config sizes the loop.
type Config struct {
	QueueDepth       uint32           `toml:"queue_depth"`        // submission queue entries
	BufferCount      int              `toml:"buffer_count"`       // buffers in the group
	MessageSize      int              `toml:"message_size"`       // capacity of each buffer
	BufferGroup      uint16           `toml:"buffer_group"`       // kernel buffer group id
	Exhaustion       ExhaustionPolicy `toml:"exhaustion_policy"`  // behavior on -ENOBUFS
	MaxDeferredReads int              `toml:"max_deferred_reads"` // parked reads before failing
	BatchSize        int              `toml:"batch_size"`         // completions peeked per step
}

// DefaultConfig returns the stock sizing.
func DefaultConfig() Config {
	return Config{
		QueueDepth:       2048,
		BufferCount:      4096,
		MessageSize:      2048,
		BufferGroup:      1337,
		Exhaustion:       ExhaustionDefer,
		MaxDeferredReads: 1024,
		BatchSize:        256,
	}
}

// Validate reports the first unusable field.
func (c Config) Validate() error {
	switch {
	case c.QueueDepth == 0:
		return fmt.Errorf("reactor: queue depth must be positive: %w", api.ErrInvalidArgument)
	case c.BufferCount <= 0 || c.BufferCount > pool.MaxBuffers:
		return fmt.Errorf("reactor: buffer count %d: %w", c.BufferCount, api.ErrInvalidArgument)
	case c.MessageSize <= 0:
		return fmt.Errorf("reactor: message size %d: %w", c.MessageSize, api.ErrInvalidArgument)
	case c.Exhaustion != ExhaustionDefer && c.Exhaustion != ExhaustionFail:
		return fmt.Errorf("reactor: %s: %w", c.Exhaustion, api.ErrInvalidArgument)
	case c.MaxDeferredReads < 0:
		return fmt.Errorf("reactor: max deferred reads %d: %w", c.MaxDeferredReads, api.ErrInvalidArgument)
	case c.BatchSize <= 0:
		return fmt.Errorf("reactor: batch size %d: %w", c.BatchSize, api.ErrInvalidArgument)
	}
	return nil
}
