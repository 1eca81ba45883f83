// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime counters collector for the event loop.

package control

import "sync/atomic"

// Counters holds the loop's monotonic and gauge counters.
type Counters struct {
	Accepted     atomic.Uint64
	AcceptErrors atomic.Uint64
	Active       atomic.Int64
	Reads        atomic.Uint64
	Writes       atomic.Uint64
	Opens        atomic.Uint64
	Reprovided   atomic.Uint64
	NoBuffers    atomic.Uint64
	Deferred     atomic.Uint64
	Orphans      atomic.Uint64
	TaskErrors   atomic.Uint64
}

// NewCounters creates zeroed counters.
func NewCounters() *Counters {
	return &Counters{}
}

// Snapshot returns the latest values keyed by name.
func (c *Counters) Snapshot() map[string]any {
	return map[string]any{
		"accepted":      c.Accepted.Load(),
		"accept_errors": c.AcceptErrors.Load(),
		"active":        c.Active.Load(),
		"reads":         c.Reads.Load(),
		"writes":        c.Writes.Load(),
		"opens":         c.Opens.Load(),
		"reprovided":    c.Reprovided.Load(),
		"nobufs":        c.NoBuffers.Load(),
		"deferred":      c.Deferred.Load(),
		"orphans":       c.Orphans.Load(),
		"task_errors":   c.TaskErrors.Load(),
	}
}
