// File: internal/transport/feature_detect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Capability checks for an io_uring instance: the feature bits returned by
// io_uring_setup and the opcode table returned by IORING_REGISTER_PROBE.

package transport

import (
	"fmt"

	"github.com/momentics/hioload-uring/api"
)

// Features describes what the running kernel offers for one ring.
type Features struct {
	Bits   uint32
	LastOp uint8
	ops    [probeOpsLen]bool
}

func featuresFromProbe(bits uint32, probe *ioUringProbe) Features {
	f := Features{Bits: bits}
	if probe == nil {
		return f
	}
	f.LastOp = probe.LastOp
	n := int(probe.OpsLen)
	if n > probeOpsLen {
		n = probeOpsLen
	}
	for i := 0; i < n; i++ {
		op := probe.Ops[i]
		if op.Flags&ioUringOpSupported != 0 {
			f.ops[op.Op] = true
		}
	}
	return f
}

// FastPoll reports IORING_FEAT_FAST_POLL.
func (f Features) FastPoll() bool { return f.Bits&ioringFeatFastPoll != 0 }

// Supports reports whether opcode op passed the probe.
func (f Features) Supports(op uint8) bool { return f.ops[op] }

// Require fails unless the kernel supports everything the event loop
// cannot work without: low-latency internal polling and provided buffers.
func (f Features) Require() error {
	if !f.FastPoll() {
		return fmt.Errorf("io_uring: IORING_FEAT_FAST_POLL: %w", api.ErrNotSupported)
	}
	if !f.Supports(ioringOpProvideBuffers) {
		return fmt.Errorf("io_uring: IORING_OP_PROVIDE_BUFFERS: %w", api.ErrNotSupported)
	}
	return nil
}

// Missing lists the optional opcodes used by awaitables that failed the probe.
func (f Features) Missing() []string {
	var out []string
	for _, op := range []struct {
		code uint8
		name string
	}{
		{ioringOpAccept, "accept"},
		{ioringOpRecv, "recv"},
		{ioringOpSend, "send"},
		{ioringOpRead, "read"},
		{ioringOpWrite, "write"},
		{ioringOpOpenat, "openat"},
	} {
		if !f.Supports(op.code) {
			out = append(out, op.name)
		}
	}
	return out
}

// HasIoUringSupport reports whether a ring can be created on this host.
// The Linux implementation replaces this at init.
var HasIoUringSupport = func() bool {
	return false
}
