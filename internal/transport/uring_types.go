// File: internal/transport/uring_types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// io_uring ABI types and constants shared by the Linux ring and the
// platform-neutral feature checks.

package transport

import "unsafe"

const (
	// setup flags
	ioringSetupClamp = 1 << 4

	// features reported in ioUringParams.Features
	ioringFeatSingleMmap = 1 << 0
	ioringFeatNoDrop     = 1 << 1
	ioringFeatFastPoll   = 1 << 5

	// opcodes
	ioringOpNop            = 0
	ioringOpAccept         = 13
	ioringOpOpenat         = 18
	ioringOpRead           = 22
	ioringOpWrite          = 23
	ioringOpSend           = 26
	ioringOpRecv           = 27
	ioringOpProvideBuffers = 31

	// sqe flags
	iosqeBufferSelect = 1 << 5

	// enter flags
	ioringEnterGetevents = 1 << 0

	// register opcodes
	ioringRegisterProbe = 8
	ioUringOpSupported  = 1 << 0
	probeOpsLen         = 256

	// mmap offsets
	ioringOffSqRing = 0
	ioringOffCqRing = 0x8000000
	ioringOffSqes   = 0x10000000

	atFdCwd = -100

	// current file position for read/write
	offsetCurrent = ^uint64(0)
)

type ioSqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	UserAddr    uint64
}

type ioCqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	UserAddr    uint64
}

type ioUringParams struct {
	SqEntries    uint32
	CqEntries    uint32
	Flags        uint32
	SqThreadCPU  uint32
	SqThreadIdle uint32
	Features     uint32
	WqFd         uint32
	Resv         [3]uint32
	SqOff        ioSqringOffsets
	CqOff        ioCqringOffsets
}

// ioUringSqe is struct io_uring_sqe (64 bytes).
type ioUringSqe struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64 // also addr2
	Addr        uint64
	Len         uint32
	OpFlags     uint32 // msg_flags, open_flags, rw_flags
	UserData    uint64
	BufIndex    uint16 // also buf_group
	Personality uint16
	SpliceFdIn  int32
	Addr3       uint64
	Pad         uint64
}

// ioUringCqe is struct io_uring_cqe (16 bytes).
type ioUringCqe struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

type ioUringProbeOp struct {
	Op    uint8
	Resv  uint8
	Flags uint16
	Resv2 uint32
}

type ioUringProbe struct {
	LastOp uint8
	OpsLen uint8
	Resv   uint16
	Resv2  [3]uint32
	Ops    [probeOpsLen]ioUringProbeOp
}

func init() {
	if sz := unsafe.Sizeof(ioUringSqe{}); sz != 64 {
		panic("io_uring sqe size mismatch")
	}
	if sz := unsafe.Sizeof(ioUringCqe{}); sz != 16 {
		panic("io_uring cqe size mismatch")
	}
	if sz := unsafe.Sizeof(ioUringParams{}); sz != 120 {
		panic("io_uring params size mismatch")
	}
}
