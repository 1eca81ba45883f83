//go:build linux
// +build linux

// File: internal/transport/uring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ring maps the SQ/CQ rings and the SQE array of one io_uring instance and
// implements api.Queue on top of them. It is driven from one logical thread
// (the event loop and the task it is currently running); it does no locking.

package transport

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-uring/api"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Ring is a kernel io_uring instance.
type Ring struct {
	fd  int
	log logrus.FieldLogger

	sqRing  []byte
	cqRing  []byte
	sqesMap []byte
	sqes    []ioUringSqe
	cqes    []ioUringCqe

	sqHead    *uint32
	sqTail    *uint32
	sqArray   []uint32
	sqMask    uint32
	sqEntries uint32

	cqHead *uint32
	cqTail *uint32
	cqMask uint32

	tail     uint32 // staged, not yet published, sq tail
	features Features
	// memory referenced by in-flight submissions, oldest first per user data.
	// A tag may be re-armed while its completion is peeked but not yet
	// advanced, so one user data can own more than one pin at a time.
	pins   map[uint64][]any
	closed bool
}

var _ api.Queue = (*Ring)(nil)

func init() {
	HasIoUringSupport = func() bool {
		r, err := NewRing(8, logrus.New())
		if err != nil {
			return false
		}
		_ = r.Close()
		return true
	}
}

// NewRing creates a ring with at least entries submission slots, maps it,
// and verifies that the kernel supports fast poll and provided buffers.
func NewRing(entries uint32, log logrus.FieldLogger) (*Ring, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if entries == 0 {
		return nil, fmt.Errorf("io_uring: zero entries: %w", api.ErrInvalidArgument)
	}

	var params ioUringParams
	params.Flags = ioringSetupClamp
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring_setup(%d): %w", entries, errno)
	}

	r := &Ring{
		fd:        int(fd),
		log:       log,
		sqEntries: params.SqEntries,
		pins:      make(map[uint64][]any),
	}
	if err := r.mapRings(&params); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("io_uring mmap: %w", err)
	}

	probe := new(ioUringProbe)
	_, _, errno = unix.Syscall6(unix.SYS_IO_URING_REGISTER, uintptr(r.fd), ioringRegisterProbe,
		uintptr(unsafe.Pointer(probe)), probeOpsLen, 0, 0)
	if errno != 0 {
		_ = r.Close()
		return nil, fmt.Errorf("io_uring probe: %w", errno)
	}
	r.features = featuresFromProbe(params.Features, probe)
	if err := r.features.Require(); err != nil {
		_ = r.Close()
		return nil, err
	}
	if missing := r.features.Missing(); len(missing) > 0 {
		log.WithField("ops", missing).Warn("io_uring: opcodes unsupported by kernel, matching awaitables will fail")
	}

	log.WithFields(logrus.Fields{
		"sq_entries": params.SqEntries,
		"cq_entries": params.CqEntries,
		"features":   fmt.Sprintf("%#x", params.Features),
	}).Debug("io_uring ring ready")
	return r, nil
}

func alignUint32(v, alignment uint32) uint32 {
	if mod := v % alignment; mod != 0 {
		return v + alignment - mod
	}
	return v
}

func (r *Ring) mapRings(params *ioUringParams) error {
	pageSize := uint32(unix.Getpagesize())
	sqRingSize := alignUint32(params.SqOff.Array+params.SqEntries*4, pageSize)
	cqRingSize := alignUint32(params.CqOff.Cqes+params.CqEntries*uint32(unsafe.Sizeof(ioUringCqe{})), pageSize)
	sqesSize := alignUint32(params.SqEntries*uint32(unsafe.Sizeof(ioUringSqe{})), pageSize)

	var err error
	if r.sqRing, err = unix.Mmap(r.fd, ioringOffSqRing, int(sqRingSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return err
	}
	if r.cqRing, err = unix.Mmap(r.fd, ioringOffCqRing, int(cqRingSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return err
	}
	if r.sqesMap, err = unix.Mmap(r.fd, ioringOffSqes, int(sqesSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return err
	}

	sqBase := unsafe.Pointer(&r.sqRing[0])
	r.sqHead = (*uint32)(unsafe.Add(sqBase, params.SqOff.Head))
	r.sqTail = (*uint32)(unsafe.Add(sqBase, params.SqOff.Tail))
	r.sqMask = *(*uint32)(unsafe.Add(sqBase, params.SqOff.RingMask))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Add(sqBase, params.SqOff.Array)), int(params.SqEntries))
	r.sqes = unsafe.Slice((*ioUringSqe)(unsafe.Pointer(&r.sqesMap[0])), int(params.SqEntries))
	r.tail = atomic.LoadUint32(r.sqTail)

	cqBase := unsafe.Pointer(&r.cqRing[0])
	r.cqHead = (*uint32)(unsafe.Add(cqBase, params.CqOff.Head))
	r.cqTail = (*uint32)(unsafe.Add(cqBase, params.CqOff.Tail))
	r.cqMask = *(*uint32)(unsafe.Add(cqBase, params.CqOff.RingMask))
	r.cqes = unsafe.Slice((*ioUringCqe)(unsafe.Add(cqBase, params.CqOff.Cqes)), int(params.CqEntries))
	return nil
}

// Features returns the capabilities probed at setup.
func (r *Ring) Features() Features { return r.features }

func (r *Ring) nextSqe() (*ioUringSqe, error) {
	if r.closed {
		return nil, api.ErrQueueClosed
	}
	for attempt := 0; ; attempt++ {
		head := atomic.LoadUint32(r.sqHead)
		if r.tail-head < r.sqEntries {
			idx := r.tail & r.sqMask
			sqe := &r.sqes[idx]
			*sqe = ioUringSqe{}
			r.sqArray[idx] = idx
			r.tail++
			return sqe, nil
		}
		if attempt > 0 {
			return nil, fmt.Errorf("io_uring: submission queue full: %w", api.ErrResourceExhausted)
		}
		r.log.WithField("entries", r.sqEntries).Debug("io_uring: submission queue full, flushing")
		if _, err := r.enter(0); err != nil {
			return nil, err
		}
	}
}

// pin records one submission of userData. Every submission records an entry,
// nil when it references no Go memory, so completions release in order.
func (r *Ring) pin(userData uint64, v any) {
	r.pins[userData] = append(r.pins[userData], v)
}

// unpin releases the oldest pin of userData, the one its completion belongs to.
func (r *Ring) unpin(userData uint64) {
	held := r.pins[userData]
	switch len(held) {
	case 0:
	case 1:
		delete(r.pins, userData)
	default:
		held[0] = nil
		r.pins[userData] = held[1:]
	}
}

func (r *Ring) PrepareAccept(fd int, peer *api.Sockaddr, userData uint64) error {
	sqe, err := r.nextSqe()
	if err != nil {
		return err
	}
	sqe.Opcode = ioringOpAccept
	sqe.Fd = int32(fd)
	sqe.OpFlags = unix.SOCK_CLOEXEC
	if peer != nil {
		peer.Len = api.SockaddrLen
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&peer.Raw[0])))
		sqe.Off = uint64(uintptr(unsafe.Pointer(&peer.Len)))
	}
	sqe.UserData = userData
	r.pin(userData, peer)
	return nil
}

func (r *Ring) PrepareRecv(fd int, group uint16, length uint32, userData uint64) error {
	sqe, err := r.nextSqe()
	if err != nil {
		return err
	}
	sqe.Opcode = ioringOpRecv
	sqe.Fd = int32(fd)
	sqe.Len = length
	sqe.Flags = iosqeBufferSelect
	sqe.BufIndex = group
	sqe.UserData = userData
	r.pin(userData, nil)
	return nil
}

func (r *Ring) PrepareRead(fd int, group uint16, length uint32, userData uint64) error {
	sqe, err := r.nextSqe()
	if err != nil {
		return err
	}
	sqe.Opcode = ioringOpRead
	sqe.Fd = int32(fd)
	sqe.Off = offsetCurrent
	sqe.Len = length
	sqe.Flags = iosqeBufferSelect
	sqe.BufIndex = group
	sqe.UserData = userData
	r.pin(userData, nil)
	return nil
}

func (r *Ring) PrepareSend(fd int, buf []byte, userData uint64) error {
	sqe, err := r.nextSqe()
	if err != nil {
		return err
	}
	sqe.Opcode = ioringOpSend
	sqe.Fd = int32(fd)
	sqe.OpFlags = unix.MSG_NOSIGNAL
	if len(buf) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
		sqe.Len = uint32(len(buf))
	}
	sqe.UserData = userData
	r.pin(userData, buf)
	return nil
}

func (r *Ring) PrepareWrite(fd int, buf []byte, userData uint64) error {
	sqe, err := r.nextSqe()
	if err != nil {
		return err
	}
	sqe.Opcode = ioringOpWrite
	sqe.Fd = int32(fd)
	sqe.Off = offsetCurrent
	if len(buf) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
		sqe.Len = uint32(len(buf))
	}
	sqe.UserData = userData
	r.pin(userData, buf)
	return nil
}

func (r *Ring) PrepareOpen(path string, flags int, mode uint32, userData uint64) error {
	p, err := unix.BytePtrFromString(path)
	if err != nil {
		return err
	}
	sqe, err := r.nextSqe()
	if err != nil {
		return err
	}
	sqe.Opcode = ioringOpOpenat
	sqe.Fd = atFdCwd
	sqe.Addr = uint64(uintptr(unsafe.Pointer(p)))
	sqe.Len = mode
	sqe.OpFlags = uint32(flags | unix.O_CLOEXEC)
	sqe.UserData = userData
	r.pin(userData, p)
	return nil
}

func (r *Ring) PrepareProvideBuffers(group uint16, startID uint16, count int, size int, mem []byte, userData uint64) error {
	if count <= 0 || size <= 0 || len(mem) < count*size {
		return fmt.Errorf("io_uring: provide %d x %d from %d bytes: %w", count, size, len(mem), api.ErrInvalidArgument)
	}
	sqe, err := r.nextSqe()
	if err != nil {
		return err
	}
	sqe.Opcode = ioringOpProvideBuffers
	sqe.Fd = int32(count)
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&mem[0])))
	sqe.Len = uint32(size)
	sqe.Off = uint64(startID)
	sqe.BufIndex = group
	sqe.UserData = userData
	r.pin(userData, mem)
	return nil
}

func (r *Ring) enter(minComplete uint32) (int, error) {
	atomic.StoreUint32(r.sqTail, r.tail)
	var flags uintptr
	if minComplete > 0 {
		flags = ioringEnterGetevents
	}
	for {
		toSubmit := r.tail - atomic.LoadUint32(r.sqHead)
		n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), flags, 0, 0)
		switch errno {
		case 0:
			return int(n), nil
		case unix.EINTR:
			continue
		case unix.EAGAIN, unix.EBUSY:
			// completion queue is backed up; the caller drains it first
			return 0, nil
		default:
			return 0, fmt.Errorf("io_uring_enter: %w", errno)
		}
	}
}

// SubmitAndWait publishes staged submissions and waits for minComplete completions.
func (r *Ring) SubmitAndWait(minComplete uint32) (int, error) {
	if r.closed {
		return 0, api.ErrQueueClosed
	}
	if minComplete > 0 && atomic.LoadUint32(r.cqTail) != atomic.LoadUint32(r.cqHead) {
		// completions are already waiting, don't block in the kernel
		minComplete = 0
	}
	return r.enter(minComplete)
}

// Peek copies ready completions without consuming them.
func (r *Ring) Peek(dst []api.Completion) int {
	if r.closed {
		return 0
	}
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	n := int(tail - head)
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		c := &r.cqes[(head+uint32(i))&r.cqMask]
		dst[i] = api.Completion{UserData: c.UserData, Res: c.Res, Flags: c.Flags}
	}
	return n
}

// Advance consumes n completions and releases the memory they pinned.
func (r *Ring) Advance(n int) {
	if r.closed || n <= 0 {
		return
	}
	head := atomic.LoadUint32(r.cqHead)
	for i := 0; i < n; i++ {
		r.unpin(r.cqes[(head+uint32(i))&r.cqMask].UserData)
	}
	atomic.StoreUint32(r.cqHead, head+uint32(n))
}

// Shutdown shuts down both directions of fd and closes it. It is a direct
// system call and does not go through the submission queue.
func (r *Ring) Shutdown(fd int) error {
	err := unix.Shutdown(fd, unix.SHUT_RDWR)
	if errors.Is(err, unix.ENOTCONN) || errors.Is(err, unix.ENOTSOCK) {
		err = nil
	}
	if cerr := unix.Close(fd); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("shutdown fd %d: %w", fd, err)
	}
	return nil
}

// Close unmaps the rings and closes the ring descriptor. In-flight
// operations are abandoned.
func (r *Ring) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	for _, m := range [][]byte{r.sqesMap, r.cqRing, r.sqRing} {
		if m != nil {
			_ = unix.Munmap(m)
		}
	}
	r.sqesMap, r.cqRing, r.sqRing = nil, nil, nil
	r.pins = nil
	return unix.Close(r.fd)
}
