// File: api/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contract of a kernel submission/completion queue pair (io_uring shaped).
// Prepare* calls only stage a submission; nothing reaches the kernel until
// SubmitAndWait. Every submission carries an opaque 64-bit user-data value
// that comes back unchanged on its completion.

package api

// CQEFBuffer is set in Completion.Flags when the kernel selected a buffer
// from a provided group; the buffer id is Flags >> CQEBufferShift.
const (
	CQEFBuffer     uint32 = 1 << 0
	CQEBufferShift        = 16
)

// Completion is one completion queue entry.
type Completion struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// BufferID returns the selected buffer id and whether one was selected.
func (c Completion) BufferID() (uint16, bool) {
	if c.Flags&CQEFBuffer == 0 {
		return 0, false
	}
	return uint16(c.Flags >> CQEBufferShift), true
}

// SockaddrLen is the size of the kernel's sockaddr_storage-compatible buffer.
const SockaddrLen = 112

// Address families as the Linux kernel writes them into a Sockaddr.
const (
	AFInet  = 2
	AFInet6 = 10
)

// Sockaddr is storage the kernel fills with a peer address on accept.
// It must stay reachable until the accept completes.
type Sockaddr struct {
	Raw [SockaddrLen]byte
	Len uint32
}

// Provider stages buffer registrations for a buffer group.
type Provider interface {
	// PrepareProvideBuffers registers count buffers of size bytes each,
	// laid out contiguously in mem, with ids starting at startID.
	PrepareProvideBuffers(group uint16, startID uint16, count int, size int, mem []byte, userData uint64) error
}

// Queue is the kernel I/O interface driven by the event loop.
type Queue interface {
	Provider

	PrepareAccept(fd int, peer *Sockaddr, userData uint64) error
	// PrepareRecv arms a receive whose buffer the kernel selects from group.
	PrepareRecv(fd int, group uint16, length uint32, userData uint64) error
	// PrepareRead arms a read at the current file offset with buffer selection.
	PrepareRead(fd int, group uint16, length uint32, userData uint64) error
	PrepareSend(fd int, buf []byte, userData uint64) error
	PrepareWrite(fd int, buf []byte, userData uint64) error
	PrepareOpen(path string, flags int, mode uint32, userData uint64) error

	// SubmitAndWait submits staged entries and blocks until at least
	// minComplete completions are ready. It returns the number submitted.
	SubmitAndWait(minComplete uint32) (int, error)
	// Peek copies ready completions into dst without consuming them.
	Peek(dst []Completion) int
	// Advance consumes n completions.
	Advance(n int)

	// Shutdown shuts down and closes fd synchronously, outside the queue.
	Shutdown(fd int) error
	Close() error
}
