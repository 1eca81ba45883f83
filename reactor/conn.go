// File: reactor/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn is a task's view of its connection and the promise state it shares
// with the loop: the pending tag, the last result and the buffers it holds.
// Awaitables arm exactly one submission, suspend, and read the result the
// loop stored before resuming the task.

package reactor

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/core/protocol"
	"github.com/momentics/hioload-uring/pool"
)

// pendingOp is what is needed to re-arm a read parked on an empty group.
type pendingOp struct {
	tag    protocol.Tag
	target int
	file   bool
}

// Conn is only valid inside its task's body.
type Conn struct {
	st   *taskState
	loop *Loop // rebound on every resume
	fd   int
	peer netip.AddrPort

	pending bool
	op      pendingOp
	res     int32
	sel     pool.Buffer // buffer selected by the last read
	failure error       // set by the loop instead of res

	held   map[int]pool.Buffer
	closed bool
}

// FD returns the connection descriptor.
func (c *Conn) FD() int { return c.fd }

// PeerAddr returns the address reported by accept; invalid when the family
// is neither IPv4 nor IPv6.
func (c *Conn) PeerAddr() netip.AddrPort { return c.peer }

// Held returns the number of pooled buffers the task holds.
func (c *Conn) Held() int { return len(c.held) }

// ReadSocket receives into a buffer the kernel selects from the group. The
// task holds the buffer until it writes it or the connection closes.
// A closed peer yields io.EOF.
func (c *Conn) ReadSocket() (pool.Buffer, int, error) {
	return c.read(c.fd, false)
}

// ReadFile is ReadSocket against an arbitrary descriptor, at its current offset.
func (c *Conn) ReadFile(fd int) (pool.Buffer, int, error) {
	return c.read(fd, true)
}

// WriteSocket sends buf[:n] and gives buf back to the group once the send
// completes, whatever its result. buf must be held by this task.
func (c *Conn) WriteSocket(buf pool.Buffer, n int) (int, error) {
	return c.write(c.fd, false, buf, n)
}

// WriteFile is WriteSocket against an arbitrary descriptor.
func (c *Conn) WriteFile(fd int, buf pool.Buffer, n int) (int, error) {
	return c.write(fd, true, buf, n)
}

// OpenFile opens path through the queue and returns the new descriptor.
// The caller closes it.
func (c *Conn) OpenFile(path string, flags int, mode uint32) (int, error) {
	res, err := c.await(protocol.KindOpen, -1, false, func(l *Loop, ud uint64) error {
		return l.queue.PrepareOpen(path, flags, mode, ud)
	})
	if err != nil {
		return -1, err
	}
	if res < 0 {
		return -1, api.ResultError("open "+path, c.fd, res)
	}
	return int(res), nil
}

// CloseFile closes a descriptor obtained from OpenFile. It does not suspend.
func (c *Conn) CloseFile(fd int) error {
	if fd == c.fd {
		return fmt.Errorf("reactor: close connection fd %d as a file: %w", fd, api.ErrInvalidArgument)
	}
	return c.loop.queue.Shutdown(fd)
}

// Close shuts the descriptor down and gives back every held buffer. It does
// not suspend. Awaitables fail with api.ErrConnClosed afterwards; repeated
// calls return nil.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	if c.pending {
		return api.ErrOperationPending
	}
	c.closed = true
	return c.loop.closeConn(c)
}

func (c *Conn) read(target int, file bool) (pool.Buffer, int, error) {
	res, err := c.await(protocol.KindRead, target, file, func(l *Loop, ud uint64) error {
		return l.armRead(target, file, ud)
	})
	if err != nil {
		return pool.Buffer{}, 0, err
	}
	buf := c.sel
	c.sel = pool.Buffer{}
	switch {
	case res < 0:
		return pool.Buffer{}, 0, api.ResultError(opName(protocol.KindRead, file), target, res)
	case res == 0:
		return pool.Buffer{}, 0, io.EOF
	}
	return buf, int(res), nil
}

func (c *Conn) write(target int, file bool, buf pool.Buffer, n int) (int, error) {
	if c.closed {
		return 0, api.ErrConnClosed
	}
	if h, ok := c.held[buf.Index()]; !ok || h != buf {
		return 0, fmt.Errorf("reactor: write fd %d: %w", target, api.ErrForeignBuffer)
	}
	if n < 0 || n > buf.Cap() {
		return 0, fmt.Errorf("reactor: write %d bytes from %d byte buffer: %w", n, buf.Cap(), api.ErrInvalidArgument)
	}
	res, err := c.await(protocol.KindWrite, target, file, func(l *Loop, ud uint64) error {
		return l.armWrite(target, file, buf.Bytes()[:n], ud)
	})
	if err != nil {
		return 0, err
	}
	if err := c.release(buf); err != nil {
		return 0, err
	}
	if res < 0 {
		return 0, api.ResultError(opName(protocol.KindWrite, file), target, res)
	}
	return int(res), nil
}

// await arms one submission tagged with the connection descriptor and
// suspends until the loop resumes the task with its result. A nil error
// means the submission was armed and completed.
func (c *Conn) await(kind protocol.Kind, target int, file bool, arm func(*Loop, uint64) error) (int32, error) {
	if c.closed {
		return 0, api.ErrConnClosed
	}
	if c.pending {
		return 0, api.ErrOperationPending
	}
	tag, err := protocol.NewTag(kind, 0, c.fd)
	if err != nil {
		return 0, err
	}
	if err := arm(c.loop, tag.Encode()); err != nil {
		return 0, fmt.Errorf("reactor: arm %s: %w", kind, err)
	}
	c.pending = true
	c.op = pendingOp{tag: tag, target: target, file: file}
	c.res, c.failure = 0, nil

	c.loop = c.st.suspend()

	c.pending = false
	if c.failure != nil {
		err := c.failure
		c.failure = nil
		return 0, err
	}
	return c.res, nil
}

func (c *Conn) hold(b pool.Buffer) {
	if c.held == nil {
		c.held = make(map[int]pool.Buffer, 1)
	}
	c.held[b.Index()] = b
}

// release gives back one held buffer.
func (c *Conn) release(b pool.Buffer) error {
	delete(c.held, b.Index())
	return c.loop.reprovide(b, c.fd)
}

// releaseAll gives back every held buffer and reports the first failure.
func (c *Conn) releaseAll() error {
	var first error
	for idx, b := range c.held {
		delete(c.held, idx)
		if err := c.loop.reprovide(b, c.fd); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func opName(kind protocol.Kind, file bool) string {
	switch {
	case kind == protocol.KindRead && file:
		return "read"
	case kind == protocol.KindRead:
		return "recv"
	case kind == protocol.KindWrite && file:
		return "write"
	case kind == protocol.KindWrite:
		return "send"
	}
	return kind.String()
}
