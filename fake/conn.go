// File: fake/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"net/netip"
	"syscall"
)

// Conn is the client side of a connection on a fake Ring.
type Conn struct {
	ring     *Ring
	fd       int
	peer     netip.AddrPort
	inbound  [][]byte
	eof      bool
	output   []byte
	writeErr syscall.Errno
	shut     bool
}

// FD returns the server-side descriptor of the connection.
func (c *Conn) FD() int { return c.fd }

// Peer returns the address reported to accept.
func (c *Conn) Peer() netip.AddrPort { return c.peer }

// Send queues p for the server to receive. Each call is delivered by at most
// one read; a read smaller than p leaves the rest queued.
func (c *Conn) Send(p []byte) {
	c.ring.mu.Lock()
	defer c.ring.mu.Unlock()
	c.inbound = append(c.inbound, append([]byte(nil), p...))
}

// CloseWrite makes server reads return 0 once queued data is consumed.
func (c *Conn) CloseWrite() {
	c.ring.mu.Lock()
	defer c.ring.mu.Unlock()
	c.eof = true
}

// FailWrites makes later sends to the server side fail with -errno.
func (c *Conn) FailWrites(errno syscall.Errno) {
	c.ring.mu.Lock()
	defer c.ring.mu.Unlock()
	c.writeErr = errno
}

// Output returns a copy of everything the server sent.
func (c *Conn) Output() []byte {
	c.ring.mu.Lock()
	defer c.ring.mu.Unlock()
	return append([]byte(nil), c.output...)
}

// Closed reports whether the server shut the connection down.
func (c *Conn) Closed() bool {
	c.ring.mu.Lock()
	defer c.ring.mu.Unlock()
	return c.shut
}

func (c *Conn) readable() bool { return len(c.inbound) > 0 || c.eof }

func (c *Conn) read(p []byte) int {
	if len(c.inbound) == 0 {
		return 0
	}
	n := copy(p, c.inbound[0])
	if n == len(c.inbound[0]) {
		c.inbound = c.inbound[1:]
	} else {
		c.inbound[0] = c.inbound[0][n:]
	}
	return n
}
