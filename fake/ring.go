// File: fake/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"syscall"

	"github.com/momentics/hioload-uring/api"
)

// ErrIdle is returned by SubmitAndWait when a wait was requested but no
// completion can ever become ready without outside input.
var ErrIdle = errors.New("fake: no completion ready")

type opKind uint8

const (
	opAccept opKind = iota
	opRecv
	opRead
	opSend
	opWrite
	opOpen
	opProvide
)

type op struct {
	kind     opKind
	fd       int
	group    uint16
	length   uint32
	buf      []byte
	peer     *api.Sockaddr
	path     string
	flags    int
	start    uint16
	count    int
	size     int
	userData uint64
}

type bufRef struct {
	id  uint16
	mem []byte
}

type group struct {
	avail    []bufRef
	provided map[uint16]int
}

type listener struct {
	backlog []*Conn
}

type file struct {
	data []byte
}

// openFile is one descriptor on a file with its own offset.
type openFile struct {
	*file
	pos int
}

// Ring is an in-memory completion queue. It is safe for use from several
// goroutines; tests typically drive clients from the test goroutine while the
// loop steps.
type Ring struct {
	mu         sync.Mutex
	nextFD     int
	listeners  map[int]*listener
	conns      map[int]*Conn
	files      map[int]*openFile
	paths      map[string]*file
	groups     map[uint16]*group
	staged     []op
	parked     []op
	ready      []api.Completion
	injected   []api.Completion
	shutdowns  []int
	violations []string
	provideErr syscall.Errno
	submitted  int
	closed     bool
}

var _ api.Queue = (*Ring)(nil)

// NewRing creates an empty ring.
func NewRing() *Ring {
	return &Ring{
		nextFD:    100,
		listeners: make(map[int]*listener),
		conns:     make(map[int]*Conn),
		files:     make(map[int]*openFile),
		paths:     make(map[string]*file),
		groups:    make(map[uint16]*group),
	}
}

// Listen returns a new listening descriptor.
func (r *Ring) Listen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd := r.allocFD()
	r.listeners[fd] = &listener{}
	return fd
}

// Connect queues a client on the listener. Its descriptor is reserved now
// and handed out by the accept that takes it off the backlog.
func (r *Ring) Connect(lfd int, peer netip.AddrPort) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Conn{ring: r, fd: r.allocFD(), peer: peer}
	if l, ok := r.listeners[lfd]; ok {
		l.backlog = append(l.backlog, c)
	}
	return c
}

// AddFile makes path openable through PrepareOpen.
func (r *Ring) AddFile(path string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[path] = &file{data: append([]byte(nil), data...)}
}

// FileData returns a copy of the contents of path.
func (r *Ring) FileData(path string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.paths[path]; ok {
		return append([]byte(nil), f.data...)
	}
	return nil
}

// Inject queues a raw completion, delivered on the next SubmitAndWait.
func (r *Ring) Inject(c api.Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.injected = append(r.injected, c)
}

// FailProvides makes every later provide complete with -errno. Zero restores success.
func (r *Ring) FailProvides(errno syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provideErr = errno
}

// ProvideCount reports how many times bid was provided to group.
func (r *Ring) ProvideCount(g uint16, bid uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if grp, ok := r.groups[g]; ok {
		return grp.provided[bid]
	}
	return 0
}

// Available reports how many buffers the group can still hand out.
func (r *Ring) Available(g uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if grp, ok := r.groups[g]; ok {
		return len(grp.avail)
	}
	return 0
}

// Violations lists protocol misuse seen so far, such as a buffer provided
// while the group still held it.
func (r *Ring) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.violations...)
}

// Shutdowns lists descriptors passed to Shutdown, in order.
func (r *Ring) Shutdowns() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.shutdowns...)
}

// Parked reports the number of submitted operations waiting for input.
func (r *Ring) Parked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parked)
}

// Submitted reports the total number of submissions accepted.
func (r *Ring) Submitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submitted
}

func (r *Ring) allocFD() int {
	fd := r.nextFD
	r.nextFD++
	return fd
}

func (r *Ring) stage(o op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return api.ErrQueueClosed
	}
	r.staged = append(r.staged, o)
	return nil
}

func (r *Ring) PrepareAccept(fd int, peer *api.Sockaddr, userData uint64) error {
	return r.stage(op{kind: opAccept, fd: fd, peer: peer, userData: userData})
}

func (r *Ring) PrepareRecv(fd int, group uint16, length uint32, userData uint64) error {
	return r.stage(op{kind: opRecv, fd: fd, group: group, length: length, userData: userData})
}

func (r *Ring) PrepareRead(fd int, group uint16, length uint32, userData uint64) error {
	return r.stage(op{kind: opRead, fd: fd, group: group, length: length, userData: userData})
}

func (r *Ring) PrepareSend(fd int, buf []byte, userData uint64) error {
	return r.stage(op{kind: opSend, fd: fd, buf: append([]byte(nil), buf...), userData: userData})
}

func (r *Ring) PrepareWrite(fd int, buf []byte, userData uint64) error {
	return r.stage(op{kind: opWrite, fd: fd, buf: append([]byte(nil), buf...), userData: userData})
}

func (r *Ring) PrepareOpen(path string, flags int, mode uint32, userData uint64) error {
	return r.stage(op{kind: opOpen, path: path, flags: flags, userData: userData})
}

func (r *Ring) PrepareProvideBuffers(g uint16, startID uint16, count int, size int, mem []byte, userData uint64) error {
	if count <= 0 || size <= 0 || len(mem) < count*size {
		return fmt.Errorf("fake: provide %d x %d from %d bytes: %w", count, size, len(mem), api.ErrInvalidArgument)
	}
	return r.stage(op{kind: opProvide, group: g, start: startID, count: count, size: size, buf: mem, userData: userData})
}

// SubmitAndWait executes staged operations, then retries parked ones. When a
// wait is requested and nothing is ready it fails with ErrIdle instead of
// blocking.
func (r *Ring) SubmitAndWait(minComplete uint32) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, api.ErrQueueClosed
	}
	staged := r.staged
	r.staged = nil
	r.submitted += len(staged)
	for _, o := range staged {
		if !r.execute(o) {
			r.parked = append(r.parked, o)
		}
	}
	r.pump()
	r.ready = append(r.ready, r.injected...)
	r.injected = nil
	if minComplete > 0 && len(r.ready) == 0 {
		return len(staged), ErrIdle
	}
	return len(staged), nil
}

func (r *Ring) pump() {
	for progress := true; progress; {
		progress = false
		parked := r.parked
		r.parked = nil
		for _, o := range parked {
			if r.execute(o) {
				progress = true
			} else {
				r.parked = append(r.parked, o)
			}
		}
	}
}

func (r *Ring) complete(userData uint64, res int32, flags uint32) {
	r.ready = append(r.ready, api.Completion{UserData: userData, Res: res, Flags: flags})
}

func (r *Ring) fail(userData uint64, errno syscall.Errno) {
	r.complete(userData, -int32(errno), 0)
}

// execute runs o and reports whether it completed.
func (r *Ring) execute(o op) bool {
	switch o.kind {
	case opProvide:
		if r.provideErr != 0 {
			r.fail(o.userData, r.provideErr)
			return true
		}
		grp := r.group(o.group)
		for i := 0; i < o.count; i++ {
			id := o.start + uint16(i)
			for _, b := range grp.avail {
				if b.id == id {
					r.violations = append(r.violations, fmt.Sprintf("group %d: buffer %d provided twice", o.group, id))
				}
			}
			grp.avail = append(grp.avail, bufRef{id: id, mem: o.buf[i*o.size : (i+1)*o.size]})
			grp.provided[id]++
		}
		r.complete(o.userData, 0, 0)
		return true

	case opAccept:
		l, ok := r.listeners[o.fd]
		if !ok {
			r.fail(o.userData, syscall.EBADF)
			return true
		}
		if len(l.backlog) == 0 {
			return false
		}
		c := l.backlog[0]
		l.backlog = l.backlog[1:]
		r.conns[c.fd] = c
		if o.peer != nil {
			encodeSockaddr(o.peer, c.peer)
		}
		r.complete(o.userData, int32(c.fd), 0)
		return true

	case opRecv, opRead:
		src, ok := r.source(o.fd)
		if !ok {
			r.fail(o.userData, syscall.EBADF)
			return true
		}
		if !src.readable() {
			return false
		}
		grp := r.group(o.group)
		if len(grp.avail) == 0 {
			r.fail(o.userData, syscall.ENOBUFS)
			return true
		}
		b := grp.avail[0]
		grp.avail = grp.avail[1:]
		limit := int(o.length)
		if limit > len(b.mem) {
			limit = len(b.mem)
		}
		n := src.read(b.mem[:limit])
		r.complete(o.userData, int32(n), api.CQEFBuffer|uint32(b.id)<<api.CQEBufferShift)
		return true

	case opSend, opWrite:
		if c, ok := r.conns[o.fd]; ok {
			if c.shut {
				r.fail(o.userData, syscall.EPIPE)
			} else if c.writeErr != 0 {
				r.fail(o.userData, c.writeErr)
			} else {
				c.output = append(c.output, o.buf...)
				r.complete(o.userData, int32(len(o.buf)), 0)
			}
			return true
		}
		if f, ok := r.files[o.fd]; ok {
			end := f.pos + len(o.buf)
			if end > len(f.data) {
				f.data = append(f.data, make([]byte, end-len(f.data))...)
			}
			copy(f.data[f.pos:], o.buf)
			f.pos = end
			r.complete(o.userData, int32(len(o.buf)), 0)
			return true
		}
		r.fail(o.userData, syscall.EBADF)
		return true

	case opOpen:
		f, ok := r.paths[o.path]
		if !ok {
			if o.flags&syscall.O_CREAT == 0 {
				r.fail(o.userData, syscall.ENOENT)
				return true
			}
			f = &file{}
			r.paths[o.path] = f
		}
		fd := r.allocFD()
		r.files[fd] = &openFile{file: f}
		if o.flags&syscall.O_TRUNC != 0 {
			f.data = f.data[:0]
		}
		r.complete(o.userData, int32(fd), 0)
		return true
	}
	r.fail(o.userData, syscall.EINVAL)
	return true
}

func (r *Ring) group(g uint16) *group {
	grp, ok := r.groups[g]
	if !ok {
		grp = &group{provided: make(map[uint16]int)}
		r.groups[g] = grp
	}
	return grp
}

type source interface {
	readable() bool
	read(p []byte) int
}

func (r *Ring) source(fd int) (source, bool) {
	if c, ok := r.conns[fd]; ok && !c.shut {
		return c, true
	}
	if f, ok := r.files[fd]; ok {
		return f, true
	}
	return nil, false
}

func (f *openFile) readable() bool { return true }

func (f *openFile) read(p []byte) int {
	n := copy(p, f.data[f.pos:])
	f.pos += n
	return n
}

// Peek copies ready completions without consuming them.
func (r *Ring) Peek(dst []api.Completion) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copy(dst, r.ready)
}

// Advance consumes n completions.
func (r *Ring) Advance(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.ready) {
		n = len(r.ready)
	}
	r.ready = r.ready[n:]
}

// Shutdown records fd and drops every operation parked on it.
func (r *Ring) Shutdown(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdowns = append(r.shutdowns, fd)
	kept := r.parked[:0]
	for _, o := range r.parked {
		if o.fd != fd {
			kept = append(kept, o)
		}
	}
	r.parked = kept
	if c, ok := r.conns[fd]; ok {
		c.shut = true
		delete(r.conns, fd)
		return nil
	}
	if _, ok := r.files[fd]; ok {
		delete(r.files, fd)
		return nil
	}
	return fmt.Errorf("shutdown fd %d: %w", fd, syscall.EBADF)
}

// Close abandons every in-flight operation.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.staged, r.parked, r.ready = nil, nil, nil
	return nil
}

func encodeSockaddr(sa *api.Sockaddr, peer netip.AddrPort) {
	*sa = api.Sockaddr{}
	addr := peer.Addr()
	binary.BigEndian.PutUint16(sa.Raw[2:4], peer.Port())
	if addr.Is4() {
		binary.NativeEndian.PutUint16(sa.Raw[0:2], api.AFInet)
		a := addr.As4()
		copy(sa.Raw[4:8], a[:])
		sa.Len = 16
		return
	}
	binary.NativeEndian.PutUint16(sa.Raw[0:2], api.AFInet6)
	a := addr.As16()
	copy(sa.Raw[8:24], a[:])
	sa.Len = 28
}
