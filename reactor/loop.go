// File: reactor/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion event loop: construction, stepping and teardown.

package reactor

import (
	"errors"
	"fmt"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/control"
	"github.com/momentics/hioload-uring/core/protocol"
	"github.com/momentics/hioload-uring/internal/session"
	"github.com/momentics/hioload-uring/pool"
	"github.com/sirupsen/logrus"
)

// Loop is not safe for concurrent use. Run it from one goroutine.
type Loop struct {
	cfg      Config
	queue    api.Queue
	listenFD int
	handler  HandlerFunc

	pool   *pool.Pool
	conns  *session.Registry[*Task]
	parked *queue.Queue // of *Task waiting for a buffer
	peer   api.Sockaddr // filled by the armed accept
	cqes   []api.Completion

	log         logrus.FieldLogger
	counters    *control.Counters
	onTaskError func(fd int, err error)
	closed      bool
}

// Stats is a point-in-time view of the loop.
type Stats struct {
	Active int
	Parked int
	Pool   pool.Stats
}

// New builds a loop over q accepting on listenFD. It allocates the buffer
// group, provides it to the kernel and waits for that to complete, then arms
// the first accept. The loop owns q from now on.
func New(q api.Queue, listenFD int, handler HandlerFunc, opts ...Option) (*Loop, error) {
	if q == nil || handler == nil || listenFD < 0 {
		return nil, fmt.Errorf("reactor: queue, handler and listener are required: %w", api.ErrInvalidArgument)
	}
	l := &Loop{
		cfg:      DefaultConfig(),
		queue:    q,
		listenFD: listenFD,
		handler:  handler,
		parked:   queue.New(),
		log:      logrus.StandardLogger(),
		counters: control.NewCounters(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.cfg.Validate(); err != nil {
		return nil, err
	}
	l.conns = session.NewRegistry[*Task](l.cfg.BufferCount)
	l.cqes = make([]api.Completion, l.cfg.BatchSize)

	p, err := pool.New(pool.Config{Count: l.cfg.BufferCount, Size: l.cfg.MessageSize, Group: l.cfg.BufferGroup})
	if err != nil {
		return nil, err
	}
	l.pool = p
	if err := l.provideAll(); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := l.armAccept(); err != nil {
		_ = p.Close()
		return nil, err
	}
	l.log.WithFields(logrus.Fields{
		"listen_fd":    listenFD,
		"buffers":      l.cfg.BufferCount,
		"message_size": l.cfg.MessageSize,
		"group":        l.cfg.BufferGroup,
		"exhaustion":   l.cfg.Exhaustion.String(),
	}).Info("reactor: loop ready")
	return l, nil
}

func (l *Loop) provideAll() error {
	tag := protocol.Tag{Kind: protocol.KindProvideBuffer}
	if err := l.pool.Register(l.queue, tag.Encode()); err != nil {
		return err
	}
	if _, err := l.queue.SubmitAndWait(1); err != nil {
		return fmt.Errorf("reactor: provide buffer group: %w", err)
	}
	var c [1]api.Completion
	if l.queue.Peek(c[:]) != 1 {
		return fmt.Errorf("reactor: provide buffer group: no completion: %w", api.ErrInvalidArgument)
	}
	l.queue.Advance(1)
	if c[0].UserData != tag.Encode() {
		return fmt.Errorf("reactor: provide buffer group: unexpected completion %#x: %w", c[0].UserData, api.ErrInvalidArgument)
	}
	if err := api.ResultError("provide_buffers", -1, c[0].Res); err != nil {
		return fmt.Errorf("reactor: provide buffer group %d: %w", l.cfg.BufferGroup, err)
	}
	return l.pool.MarkAllProvided()
}

// Config returns the effective configuration.
func (l *Loop) Config() Config { return l.cfg }

// Counters returns the loop counters; safe to read from any goroutine.
func (l *Loop) Counters() *control.Counters { return l.counters }

// Pool exposes the buffer group.
func (l *Loop) Pool() *pool.Pool { return l.pool }

// Connections returns the descriptors of live connections.
func (l *Loop) Connections() []int { return l.conns.Descriptors() }

// Stats reports the loop state.
func (l *Loop) Stats() Stats {
	return Stats{Active: l.conns.Len(), Parked: l.parked.Length(), Pool: l.pool.Stats()}
}

// Run steps the loop until a step fails.
func (l *Loop) Run() error {
	for {
		if err := l.Step(); err != nil {
			return err
		}
	}
}

// Step submits pending operations, waits for at least one completion and
// dispatches every completion that is ready, in order.
func (l *Loop) Step() error {
	if l.closed {
		return api.ErrQueueClosed
	}
	if _, err := l.queue.SubmitAndWait(1); err != nil {
		return fmt.Errorf("reactor: submit: %w", err)
	}
	n := l.queue.Peek(l.cqes)
	for i := 0; i < n; i++ {
		if err := l.dispatch(l.cqes[i]); err != nil {
			l.queue.Advance(i + 1)
			return err
		}
	}
	l.queue.Advance(n)
	return nil
}

// Close destroys every task, then closes the queue and frees the group.
// Nothing is drained.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	owned := make(map[int]*Task, l.conns.Len())
	l.conns.Range(func(fd int, t *Task) bool {
		owned[fd] = t
		return true
	})
	for fd, t := range owned {
		l.conns.Delete(fd)
		t.Destroy()
		if err := l.queue.Shutdown(fd); err != nil {
			l.log.WithError(err).WithField("fd", fd).Debug("reactor: shutdown on close")
		}
	}
	l.counters.Active.Store(0)
	l.parked = queue.New()
	err := l.queue.Close()
	if perr := l.pool.Close(); err == nil {
		err = perr
	}
	return err
}

func (l *Loop) armAccept() error {
	tag := protocol.Tag{Kind: protocol.KindAccept, FD: int32(l.listenFD)}
	return l.queue.PrepareAccept(l.listenFD, &l.peer, tag.Encode())
}

func (l *Loop) armRead(fd int, file bool, ud uint64) error {
	length := uint32(l.pool.BufferSize())
	if file {
		return l.queue.PrepareRead(fd, l.pool.Group(), length, ud)
	}
	return l.queue.PrepareRecv(fd, l.pool.Group(), length, ud)
}

func (l *Loop) armWrite(fd int, file bool, p []byte, ud uint64) error {
	if file {
		return l.queue.PrepareWrite(fd, p, ud)
	}
	return l.queue.PrepareSend(fd, p, ud)
}

func (l *Loop) reprovide(b pool.Buffer, fd int) error {
	tag := protocol.Tag{Kind: protocol.KindProvideBuffer, Index: uint16(b.Index())}
	if fd >= 0 {
		tag.FD = int32(fd)
	}
	if err := l.pool.Reprovide(l.queue, b, tag.Encode()); err != nil {
		return err
	}
	l.counters.Reprovided.Add(1)
	return nil
}

// closeConn shuts c down, drops it from the registry and gives back its
// buffers. The task itself is destroyed by retire.
func (l *Loop) closeConn(c *Conn) error {
	err := l.queue.Shutdown(c.fd)
	if l.conns.Delete(c.fd) {
		l.counters.Active.Add(-1)
	}
	if rerr := c.releaseAll(); rerr != nil {
		err = errors.Join(err, rerr)
	}
	l.log.WithField("fd", c.fd).Debug("reactor: connection closed")
	return err
}

// resume runs t to its next suspension and retires it if its body returned.
func (l *Loop) resume(t *Task) error {
	if err := t.run(l); err != nil {
		return err
	}
	if t.Done() {
		l.retire(t)
	}
	return nil
}

func (l *Loop) retire(t *Task) {
	c := t.conn()
	if !c.closed {
		c.closed = true
		if err := l.closeConn(c); err != nil {
			l.log.WithError(err).WithField("fd", c.fd).Warn("reactor: closing finished task")
		}
	}
	if err := t.Err(); err != nil {
		l.counters.TaskErrors.Add(1)
		entry := l.log.WithError(err).WithField("fd", c.fd)
		var pe *PanicError
		if errors.As(err, &pe) {
			entry = entry.WithField("stack", string(pe.Stack))
		}
		entry.Error("reactor: task failed")
		if l.onTaskError != nil {
			l.onTaskError(c.fd, err)
		}
	}
	t.Destroy()
}
