// File: reactor/dispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion dispatch. Every completion is decoded and matched exhaustively
// on its kind; an error returned from here stops the loop.

package reactor

import (
	"fmt"
	"sync/atomic"
	"syscall"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/core/protocol"
	"github.com/sirupsen/logrus"
)

func (l *Loop) dispatch(c api.Completion) error {
	tag, err := protocol.Decode(c.UserData)
	if err != nil {
		return fmt.Errorf("reactor: completion res=%d: %w", c.Res, err)
	}
	l.trace(tag, c)

	switch tag.Kind {
	case protocol.KindProvideBuffer:
		return l.onProvide(tag, c)
	case protocol.KindAccept:
		return l.onAccept(c)
	case protocol.KindRead:
		return l.onRead(tag, c)
	case protocol.KindWrite:
		return l.onResult(tag, c, &l.counters.Writes)
	case protocol.KindOpen:
		return l.onResult(tag, c, &l.counters.Opens)
	default:
		return fmt.Errorf("reactor: %w: %s", protocol.ErrUnknownKind, tag.Kind)
	}
}

func (l *Loop) trace(tag protocol.Tag, c api.Completion) {
	switch lg := l.log.(type) {
	case *logrus.Logger:
		if !lg.IsLevelEnabled(logrus.DebugLevel) {
			return
		}
	case *logrus.Entry:
		if !lg.Logger.IsLevelEnabled(logrus.DebugLevel) {
			return
		}
	}
	l.log.WithFields(logrus.Fields{
		"kind":  tag.Kind.String(),
		"fd":    tag.FD,
		"bid":   tag.Index,
		"res":   c.Res,
		"flags": c.Flags,
	}).Debug("reactor: completion")
}

func (l *Loop) onProvide(tag protocol.Tag, c api.Completion) error {
	if c.Res < 0 {
		return fmt.Errorf("reactor: re-provide buffer %d: %w", tag.Index,
			api.ResultError("provide_buffers", int(tag.FD), c.Res))
	}
	if err := l.pool.MarkProvided(int(tag.Index)); err != nil {
		return err
	}
	return l.releaseParked()
}

func (l *Loop) onAccept(c api.Completion) error {
	peer := decodeSockaddr(&l.peer)
	if err := l.armAccept(); err != nil {
		return fmt.Errorf("reactor: re-arm accept: %w", err)
	}
	if c.Res < 0 {
		l.counters.AcceptErrors.Add(1)
		l.log.WithError(api.ResultError("accept", l.listenFD, c.Res)).Warn("reactor: accept failed")
		return nil
	}
	fd := int(c.Res)
	t := l.handler(fd)
	if !t.Valid() {
		l.log.WithField("fd", fd).Error("reactor: handler returned no task")
		_ = l.queue.Shutdown(fd)
		return nil
	}
	t = t.Move()
	if err := l.conns.Insert(fd, t); err != nil {
		t.Destroy()
		_ = l.queue.Shutdown(fd)
		return fmt.Errorf("reactor: accepted fd %d: %w", fd, err)
	}
	conn := t.conn()
	conn.fd = fd
	conn.peer = peer
	l.counters.Accepted.Add(1)
	l.counters.Active.Add(1)
	l.log.WithFields(logrus.Fields{"fd": fd, "peer": peer.String()}).Debug("reactor: accepted")
	return l.resume(t)
}

func (l *Loop) onRead(tag protocol.Tag, c api.Completion) error {
	t, conn, ok := l.lookup(tag)
	if !ok {
		return l.orphan(tag, c)
	}
	if -c.Res == int32(syscall.ENOBUFS) {
		return l.exhausted(t, conn)
	}
	l.counters.Reads.Add(1)
	if bid, ok := c.BufferID(); ok {
		b, err := l.pool.Checkout(int(bid))
		if err != nil {
			return fmt.Errorf("reactor: read fd %d selected buffer %d: %w", tag.FD, bid, err)
		}
		if c.Res > 0 {
			conn.hold(b)
			conn.sel = b
		} else if err := l.reprovide(b, conn.fd); err != nil {
			return err
		}
	}
	conn.res = c.Res
	return l.resume(t)
}

func (l *Loop) onResult(tag protocol.Tag, c api.Completion, counter *atomic.Uint64) error {
	t, conn, ok := l.lookup(tag)
	if !ok {
		return l.orphan(tag, c)
	}
	counter.Add(1)
	conn.res = c.Res
	return l.resume(t)
}

// lookup finds the task a completion is routed to. Completions whose kind
// does not match the task's pending operation are treated as unroutable.
func (l *Loop) lookup(tag protocol.Tag) (*Task, *Conn, bool) {
	t, ok := l.conns.Get(int(tag.FD))
	if !ok {
		return nil, nil, false
	}
	conn := t.conn()
	if !conn.pending || conn.op.tag.Kind != tag.Kind {
		return nil, nil, false
	}
	return t, conn, true
}

// orphan handles a completion no live task waits for. A buffer it selected
// is given back so the group does not shrink.
func (l *Loop) orphan(tag protocol.Tag, c api.Completion) error {
	l.counters.Orphans.Add(1)
	l.log.WithFields(logrus.Fields{
		"kind": tag.Kind.String(),
		"fd":   tag.FD,
		"res":  c.Res,
	}).Warn("reactor: completion for unknown connection")
	bid, ok := c.BufferID()
	if !ok {
		return nil
	}
	b, err := l.pool.Checkout(int(bid))
	if err != nil {
		return fmt.Errorf("reactor: orphan completion selected buffer %d: %w", bid, err)
	}
	return l.reprovide(b, -1)
}

// exhausted applies the exhaustion policy to a read that found the group empty.
func (l *Loop) exhausted(t *Task, conn *Conn) error {
	l.counters.NoBuffers.Add(1)
	if l.cfg.Exhaustion == ExhaustionDefer && l.parked.Length() < l.cfg.MaxDeferredReads {
		l.parked.Add(t)
		l.counters.Deferred.Add(1)
		l.log.WithFields(logrus.Fields{
			"fd":     conn.fd,
			"parked": l.parked.Length(),
		}).Debug("reactor: buffer group empty, read parked")
		return nil
	}
	l.log.WithField("fd", conn.fd).Warn("reactor: buffer group empty, read failed")
	conn.failure = &api.OpError{Op: opName(protocol.KindRead, conn.op.file), FD: conn.op.target, Err: api.ErrNoBuffers}
	return l.resume(t)
}

// releaseParked re-arms the oldest parked read whose task is still live.
func (l *Loop) releaseParked() error {
	for l.parked.Length() > 0 {
		t := l.parked.Remove().(*Task)
		if !t.Valid() || t.Done() {
			continue
		}
		conn := t.conn()
		if err := l.armRead(conn.op.target, conn.op.file, conn.op.tag.Encode()); err != nil {
			conn.failure = fmt.Errorf("reactor: re-arm parked read: %w", err)
			return l.resume(t)
		}
		return nil
	}
	return nil
}
