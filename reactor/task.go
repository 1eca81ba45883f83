// File: reactor/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Task is an owned, suspendable per-connection computation.
//
// The body runs on its own goroutine, but only between a resume hand-off from
// the loop and the next hand-back, so the loop and its tasks behave as one
// logical thread. All hand-offs go through unbuffered channels, which also
// order every memory access to loop state made by either side.

package reactor

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/momentics/hioload-uring/api"
)

// noCopy may be embedded into structs which must not be copied after first
// use. It is recognized by go vet's copylocks checker.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// HandlerFunc builds the task for a freshly accepted descriptor. The loop
// takes ownership of the returned task.
type HandlerFunc func(fd int) *Task

// PanicError is the error a task ends with when its body panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panic: %v", e.Value)
}

// Task is a move-only handle. Ownership passes with Move; the source is left
// invalid.
type Task struct {
	_  noCopy
	st *taskState
}

type taskState struct {
	body    func(*Conn) error
	conn    Conn // promise
	resume  chan *Loop
	yield   chan struct{}
	started bool
	done    bool
	err     error
}

// NewTask wraps body. It does not run until the loop first resumes it.
func NewTask(body func(*Conn) error) *Task {
	st := &taskState{
		body:   body,
		resume: make(chan *Loop),
		yield:  make(chan struct{}),
	}
	st.conn.st = st
	st.conn.fd = -1
	return &Task{st: st}
}

// Move transfers ownership to a new handle and invalidates t.
func (t *Task) Move() *Task {
	n := &Task{st: t.st}
	t.st = nil
	return n
}

// Valid reports whether t still owns a computation.
func (t *Task) Valid() bool { return t != nil && t.st != nil && t.st.body != nil }

// Done reports whether the body has returned.
func (t *Task) Done() bool { return t.st != nil && t.st.done }

// Err returns what the body ended with, nil while it runs.
func (t *Task) Err() error {
	if t.st == nil {
		return nil
	}
	return t.st.err
}

// Destroy tears the computation down. A suspended body is unwound: its
// deferred calls run before Destroy returns. t is invalid afterwards.
func (t *Task) Destroy() {
	st := t.st
	if st == nil {
		return
	}
	t.st = nil
	if st.started && !st.done {
		close(st.resume)
		<-st.yield
	}
}

func (t *Task) conn() *Conn { return &t.st.conn }

// run hands control to the task until it suspends or returns.
func (t *Task) run(l *Loop) error {
	if !t.Valid() {
		return api.ErrTaskInvalid
	}
	st := t.st
	if st.done {
		return api.ErrTaskDone
	}
	if !st.started {
		st.started = true
		go st.main()
	}
	st.resume <- l
	<-st.yield
	return nil
}

func (st *taskState) main() {
	defer func() {
		if p := recover(); p != nil {
			st.err = &PanicError{Value: p, Stack: debug.Stack()}
		}
		st.done = true
		st.yield <- struct{}{}
	}()
	l, ok := <-st.resume
	if !ok {
		runtime.Goexit()
	}
	st.conn.loop = l
	st.err = st.body(&st.conn)
}

// suspend gives control back to the loop and returns the loop that resumed
// the task. A destroyed task never returns from suspend.
func (st *taskState) suspend() *Loop {
	st.yield <- struct{}{}
	l, ok := <-st.resume
	if !ok {
		runtime.Goexit()
	}
	return l
}
