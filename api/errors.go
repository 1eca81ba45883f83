// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-uring.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// Common errors used across the library.
var (
	ErrQueueClosed       = errors.New("completion queue is closed")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNotSupported      = errors.New("operation not supported")
	ErrAlreadyExists     = errors.New("resource already exists")

	// ErrNoBuffers is delivered to a task whose read could not be served from
	// the buffer group and could not be parked.
	ErrNoBuffers = errors.New("buffer group exhausted")
	// ErrBufferState reports an illegal buffer transition, e.g. a double
	// re-provide or a checkout of a buffer the kernel does not own.
	ErrBufferState = errors.New("illegal buffer state transition")
	// ErrForeignBuffer reports a buffer handle not held by the calling task.
	ErrForeignBuffer = errors.New("buffer not held by task")
	// ErrOperationPending reports a second awaitable armed before the first resumed.
	ErrOperationPending = errors.New("operation already pending")
	// ErrConnClosed is returned by awaitables after the connection was closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrTaskInvalid is returned by operations on a moved-from or destroyed task.
	ErrTaskInvalid = errors.New("invalid task handle")
	// ErrTaskDone is returned when resuming a task whose body has returned.
	ErrTaskDone = errors.New("task already completed")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeInvalidArgument ErrorCode = iota + 1
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the wrapped sentinel, if any.
func (e *Error) Unwrap() error { return e.cause }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause sets the error returned by Unwrap.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// OpError is the failure a kernel completion reported for one operation.
type OpError struct {
	Op  string
	FD  int
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s fd=%d: %v", e.Op, e.FD, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// ResultError converts a negative completion result into an *OpError.
// Non-negative results yield nil.
func ResultError(op string, fd int, res int32) error {
	if res >= 0 {
		return nil
	}
	return &OpError{Op: op, FD: fd, Err: syscall.Errno(-res)}
}
