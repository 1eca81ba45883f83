// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Descriptor keyed registry owned by one event loop.

package session

import (
	"fmt"

	"github.com/momentics/hioload-uring/api"
)

// Registry maps connection descriptors to their owner.
type Registry[T any] struct {
	entries map[int]T
}

// NewRegistry sizes the registry for hint concurrent connections.
func NewRegistry[T any](hint int) *Registry[T] {
	if hint < 0 {
		hint = 0
	}
	return &Registry[T]{entries: make(map[int]T, hint)}
}

// Insert adds the owner of fd. A descriptor may appear at most once.
func (r *Registry[T]) Insert(fd int, v T) error {
	if _, ok := r.entries[fd]; ok {
		return fmt.Errorf("session: fd %d: %w", fd, api.ErrAlreadyExists)
	}
	r.entries[fd] = v
	return nil
}

// Get fetches the owner of fd.
func (r *Registry[T]) Get(fd int) (T, bool) {
	v, ok := r.entries[fd]
	return v, ok
}

// Delete removes fd and reports whether it was present.
func (r *Registry[T]) Delete(fd int) bool {
	if _, ok := r.entries[fd]; !ok {
		return false
	}
	delete(r.entries, fd)
	return true
}

// Len returns the number of registered descriptors.
func (r *Registry[T]) Len() int { return len(r.entries) }

// Range calls fn for every entry until it returns false.
// fn must not mutate the registry.
func (r *Registry[T]) Range(fn func(fd int, v T) bool) {
	for fd, v := range r.entries {
		if !fn(fd, v) {
			return
		}
	}
}

// Descriptors returns the registered descriptors in no particular order.
func (r *Registry[T]) Descriptors() []int {
	out := make([]int, 0, len(r.entries))
	for fd := range r.entries {
		out = append(out, fd)
	}
	return out
}
