//go:build !linux
// +build !linux

// File: pool/arena_other.go
// Author: momentics <momentics@gmail.com>
//
// Heap-backed arena for platforms without io_uring; used by the fake queue.

package pool

func allocArena(size int) ([]byte, func() error, error) {
	mem := make([]byte, size)
	return mem, func() error { return nil }, nil
}
