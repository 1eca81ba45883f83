//go:build linux
// +build linux

// File: pool/arena_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux arena allocation: one anonymous private mapping outside the Go heap,
// so the kernel can write into it while a read is in flight.

package pool

import "golang.org/x/sys/unix"

func allocArena(size int) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}
