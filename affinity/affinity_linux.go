//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific implementation for setting thread CPU affinity.

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-uring/api"
	"golang.org/x/sys/unix"
)

var saved *unix.CPUSet

func pinPlatform(cpuID int) error {
	if cpuID < 0 {
		return fmt.Errorf("affinity: cpu %d: %w", cpuID, api.ErrInvalidArgument)
	}
	runtime.LockOSThread()
	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("affinity: sched_getaffinity: %w", err)
	}
	var set unix.CPUSet
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("affinity: sched_setaffinity cpu %d: %w", cpuID, err)
	}
	saved = &prev
	return nil
}

func unpinPlatform() error {
	if saved == nil {
		return nil
	}
	err := unix.SchedSetaffinity(0, saved)
	saved = nil
	runtime.UnlockOSThread()
	if err != nil {
		return fmt.Errorf("affinity: restore: %w", err)
	}
	return nil
}
