//go:build !linux
// +build !linux

// File: affinity/affinity_other.go
// Author: momentics <momentics@gmail.com>

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-uring/api"
)

func pinPlatform(cpuID int) error {
	return fmt.Errorf("affinity: %s: %w", runtime.GOOS, api.ErrNotSupported)
}

func unpinPlatform() error { return nil }
