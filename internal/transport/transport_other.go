//go:build !linux
// +build !linux

// File: internal/transport/transport_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-uring/api"
	"github.com/sirupsen/logrus"
)

func newQueueInternal(depth uint32, log logrus.FieldLogger) (api.Queue, error) {
	return nil, fmt.Errorf("io_uring on %s: %w", runtime.GOOS, api.ErrNotSupported)
}
