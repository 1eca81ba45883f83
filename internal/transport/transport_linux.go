//go:build linux
// +build linux

// File: internal/transport/transport_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"github.com/momentics/hioload-uring/api"
	"github.com/sirupsen/logrus"
)

func newQueueInternal(depth uint32, log logrus.FieldLogger) (api.Queue, error) {
	r, err := NewRing(depth, log)
	if err != nil {
		return nil, err
	}
	return r, nil
}
