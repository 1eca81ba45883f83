// File: internal/transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-independent factory for the kernel completion queue.

package transport

import (
	"github.com/momentics/hioload-uring/api"
	"github.com/sirupsen/logrus"
)

// NewQueue creates the completion queue suitable to the host platform with
// at least depth submission entries.
func NewQueue(depth uint32, log logrus.FieldLogger) (api.Queue, error) {
	return newQueueInternal(depth, log)
}
