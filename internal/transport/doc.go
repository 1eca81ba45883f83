// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Kernel completion queue for hioload-uring.
// Ring is a raw io_uring instance driven through golang.org/x/sys/unix:
// mapped SQ/CQ rings, provided-buffer groups, accept/recv/send/read/write/openat
// submissions and feature probing. Non-Linux builds only report
// api.ErrNotSupported.

package transport
