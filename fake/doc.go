// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Ring is an in-memory api.Queue with kernel-like semantics for accept,
// buffer-selecting reads, provided buffer groups and -ENOBUFS, so the event
// loop can be exercised without io_uring.

package fake
