// Package pool
// Author: momentics <momentics@gmail.com>
//
// Kernel-registered buffer group for hioload-uring.
// One contiguous arena is cut into fixed-size buffers, provided to the
// kernel as a single buffer group, and recycled one buffer at a time.
// Callers address buffers by handle (Buffer), never by raw address.
// See bufferpool.go for the state machine and arena_*.go for allocation.
package pool
