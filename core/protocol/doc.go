// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the correlation tag carried as io_uring user data.
//
// The kernel completion record holds only a result code, flags and one
// opaque 64-bit value, so everything the loop needs to route a completion
// back to its task and buffer is packed into that value:
//   - bits  0..15: operation kind
//   - bits 16..31: buffer index
//   - bits 32..63: connection descriptor
package protocol
