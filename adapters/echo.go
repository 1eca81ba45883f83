// File: adapters/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package adapters

import (
	"errors"
	"io"

	"github.com/momentics/hioload-uring/reactor"
)

// EchoHandler writes every received buffer back until the peer closes.
func EchoHandler() reactor.HandlerFunc {
	return func(fd int) *reactor.Task {
		return reactor.NewTask(func(c *reactor.Conn) error {
			for {
				buf, n, err := c.ReadSocket()
				if errors.Is(err, io.EOF) {
					return c.Close()
				}
				if err != nil {
					return err
				}
				if _, err := c.WriteSocket(buf, n); err != nil {
					return err
				}
			}
		})
	}
}
