// File: adapters/http.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One request, one response, close. The response is staged in a pooled
// byte buffer and copied into the buffer the request arrived in, which is
// then written and given back to the group.

package adapters

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/momentics/hioload-uring/reactor"
	"github.com/valyala/bytebufferpool"
)

// Request is the parsed request line plus the raw bytes received.
type Request struct {
	Method string
	Target string
	Proto  string
	Raw    []byte
}

// Renderer writes the full response for req into w.
type Renderer func(req Request, w *bytebufferpool.ByteBuffer)

// ParseRequest reads the request line of raw. It reports false when raw
// holds no complete "METHOD target HTTP/x.y" line.
func ParseRequest(raw []byte) (Request, bool) {
	end := bytes.Index(raw, []byte("\r\n"))
	if end < 0 {
		return Request{}, false
	}
	parts := bytes.Split(raw[:end], []byte(" "))
	if len(parts) != 3 || len(parts[0]) == 0 || len(parts[1]) == 0 || !bytes.HasPrefix(parts[2], []byte("HTTP/")) {
		return Request{}, false
	}
	return Request{
		Method: string(parts[0]),
		Target: string(parts[1]),
		Proto:  string(parts[2]),
		Raw:    raw,
	}, true
}

// WriteResponse appends a complete HTTP/1.1 response with Connection: close.
func WriteResponse(w *bytebufferpool.ByteBuffer, status int, contentType string, body []byte) {
	w.B = append(w.B, "HTTP/1.1 "...)
	w.B = strconv.AppendInt(w.B, int64(status), 10)
	w.B = append(w.B, ' ')
	w.B = append(w.B, http.StatusText(status)...)
	w.B = append(w.B, "\r\nContent-Type: "...)
	w.B = append(w.B, contentType...)
	w.B = append(w.B, "\r\nContent-Length: "...)
	w.B = strconv.AppendInt(w.B, int64(len(body)), 10)
	w.B = append(w.B, "\r\nConnection: close\r\n\r\n"...)
	w.B = append(w.B, body...)
}

// DefaultRenderer answers every request with a short plain-text body.
func DefaultRenderer(req Request, w *bytebufferpool.ByteBuffer) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		WriteResponse(w, http.StatusMethodNotAllowed, "text/plain; charset=utf-8", nil)
		return
	}
	body := []byte("hello from hioload-uring: " + req.Target + "\n")
	if req.Method == http.MethodHead {
		body = nil
	}
	WriteResponse(w, http.StatusOK, "text/plain; charset=utf-8", body)
}

// HTTPHandler builds the per-connection task for render. A nil render uses
// DefaultRenderer.
func HTTPHandler(render Renderer) reactor.HandlerFunc {
	if render == nil {
		render = DefaultRenderer
	}
	return func(fd int) *reactor.Task {
		return reactor.NewTask(func(c *reactor.Conn) error {
			buf, n, err := c.ReadSocket()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}

			w := bytebufferpool.Get()
			defer bytebufferpool.Put(w)
			if req, ok := ParseRequest(buf.Bytes()[:n]); ok {
				render(req, w)
			} else {
				WriteResponse(w, http.StatusBadRequest, "text/plain; charset=utf-8", nil)
			}
			if w.Len() > buf.Cap() {
				w.Reset()
				WriteResponse(w, http.StatusInternalServerError, "text/plain; charset=utf-8", nil)
			}

			m := copy(buf.Bytes(), w.B)
			if _, err := c.WriteSocket(buf, m); err != nil {
				return err
			}
			return c.Close()
		})
	}
}
