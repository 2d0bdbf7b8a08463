package notify

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sseWriteTimeout = 10 * time.Second

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	rc      *http.ResponseController
	log     *zap.Logger
	closed  bool
	last    time.Time
}

func NewSSEClient(writer io.Writer, flusher http.Flusher, log *zap.Logger) *SSEClient {
	c := &SSEClient{writer: writer, flusher: flusher, log: log, last: time.Now().UTC()}
	if w, ok := writer.(http.ResponseWriter); ok {
		c.rc = http.NewResponseController(w)
	}
	return c
}

// write runs one framed write under a deadline, so a reader that stopped
// reading fails the send instead of blocking it. The deadline is cleared
// again afterwards since the stream idles between heartbeats.
func (c *SSEClient) write(frame func(io.Writer) error) error {
	if c.closed {
		return io.EOF
	}
	if c.rc != nil {
		_ = c.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	}
	if err := frame(c.writer); err != nil {
		c.closed = true
		return err
	}
	c.flusher.Flush()
	if c.rc != nil {
		_ = c.rc.SetWriteDeadline(time.Time{})
	}
	c.last = time.Now().UTC()
	return nil
}

// PrepareSSE sets the event-stream headers and returns the flusher, or false
// when the writer cannot stream.
func PrepareSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// Send emits a data event to the SSE stream.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.write(func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "data: %s\n\n", payload)
		return err
	})
	if err != nil && err != io.EOF {
		c.log.Warn("sse send failed", zap.Error(err))
	}
	return err
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(func(w io.Writer) error {
		_, err := fmt.Fprint(w, ": ping\n\n")
		return err
	})
}

func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
