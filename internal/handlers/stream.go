package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"wplaunch/internal/notify"
)

// stream runs op with a reporter whose lines are pushed to the caller as
// server-sent events. It returns when op finishes or the caller goes away;
// op itself keeps running in the latter case.
func (h *Handler) stream(c echo.Context, topic string, op func(ctx context.Context, rep *notify.Reporter)) error {
	w := c.Response()
	flusher, ok := notify.PrepareSSE(w)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
	}

	client := notify.NewSSEClient(w, flusher, h.log)
	h.hub.Register(topic, client)
	defer func() {
		h.hub.Unregister(topic, client)
		client.Close()
	}()

	rep := notify.NewReporter(h.hub, h.log, topic)
	ctx := c.Request().Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				h.log.Error("stream operation panicked", zap.String("topic", topic), zap.Any("panic", r))
				rep.Error("internal error")
				rep.Complete(map[string]any{"success": false, "error": "internal error"})
			}
		}()
		op(ctx, rep)
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			h.log.Info("stream client disconnected", zap.String("topic", topic))
			return nil
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return nil
			}
		}
	}
}
