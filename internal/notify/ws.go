package notify

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteTimeout = 5 * time.Second

// WSClient represents a websocket subscriber.
type WSClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *zap.Logger
}

func NewWSClient(conn *websocket.Conn, log *zap.Logger) *WSClient {
	return &WSClient{conn: conn, log: log}
}

// Send writes a message to the websocket connection.
func (c *WSClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", zap.Error(err))
		_ = c.conn.Close()
		return err
	}
	return nil
}

func (c *WSClient) Close() {
	_ = c.conn.Close()
}
