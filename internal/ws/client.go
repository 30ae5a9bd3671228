package ws

import (
	"log/slog"

	"github.com/gorilla/websocket"
)

// Client wraps a websocket subscriber to one deployment event stream.
type Client struct {
	conn   *websocket.Conn
	log    *slog.Logger
	stream string
}

// NewClient wraps an upgraded connection subscribed to the given stream.
func NewClient(conn *websocket.Conn, logger *slog.Logger, stream string) *Client {
	return &Client{conn: conn, log: logger, stream: stream}
}

// Send writes one serialized deployment event to the connection.
func (c *Client) Send(payload []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "stream", c.stream, "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}
