package stream

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/star/orrery/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxCommandSize = 4096
)

// client is one websocket subscriber. Frames reach it through send; only
// writePump writes to the connection.
type client struct {
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter // frames per second pushed to this client
	ip      string
	logger  *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// writePump sends queued frames and periodic pings until send is closed or a
// write fails.
func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				metrics.IncStreamErrors("send_error")
				c.logger.Debug("stream write failed", "component", "stream", "remote_ip", c.ip, "error", err)
				return
			}
			c.messagesSent++
			c.bytesSent += int64(len(data))
			metrics.RecordStreamMessage(len(data))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.IncStreamErrors("ping_error")
				return
			}
		}
	}
}

// readPump consumes commands until the peer goes away. A missing pong for
// longer than pongWait ends the connection.
func (c *client) readPump(pongWait time.Duration, handle func(Command) error, reply func(*client, any)) {
	c.conn.SetReadLimit(maxCommandSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("stream read failed", "component", "stream", "remote_ip", c.ip, "error", err)
			}
			return
		}
		if err := handle(cmd); err != nil {
			metrics.IncStreamErrors("bad_command")
			reply(c, errorMessage{Type: "error", Error: err.Error()})
		}
	}
}

