// Package transport provides the websocket-backed bidirectional byte
// stream the RPC hub frames JSON-RPC messages over.
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/foofork/orchflow/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1MB, generous for a get_session result
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one upgraded client connection: a raw-bytes duplex with
// ping/pong keepalive and a bounded outbound buffer so one slow reader
// cannot stall the hub.
type Conn struct {
	ID     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *logger.Logger
}

// Upgrade promotes an HTTP request to a websocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, id string, log *logger.Logger) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{
		ID:     id,
		ws:     ws,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		logger: log.WithFields(zap.String("conn_id", id)),
	}, nil
}

// Send queues data for delivery, dropping it if the connection's outbound
// buffer is full or already closed rather than blocking the caller.
func (c *Conn) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("dropping message, outbound buffer full")
		return false
	}
}

// ReadLoop blocks reading frames and invokes onMessage for each, until the
// connection errors or closes. The caller runs this in its own goroutine
// and should call Close once it returns.
func (c *Conn) ReadLoop(onMessage func([]byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		onMessage(data)
	}
}

// WriteLoop drains the outbound buffer to the socket and sends periodic
// pings, until the connection is closed.
func (c *Conn) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Close shuts down the connection's outbound buffer and underlying socket.
// Safe to call more than once or concurrently with Send.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
	})
	_ = c.ws.Close()
}
