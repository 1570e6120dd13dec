package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxInboundMessageSize = 4096

type ClientOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		SendBuffer:   32,
		WriteTimeout: 10 * time.Second,
		PingInterval: 25 * time.Second,
	}
}

func (o ClientOptions) normalized() ClientOptions {
	defaults := DefaultClientOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaults.SendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaults.WriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaults.PingInterval
	}
	return o
}

// Client is a websocket connection with a bounded outbound queue. A single
// writer goroutine owns all writes to the socket.
type Client struct {
	id     string
	ws     *websocket.Conn
	opts   ClientOptions
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, ws *websocket.Conn, opts ClientOptions, logger *slog.Logger) *Client {
	opts = opts.normalized()
	return &Client{
		id:     id,
		ws:     ws,
		opts:   opts,
		logger: logger,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues a frame without blocking.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", "connection_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug("websocket ping failed", "connection_id", c.id, "error", err)
				return
			}
		}
	}
}

// readLoop blocks until the peer goes away. Inbound messages carry no
// meaning and are discarded; reading keeps pong and close handling alive.
func (c *Client) readLoop() {
	readTimeout := 2 * c.opts.PingInterval
	c.ws.SetReadLimit(maxInboundMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket closed unexpectedly", "connection_id", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	}
}
