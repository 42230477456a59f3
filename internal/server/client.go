package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/transfer"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Limits are the per-connection resource limits.
type Limits struct {
	MaxMessageSize int64
	RateLimit      config.RateLimitConfig
}

// Client is one WebSocket connection. Its session and upload state are only
// touched from the hub goroutine.
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	addr        string
	limits      Limits
	rateLimiter *rate.Limiter
	log         *logging.Logger

	mu     sync.Mutex
	closed bool

	sessionID string
	upload    transfer.Upload
}

// NewClient creates a Client for conn. conn may be nil in tests that only
// inspect the send channel.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, limits Limits, log *logging.Logger) *Client {
	if conn != nil && limits.MaxMessageSize > 0 {
		conn.SetReadLimit(limits.MaxMessageSize)
	}
	if log == nil {
		log = logging.Nop()
	}

	return &Client{
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		hub:         hub,
		addr:        addr,
		limits:      limits,
		rateLimiter: newRateLimiter(limits.RateLimit.Burst, limits.RateLimit.RefillInterval),
		log:         log.With("remote", addr),
	}
}

// SessionID returns the session bound to this connection, empty before the
// hub has registered it.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Endpoint splits the remote address into the registry's endpoint key.
func (c *Client) Endpoint() chat.Endpoint {
	host, port, err := net.SplitHostPort(c.addr)
	if err != nil {
		return chat.Endpoint{Address: c.addr}
	}
	return chat.Endpoint{Address: host, Port: port}
}

// Send queues frame without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel once, which makes the write pump send a
// close frame and stop.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) allow() bool {
	return c.rateLimiter == nil || c.rateLimiter.Allow()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn().Err(err).Msg("setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the reason a read loop is ending.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.limits.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.log.Warn().Err(err).Msg("websocket read error")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("closing connection in read pump")
		}
	}()

	c.setupReadConnection()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.hub.dispatch(inboundFrame{client: c, kind: kind, data: data}) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn().Err(err).Msg("closing connection in write pump")
	}
}

// handleMessage writes one outgoing frame and returns false if the connection
// should be closed. Frames are ciphertexts and are never coalesced.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn().Err(err).Msg("setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("writing frame")
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("writing close message")
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn().Err(err).Msg("setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug().Err(err).Msg("writing ping")
		return false
	}
	return true
}
