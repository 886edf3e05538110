// Package server manages individual WebSocket clients, owning the outbound
// queue and write pump for each connection.
package server

import (
	"errors"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Client is the outbound handle of one connection. All writes to the socket
// go through its bounded send queue, which a single write pump drains, so
// enqueueing never blocks on the network.
type Client struct {
	id   string
	addr string
	conn *websocket.Conn
	log  *zap.Logger

	// username is set once by the session before the client joins the hub
	// and is read-only afterwards.
	username string

	mu     sync.Mutex
	send   chan []byte
	closed bool
	done   chan struct{} // closed when the write pump exits
}

// NewClient creates a Client for conn with a send queue of queueSize messages.
// conn may be nil for clients that are never pumped.
func NewClient(conn *websocket.Conn, id, addr string, queueSize int, logger *zap.Logger) *Client {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &Client{
		id:   id,
		addr: addr,
		conn: conn,
		log:  logger,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// ID returns the session id of the connection.
func (c *Client) ID() string {
	return c.id
}

// Username returns the authenticated username, or "" before authentication.
func (c *Client) Username() string {
	return c.username
}

// GetSendChan returns the client's queue of encoded outbound frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Send encodes msg and queues it for delivery. It fails with ErrSendQueueFull
// when the queue has no room and ErrClientClosed after Close.
func (c *Client) Send(msg protocol.Outbound) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops accepting messages. The write pump flushes what is already
// queued, sends a close frame and closes the socket. Close is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// waitDone blocks until the write pump exits or timeout elapses.
func (c *Client) waitDone(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
		close(c.done)
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

// closeConnection closes the socket, ignoring errors from an already closed one.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("Error closing connection in writePump", zap.Error(err))
	}
}

// handleMessage writes one outgoing frame and returns false if the pump should stop.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("Error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

func (c *Client) writeCloseMessage() bool {
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) && !errors.Is(err, websocket.ErrCloseSent) {
		c.log.Debug("Error writing close message", zap.Error(err))
	}
	return false
}

func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Info("Error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("Error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("Error writing ping message", zap.Error(err))
		return false
	}
	return true
}
