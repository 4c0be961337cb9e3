package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// ErrClosed is returned by Send after the connection has gone away.
var ErrClosed = errors.New("connection closed")

// Conn is one client connection. It carries the identity established by
// login and serializes writes so that output from background processes
// never interleaves within a frame.
type Conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex

	mu       sync.RWMutex
	identity string
	closed   bool
}

func newConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{id: id, ws: ws}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Identity returns the logged-in identity, or "" before login.
func (c *Conn) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Conn) setIdentity(identity string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.identity
	c.identity = identity
	return prev
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Send delivers a message frame.
func (c *Conn) Send(ctx context.Context, text string) error {
	return c.writeJSON(ctx, outMessage{Type: typeMessage, Text: text})
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	if c.isClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	// Writes must survive the cancellation of the request that produced
	// them; a process keeps reporting after its command returned.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}

// Close closes the underlying socket.
func (c *Conn) Close(reason string) error {
	c.markClosed()
	if c.ws == nil {
		return nil
	}
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}
