package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subprotocol is the legacy Apollo subscription subprotocol.
const Subprotocol = "graphql-ws"

// Client represents a single WebSocket connection to a GraphQL server.
type Client interface {
	// Connect establishes the WebSocket connection and records its
	// creation timestamp.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes one frame to the connection.
	Send(data []byte) error

	// Frames returns a channel of raw inbound messages.
	Frames() <-chan []byte

	// Errors returns a channel of connection errors. A read failure on a
	// live connection produces exactly one error here.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool

	// Lifetime returns whole elapsed seconds since the connection was
	// established.
	Lifetime() int64
}

// client implements the Client interface.
type client struct {
	cfg    Config
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	frames chan []byte
	errors chan error
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu            sync.RWMutex
	connected     bool
	closed        bool
	establishedAt time.Time

	now func() time.Time // overridable in tests
}

// NewClient creates a new WebSocket client.
func NewClient(cfg Config, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:    cfg,
		logger: logger,
		frames: make(chan []byte, cfg.BufferSize),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return &HandshakeError{URL: c.cfg.URL, Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.establishedAt = c.now()
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL, "subprotocol", Subprotocol)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	// Signal the read loop to stop
	close(c.done)

	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return c.conn.Close()
	}

	return nil
}

// Send writes one frame to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Frames returns the inbound frame channel.
func (c *client) Frames() <-chan []byte {
	return c.frames
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Lifetime returns whole seconds since the connection was established.
func (c *client) Lifetime() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.establishedAt.IsZero() {
		return 0
	}
	return int64(c.now().Sub(c.establishedAt).Seconds())
}

// readLoop reads messages from the WebSocket and sends them to the frames
// channel.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errors <- err:
				default:
				}
				return
			}
		}

		select {
		case c.frames <- data:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping frame")
		}
	}
}
