package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/streamweave/gqlsub/internal/connection"
)

// Channel is a subscription channel to one GraphQL server. It owns a single
// Connection, replaced wholesale on reconnect, and at most one active
// subscription at a time.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	// Current connection; replaced wholesale on reconnect and reset.
	connMu sync.Mutex
	conn   connection.Client

	// Active subscription handle, nil when none has been started.
	subMu sync.Mutex
	sub   *subscription

	closeMu sync.Mutex
	closed  bool
}

// New constructs a Channel and opens its initial connection. The returned
// Channel is ready for Query and Subscribe; a failed dial surfaces as a
// *connection.HandshakeError and is not retried.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Channel, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("channel_id", uuid.NewString()[:8])

	c := &Channel{
		cfg:    cfg,
		logger: logger,
	}

	conn := connection.NewClient(c.connConfig(), logger)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	c.conn = conn

	return c, nil
}

func (c *Channel) connConfig() connection.Config {
	return connection.Config{
		URL:              c.cfg.URL,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		WriteTimeout:     c.cfg.WriteTimeout,
		BufferSize:       c.cfg.BufferSize,
	}
}

// currentConn returns the live connection.
func (c *Channel) currentConn() connection.Client {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// swapConn installs a new connection and returns the superseded one.
func (c *Channel) swapConn(conn connection.Client) connection.Client {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	old := c.conn
	c.conn = conn
	return old
}

// activeSub returns the subscription handle if one is live.
func (c *Channel) activeSub() *subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub != nil && c.sub.active() {
		return c.sub
	}
	return nil
}

// Subscribe starts a long-lived subscription delivering server-pushed events
// to handler on a dedicated background worker. It returns the correlation id
// immediately; the handshake happens on the worker. Only one subscription may
// be active per channel.
func (c *Channel) Subscribe(query string, variables map[string]any, headers map[string]string, authorization string, handler Handler) (string, error) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return "", ErrChannelClosed
	}
	c.closeMu.Unlock()

	c.subMu.Lock()
	if c.sub != nil && c.sub.active() {
		c.subMu.Unlock()
		return "", ErrSubscriptionActive
	}
	sub := newSubscription(query, variables, headers, authorization, handler)
	c.sub = sub
	c.subMu.Unlock()

	go c.run(sub)

	return sub.correlationID(), nil
}

// Unsubscribe requests that the active subscription stop. It is a request,
// not a join: the worker may process one more in-flight frame before
// observing it.
func (c *Channel) Unsubscribe() {
	if sub := c.activeSub(); sub != nil {
		sub.requestStop()
	}
}

// Pause silences event delivery without closing the connection. The loop
// keeps draining frames so the server never observes a stalled consumer.
// Idempotent.
func (c *Channel) Pause() {
	if sub := c.activeSub(); sub != nil {
		sub.setPaused(true)
	}
}

// Unpause resumes event delivery. Idempotent.
func (c *Channel) Unpause() {
	if sub := c.activeSub(); sub != nil {
		sub.setPaused(false)
	}
}

// State returns the run state of the most recent subscription, or StateIdle
// if none was ever started.
func (c *Channel) State() RunState {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub == nil {
		return StateIdle
	}
	return c.sub.runState()
}

// Lifetime returns whole elapsed seconds since the current connection was
// established. It resets on every reconnect and on ResetTimeout.
func (c *Channel) Lifetime() int64 {
	return c.currentConn().Lifetime()
}

// ResetTimeout unconditionally tears down and recreates the connection,
// used for proactive resets such as credential rotation. If a subscription
// is active it is transparently replayed with identical parameters under a
// fresh correlation id.
func (c *Channel) ResetTimeout() error {
	old := c.currentConn()
	old.Close()

	conn := connection.NewClient(c.connConfig(), c.logger)
	if err := conn.Connect(context.Background()); err != nil {
		return err
	}
	c.swapConn(conn)

	if sub := c.activeSub(); sub != nil {
		sub.requestReset()
	}

	c.logger.Info("connection reset")
	return nil
}

// Close stops the active subscription, if any, and closes the connection.
func (c *Channel) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	if sub := c.activeSub(); sub != nil {
		sub.requestStop()
	}

	return c.currentConn().Close()
}
