package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamweave/gqlsub/internal/connection"
	"github.com/streamweave/gqlsub/internal/protocol"
)

// subscription is the handle for one long-lived subscription. Its failure
// counter is touched only by the worker goroutine; the correlation id
// rotates on every re-subscribe.
type subscription struct {
	query         string
	variables     map[string]any
	headers       map[string]string
	authorization string
	handler       Handler

	mu sync.Mutex
	id string

	state atomic.Int32

	// Consecutive transport failures since the last successful reconnect.
	failures int

	stopOnce sync.Once
	stopCh   chan struct{}
	resetCh  chan struct{}
}

func newSubscription(query string, variables map[string]any, headers map[string]string, authorization string, handler Handler) *subscription {
	s := &subscription{
		query:         query,
		variables:     variables,
		headers:       headers,
		authorization: authorization,
		handler:       handler,
		id:            protocol.NewOperationID(),
		stopCh:        make(chan struct{}),
		resetCh:       make(chan struct{}, 1),
	}
	s.state.Store(int32(StateIdle))
	return s
}

func (s *subscription) correlationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// rotateID assigns a fresh correlation id for a replayed handshake.
func (s *subscription) rotateID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = protocol.NewOperationID()
	return s.id
}

func (s *subscription) runState() RunState {
	return RunState(s.state.Load())
}

// active reports whether the handle still owns the channel's subscription
// slot: anything before the loop has terminated counts.
func (s *subscription) active() bool {
	switch s.runState() {
	case StateIdle, StateRunning, StatePaused, StateStopping:
		return true
	}
	return false
}

// setPaused toggles the pause gate. Idempotent; only flips between the two
// live states, so a stopped subscription stays stopped.
func (s *subscription) setPaused(paused bool) {
	if paused {
		s.state.CompareAndSwap(int32(StateRunning), int32(StatePaused))
	} else {
		s.state.CompareAndSwap(int32(StatePaused), int32(StateRunning))
	}
}

// requestStop asks the worker to exit. The worker may process one more
// in-flight frame before observing it.
func (s *subscription) requestStop() {
	s.stopOnce.Do(func() {
		for {
			st := s.state.Load()
			if st == int32(StateStopped) || s.state.CompareAndSwap(st, int32(StateStopping)) {
				break
			}
		}
		close(s.stopCh)
	})
}

// requestReset tells the worker the connection was replaced underneath it.
func (s *subscription) requestReset() {
	select {
	case s.resetCh <- struct{}{}:
	default:
	}
}

// run is the subscription worker. All subscription network I/O happens here.
func (c *Channel) run(sub *subscription) {
	if err := c.openSubscription(sub); err != nil {
		c.logger.Error("subscription handshake failed",
			"op_id", sub.correlationID(),
			"error", err,
		)
		sub.state.Store(int32(StateStopped))
		return
	}

	sub.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))

	c.loop(sub)
}

// openSubscription performs the connection_init + start handshake on the
// current connection, same framing as the synchronous query path.
func (c *Channel) openSubscription(sub *subscription) error {
	conn := c.currentConn()

	init, err := protocol.EncodeConnectionInit(sub.headers, sub.authorization)
	if err != nil {
		return err
	}
	if err := conn.Send(init); err != nil {
		return fmt.Errorf("send connection_init: %w", err)
	}

	// One reply, the ack; discarded.
	if _, err := awaitFrame(conn, sub.stopCh); err != nil {
		return err
	}

	start, err := protocol.EncodeStart(sub.correlationID(), sub.headers, sub.query, sub.variables)
	if err != nil {
		return err
	}
	if err := conn.Send(start); err != nil {
		return fmt.Errorf("send start: %w", err)
	}

	return nil
}

// loop reads frames until the subscription terminates: by request, by a
// terminal frame from the server, or by exhausting the reconnect budget.
func (c *Channel) loop(sub *subscription) {
	wait := c.cfg.ReconnectBaseDelay

	for sub.runState().live() {
		conn := c.currentConn()

		// Frames buffered before a connection failure are still delivered:
		// drain them ahead of reacting to the error.
		select {
		case raw := <-conn.Frames():
			if c.handleFrame(sub, raw) {
				return
			}
			continue
		default:
		}

		select {
		case <-sub.stopCh:
			c.finish(sub)
			return

		case <-sub.resetCh:
			// Connection replaced by ResetTimeout; replay the handshake
			// under a fresh id.
			sub.rotateID()
			if err := c.openSubscription(sub); err != nil {
				c.logger.Warn("re-subscribe after reset failed", "error", err)
				if !c.recover(sub, &wait) {
					return
				}
			}

		case err := <-conn.Errors():
			c.logger.Warn("connection closed during read", "error", err)
			if !c.recover(sub, &wait) {
				return
			}

		case raw := <-conn.Frames():
			if c.handleFrame(sub, raw) {
				return
			}
		}
	}

	c.finish(sub)
}

// handleFrame processes one inbound frame. It reports true when the
// subscription has terminated and the loop must exit.
func (c *Channel) handleFrame(sub *subscription, raw []byte) bool {
	frame, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Error("dropping subscription on undecodable frame", "error", err)
		c.finish(sub)
		return true
	}

	switch {
	case frame.Type == protocol.TypeKeepAlive:
		// Liveness signal only; never dispatched.

	case frame.IsTerminal():
		if frame.Type == protocol.TypeError {
			c.logger.Error("server error frame",
				"op_id", frame.ID,
				"payload", string(frame.Payload),
			)
		} else {
			c.logger.Info("subscription completed by server", "op_id", frame.ID)
		}
		c.finish(sub)
		return true

	case frame.Type == protocol.TypeData:
		if sub.runState() == StateRunning {
			sub.handler(frame.ID, frame.Payload)
		}
		// Paused: drained but dropped.

		// Throttle dispatch rate before the next read.
		select {
		case <-sub.stopCh:
			c.finish(sub)
			return true
		case <-time.After(c.cfg.DispatchInterval):
		}
	}
	// A stray connection_ack outside a handshake is ignored.

	return false
}

// finish sends a best-effort stop frame for the current correlation id and
// marks the loop stopped.
func (c *Channel) finish(sub *subscription) {
	if stop, err := protocol.EncodeStop(sub.correlationID()); err == nil {
		if err := c.currentConn().Send(stop); err != nil {
			c.logger.Debug("stop frame not sent", "error", err)
		}
	}
	sub.state.Store(int32(StateStopped))
	c.logger.Info("subscription stopped", "op_id", sub.correlationID())
}

// recover runs the reconnection policy: tear down the connection, dial a new
// one, and replay the original handshake with identical parameters under a
// fresh correlation id. The failure counter is incremented before every
// attempt and reset to zero on success; exhausting the budget terminates the
// loop permanently, observable only through logs and the absence of further
// callbacks. Returns false when the loop must exit.
func (c *Channel) recover(sub *subscription, wait *time.Duration) bool {
	for {
		sub.failures++
		if sub.failures >= c.cfg.MaxReconnectAttempts {
			c.logger.Error("reconnect budget exhausted, dropping subscription",
				"failures", sub.failures,
				"op_id", sub.correlationID(),
			)
			sub.state.Store(int32(StateStopped))
			return false
		}

		select {
		case <-sub.stopCh:
			c.finish(sub)
			return false
		case <-time.After(*wait):
		}

		// Exponential backoff, reset on success.
		*wait *= 2
		if *wait > c.cfg.ReconnectMaxDelay {
			*wait = c.cfg.ReconnectMaxDelay
		}

		if err := c.reconnect(sub); err != nil {
			c.logger.Warn("reconnect attempt failed",
				"attempt", sub.failures,
				"error", err,
			)
			continue
		}

		sub.failures = 0
		*wait = c.cfg.ReconnectBaseDelay
		c.logger.Info("reconnected and re-subscribed", "op_id", sub.correlationID())
		return true
	}
}

// reconnect replaces the connection wholesale and replays the handshake.
func (c *Channel) reconnect(sub *subscription) error {
	c.currentConn().Close() // best effort, errors ignored

	conn := connection.NewClient(c.connConfig(), c.logger)
	if err := conn.Connect(context.Background()); err != nil {
		return err
	}
	c.swapConn(conn)

	sub.rotateID()
	return c.openSubscription(sub)
}
