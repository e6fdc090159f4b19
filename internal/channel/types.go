package channel

import (
	"encoding/json"
	"time"
)

// Handler receives one decoded subscription event. id is the correlation id
// the event arrived under; it changes when the loop re-subscribes after a
// reconnect. Duplicate delivery across a reconnect boundary is possible, so
// handlers must be idempotent.
type Handler func(id string, payload json.RawMessage)

// RunState tracks the subscription loop lifecycle. The callback fires only
// while the state is Running; Paused keeps draining the socket but drops
// frames instead of dispatching them.
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// live reports whether the loop should keep reading frames.
func (s RunState) live() bool {
	return s == StateRunning || s == StatePaused
}

// Config configures a Channel.
type Config struct {
	URL                  string        // WebSocket URL (wss://...)
	HandshakeTimeout     time.Duration // Dial deadline
	WriteTimeout         time.Duration // Write deadline for sends
	BufferSize           int           // Inbound frame buffer size
	MaxReconnectAttempts int           // Consecutive transport failures tolerated before the loop gives up
	DispatchInterval     time.Duration // Throttle between subscription dispatches
	ReconnectBaseDelay   time.Duration // Base wait before a reconnect attempt
	ReconnectMaxDelay    time.Duration // Cap for the doubling reconnect wait
}

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultBufferSize           = 100
	DefaultMaxReconnectAttempts = 10
	DefaultDispatchInterval     = 1 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
)

// DefaultConfig returns sensible defaults for everything but the URL.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     DefaultHandshakeTimeout,
		WriteTimeout:         DefaultWriteTimeout,
		BufferSize:           DefaultBufferSize,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		DispatchInterval:     DefaultDispatchInterval,
		ReconnectBaseDelay:   DefaultReconnectBaseDelay,
		ReconnectMaxDelay:    DefaultReconnectMaxDelay,
	}
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.DispatchInterval == 0 {
		c.DispatchInterval = DefaultDispatchInterval
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
}
