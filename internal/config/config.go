package config

import "time"

// Config is the root configuration for a gqltail instance.
type Config struct {
	Endpoint     EndpointConfig     `yaml:"endpoint"`
	Channel      ChannelConfig      `yaml:"channel"`
	Subscription SubscriptionConfig `yaml:"subscription"`
}

// EndpointConfig identifies the GraphQL server.
type EndpointConfig struct {
	WSURL         string            `yaml:"ws_url"`        // wss://... endpoint speaking graphql-ws
	Authorization string            `yaml:"authorization"` // Token placed in the connection_init payload
	Headers       map[string]string `yaml:"headers"`       // Extra headers forwarded in frame payloads
}

// ChannelConfig holds subscription channel tuning.
type ChannelConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	DispatchInterval     time.Duration `yaml:"dispatch_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
}

// SubscriptionConfig holds the subscription document to tail.
type SubscriptionConfig struct {
	Query     string         `yaml:"query"`
	Variables map[string]any `yaml:"variables"`
}
