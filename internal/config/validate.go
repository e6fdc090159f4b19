package config

import (
	"fmt"
	"strings"
)

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if c.Endpoint.WSURL == "" {
		return fmt.Errorf("endpoint.ws_url is required")
	}
	if !strings.HasPrefix(c.Endpoint.WSURL, "ws://") && !strings.HasPrefix(c.Endpoint.WSURL, "wss://") {
		return fmt.Errorf("endpoint.ws_url must use ws:// or wss://, got %q", c.Endpoint.WSURL)
	}

	if c.Channel.MaxReconnectAttempts < 0 {
		return fmt.Errorf("channel.max_reconnect_attempts must not be negative")
	}
	if c.Channel.ReconnectBaseDelay > c.Channel.ReconnectMaxDelay {
		return fmt.Errorf("channel.reconnect_base_delay %v exceeds reconnect_max_delay %v",
			c.Channel.ReconnectBaseDelay, c.Channel.ReconnectMaxDelay)
	}

	if c.Subscription.Query == "" {
		return fmt.Errorf("subscription.query is required")
	}

	return nil
}
