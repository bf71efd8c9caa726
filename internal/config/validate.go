package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Chat.URL == "" {
		return errors.New("chat.url is required")
	}
	u, err := url.Parse(c.Chat.URL)
	if err != nil {
		return fmt.Errorf("chat.url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("chat.url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Chat.AccessToken != "" && c.Chat.AccessTokenPath != "" {
		return errors.New("chat.access_token and chat.access_token_path are mutually exclusive")
	}

	if c.Transport.EventBufferSize < 1 {
		return errors.New("transport.event_buffer_size must be >= 1")
	}
	if c.Transport.PingInterval > 0 && c.Transport.PingTimeout <= c.Transport.PingInterval {
		return fmt.Errorf("transport.ping_timeout (%s) must exceed ping_interval (%s)",
			c.Transport.PingTimeout, c.Transport.PingInterval)
	}

	if len(c.Reconnect.Delays) == 0 {
		return errors.New("reconnect.delays must not be empty")
	}
	for i, d := range c.Reconnect.Delays {
		if d < 0 {
			return fmt.Errorf("reconnect.delays[%d] must be >= 0, got %s", i, d)
		}
	}

	if c.Outbound.RateLimit < 0 {
		return fmt.Errorf("outbound.rate_limit must be >= 0, got %g", c.Outbound.RateLimit)
	}
	if c.Outbound.Burst < 0 {
		return fmt.Errorf("outbound.burst must be >= 0, got %d", c.Outbound.Burst)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}
