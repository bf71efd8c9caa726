package config

import (
	"time"

	"github.com/rickgao/library-chat/internal/connection"
)

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 15 * time.Second
	DefaultPingTimeout      = 45 * time.Second
	DefaultConnectTimeout   = 15 * time.Second
	DefaultInvokeTimeout    = 10 * time.Second
	DefaultEventBufferSize  = 256
	DefaultQueueInitialSize = 64
	DefaultOutboundBurst    = 1
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

func (c *Config) applyDefaults() {
	// Chat defaults
	if c.Chat.HistoryMethod == "" {
		c.Chat.HistoryMethod = connection.DefaultHistoryMethod
	}
	if c.Chat.BroadcastMethod == "" {
		c.Chat.BroadcastMethod = connection.DefaultBroadcastMethod
	}
	if c.Chat.MessageEvent == "" {
		c.Chat.MessageEvent = connection.DefaultMessageEvent
	}

	// Transport defaults
	if c.Transport.HandshakeTimeout == 0 {
		c.Transport.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.PingInterval == 0 {
		c.Transport.PingInterval = DefaultPingInterval
	}
	if c.Transport.PingTimeout == 0 {
		c.Transport.PingTimeout = DefaultPingTimeout
	}
	if c.Transport.ConnectTimeout == 0 {
		c.Transport.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Transport.InvokeTimeout == 0 {
		c.Transport.InvokeTimeout = DefaultInvokeTimeout
	}
	if c.Transport.EventBufferSize == 0 {
		c.Transport.EventBufferSize = DefaultEventBufferSize
	}

	// Reconnect defaults
	if len(c.Reconnect.Delays) == 0 {
		c.Reconnect.Delays = connection.DefaultReconnectDelays()
	}

	// Outbound defaults
	if c.Outbound.RateLimit > 0 && c.Outbound.Burst == 0 {
		c.Outbound.Burst = DefaultOutboundBurst
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
