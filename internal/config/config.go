// Package config loads the chat client configuration from a YAML file with
// ${VAR} expansion and CHAT_* environment overrides.
package config

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/library-chat/internal/chat"
	"github.com/rickgao/library-chat/internal/connection"
	"github.com/rickgao/library-chat/internal/dispatch"
)

// Config is the root configuration for a chat client.
type Config struct {
	Chat      ChatConfig      `yaml:"chat"`
	Transport TransportConfig `yaml:"transport"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Outbound  OutboundConfig  `yaml:"outbound"`
	Log       LogConfig       `yaml:"log"`
	Health    HealthConfig    `yaml:"health"`
}

// ChatConfig identifies the backend and the hub contract.
type ChatConfig struct {
	URL                string `yaml:"url" env:"CHAT_URL"`                             // ws:// or wss:// hub endpoint
	AccessToken        string `yaml:"access_token" env:"CHAT_ACCESS_TOKEN"`           // bearer token, inline
	AccessTokenPath    string `yaml:"access_token_path" env:"CHAT_ACCESS_TOKEN_PATH"` // bearer token, read from file
	SenderID           string `yaml:"sender_id" env:"CHAT_SENDER_ID"`                 // overrides the token subject
	HistoryMethod      string `yaml:"history_method"`
	BroadcastMethod    string `yaml:"broadcast_method"`
	MessageEvent       string `yaml:"message_event"`
	HistoryNewestFirst bool   `yaml:"history_newest_first"` // backend sends history newest-first
}

// TransportConfig holds WebSocket settings.
type TransportConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	InvokeTimeout    time.Duration `yaml:"invoke_timeout"`
	EventBufferSize  int           `yaml:"event_buffer_size"`
}

// ReconnectConfig holds the backoff schedule.
type ReconnectConfig struct {
	Delays []time.Duration `yaml:"delays" env:"CHAT_RECONNECT_DELAYS" envSeparator:","`
}

// OutboundConfig throttles user sends.
type OutboundConfig struct {
	RateLimit float64 `yaml:"rate_limit" env:"CHAT_RATE_LIMIT"` // messages per second, 0 = unlimited
	Burst     int     `yaml:"burst"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"CHAT_LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"CHAT_LOG_FORMAT"` // text or json
}

// HealthConfig configures the local health endpoint.
type HealthConfig struct {
	Addr string `yaml:"addr" env:"CHAT_HEALTH_ADDR"` // empty disables it
}

// SlogLevel maps the configured level to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TransportSettings builds the connection transport config. header carries
// credentials and the user agent.
func (c *Config) TransportSettings(header http.Header) connection.TransportConfig {
	return connection.TransportConfig{
		URL:              c.Chat.URL,
		Header:           header,
		HandshakeTimeout: c.Transport.HandshakeTimeout,
		WriteTimeout:     c.Transport.WriteTimeout,
		PingInterval:     c.Transport.PingInterval,
		PingTimeout:      c.Transport.PingTimeout,
		EventBufferSize:  c.Transport.EventBufferSize,
	}
}

// SessionSettings builds the chat session config.
func (c *Config) SessionSettings() chat.Config {
	delays := make([]time.Duration, len(c.Reconnect.Delays))
	copy(delays, c.Reconnect.Delays)

	return chat.Config{
		Manager: connection.ManagerConfig{
			HistoryMethod:      c.Chat.HistoryMethod,
			BroadcastMethod:    c.Chat.BroadcastMethod,
			MessageEvent:       c.Chat.MessageEvent,
			HistoryNewestFirst: c.Chat.HistoryNewestFirst,
			ReconnectDelays:    delays,
			ConnectTimeout:     c.Transport.ConnectTimeout,
			InvokeTimeout:      c.Transport.InvokeTimeout,
			QueueInitialSize:   DefaultQueueInitialSize,
		},
		Outbound: dispatch.Config{
			RateLimit: c.Outbound.RateLimit,
			Burst:     c.Outbound.Burst,
		},
	}
}
