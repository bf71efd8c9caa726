// Package dispatch validates and throttles outbound chat messages before
// handing them to the connection manager.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/rickgao/library-chat/internal/connection"
	"github.com/rickgao/library-chat/internal/model"
)

// Errors
var (
	ErrEmptyMessage  = errors.New("message body is empty")
	ErrMissingSender = errors.New("sender id is required")
)

// Sender is the part of the connection manager the dispatcher needs.
type Sender interface {
	Send(ctx context.Context, senderID, body string) error
	State() model.ConnectionState
}

// Config configures a Dispatcher.
type Config struct {
	RateLimit float64 // messages per second, 0 = unlimited
	Burst     int     // max burst when RateLimit > 0
}

// Dispatcher sends user-authored messages through a Sender.
type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Dispatcher.
func New(sender Sender, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Dispatcher{
		sender:  sender,
		limiter: limiter,
		logger:  logger.With("component", "dispatch"),
	}
}

// Send trims body and broadcasts it as senderID. Blank bodies are rejected
// locally and never reach the network. When the session is not connected the
// returned error satisfies IsNotConnected.
func (d *Dispatcher) Send(ctx context.Context, senderID, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyMessage
	}
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return ErrMissingSender
	}

	// A disconnected session fails fast without spending a token.
	if state := d.sender.State(); state != model.StateConnected {
		d.logger.Debug("send while not connected", "sender", senderID, "state", state)
		return connection.ErrNotConnected
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	if err := d.sender.Send(ctx, senderID, body); err != nil {
		if IsNotConnected(err) {
			d.logger.Debug("send while not connected", "sender", senderID)
		} else {
			d.logger.Warn("send failed", "sender", senderID, "error", err)
		}
		return err
	}
	return nil
}

// IsNotConnected reports whether err means the session cannot send right now.
func IsNotConnected(err error) bool {
	return errors.Is(err, connection.ErrNotConnected)
}
