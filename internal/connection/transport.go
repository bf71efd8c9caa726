package connection

import (
	"context"
	"time"
)

// Transport is one open full-duplex channel to the chat backend.
type Transport interface {
	// Invoke calls a remote method and decodes its result into result (may be nil).
	// A backend rejection is returned as an *Error with CodeRemoteRejected.
	Invoke(ctx context.Context, method string, args []any, result any) error

	// Events returns live events in arrival order. The channel is closed once
	// the transport is closed, after every received event has been handed out.
	Events() <-chan Event

	// Errors returns non-fatal transport errors.
	Errors() <-chan error

	// Err returns the reason the transport closed. Valid once Events is closed.
	Err() error

	// Close closes the transport. Safe to call more than once.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc is a function adapter for Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// Clock schedules reconnection timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
