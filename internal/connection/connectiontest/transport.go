// Package connectiontest provides in-memory fakes for exercising the
// connection manager without a network: a scriptable Transport, a Dialer
// that hands them out, and a manually advanced Clock.
package connectiontest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rickgao/library-chat/internal/connection"
	"github.com/rickgao/library-chat/internal/model"
)

// Invocation records one call to Transport.Invoke.
type Invocation struct {
	Method string
	Args   []any
}

// Transport is an in-memory connection.Transport.
type Transport struct {
	mu           sync.Mutex
	history      []model.ChatMessage
	historyErr   error
	broadcastErr error
	gate         chan struct{}
	invocations  []Invocation

	events chan connection.Event
	errors chan error
	done   chan struct{}
	err    error
	closed bool
}

var _ connection.Transport = (*Transport)(nil)

// NewTransport creates a transport whose history call returns history.
func NewTransport(history ...model.ChatMessage) *Transport {
	return &Transport{
		history: history,
		events:  make(chan connection.Event, 1024),
		errors:  make(chan error, 64),
		done:    make(chan struct{}),
	}
}

// SetHistory sets the snapshot returned by the history call.
func (t *Transport) SetHistory(history ...model.ChatMessage) {
	t.mu.Lock()
	t.history = history
	t.mu.Unlock()
}

// FailHistory makes the history call return err.
func (t *Transport) FailHistory(err error) {
	t.mu.Lock()
	t.historyErr = err
	t.mu.Unlock()
}

// FailBroadcast makes the broadcast call return err.
func (t *Transport) FailBroadcast(err error) {
	t.mu.Lock()
	t.broadcastErr = err
	t.mu.Unlock()
}

// HoldHistory blocks history calls until ReleaseHistory is called.
func (t *Transport) HoldHistory() {
	t.mu.Lock()
	t.gate = make(chan struct{})
	t.mu.Unlock()
}

// ReleaseHistory unblocks history calls held by HoldHistory.
func (t *Transport) ReleaseHistory() {
	t.mu.Lock()
	if t.gate != nil {
		close(t.gate)
		t.gate = nil
	}
	t.mu.Unlock()
}

// Invoke implements connection.Transport.
func (t *Transport) Invoke(ctx context.Context, method string, args []any, result any) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &connection.Error{Code: connection.CodeConnectionLost, Err: t.err}
	}
	t.invocations = append(t.invocations, Invocation{Method: method, Args: args})
	gate := t.gate
	history := model.CloneMessages(t.history)
	historyErr := t.historyErr
	broadcastErr := t.broadcastErr
	t.mu.Unlock()

	switch method {
	case connection.DefaultHistoryMethod:
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			case <-t.done:
				return &connection.Error{Code: connection.CodeConnectionLost, Err: t.Err()}
			}
		}
		if historyErr != nil {
			return historyErr
		}
		if history == nil {
			history = []model.ChatMessage{}
		}
		return decodeInto(history, result)

	case connection.DefaultBroadcastMethod:
		return broadcastErr
	}
	return nil
}

func decodeInto(v any, result any) error {
	if result == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return json.Unmarshal(data, result)
}

// Emit pushes a chat message as a live event. Ignored after close.
func (t *Transport) Emit(msg model.ChatMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	t.EmitEvent(connection.DefaultMessageEvent, data)
}

// EmitEvent pushes a raw named event. Ignored after close.
func (t *Transport) EmitEvent(name string, data []byte) {
	t.EmitEventAt(name, data, time.Time{})
}

// EmitEventAt is EmitEvent with the frame's local receive time set.
func (t *Transport) EmitEventAt(name string, data []byte, receivedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.events <- connection.Event{Name: name, Data: data, ReceivedAt: receivedAt}
}

// EmitError pushes a non-fatal error.
func (t *Transport) EmitError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.errors <- err
}

// Drop closes the transport as if the remote end went away.
func (t *Transport) Drop(cause error) {
	t.shutdown(cause)
}

// Close implements connection.Transport.
func (t *Transport) Close() error {
	t.shutdown(connection.ErrAlreadyClosed)
	return nil
}

func (t *Transport) shutdown(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.err = cause
	close(t.done)
	close(t.events)
}

// Events implements connection.Transport.
func (t *Transport) Events() <-chan connection.Event { return t.events }

// Errors implements connection.Transport.
func (t *Transport) Errors() <-chan error { return t.errors }

// Err implements connection.Transport.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Closed reports whether the transport has been closed or dropped.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Invocations returns the calls made so far.
func (t *Transport) Invocations() []Invocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Invocation, len(t.invocations))
	copy(out, t.invocations)
	return out
}

// Count returns how many times method was invoked.
func (t *Transport) Count(method string) int {
	n := 0
	for _, inv := range t.Invocations() {
		if inv.Method == method {
			n++
		}
	}
	return n
}
