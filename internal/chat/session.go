// Package chat is the entry point for chat views. A Session bundles the
// connection manager, the message reconciler and the outbound dispatcher
// for one chat; create one per view and pass it explicitly.
package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rickgao/library-chat/internal/connection"
	"github.com/rickgao/library-chat/internal/dispatch"
	"github.com/rickgao/library-chat/internal/model"
	"github.com/rickgao/library-chat/internal/reconciler"
)

// Config configures a Session.
type Config struct {
	Manager  connection.ManagerConfig
	Outbound dispatch.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Manager: connection.DefaultManagerConfig()}
}

// Session is one chat conversation.
type Session struct {
	manager    *connection.Manager
	reconciler *reconciler.Reconciler
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu        sync.Mutex
	observers []func(model.StateEvent)
}

// Stats combines the counters of a session's parts.
type Stats struct {
	Connection connection.ManagerStats
	View       reconciler.Stats
}

// New creates a Session. Nothing is dialed until OpenChat.
func New(cfg Config, dialer connection.Dialer, logger *slog.Logger, opts ...connection.Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	m := connection.NewManager(cfg.Manager, dialer, logger, opts...)
	return &Session{
		manager:    m,
		reconciler: reconciler.New(),
		dispatcher: dispatch.New(m, cfg.Outbound, logger),
		logger:     logger.With("component", "chat"),
	}
}

// OpenChat connects and registers the callbacks. onHistory receives every
// snapshot (the first and one per reconnection), onMessage every live
// message after it. Either may be nil. Callbacks run one at a time on the
// session's delivery goroutine.
func (s *Session) OpenChat(ctx context.Context, onMessage func(model.ChatMessage), onHistory func([]model.ChatMessage)) error {
	return s.manager.Open(ctx, connection.Handlers{
		OnHistory: func(snapshot []model.ChatMessage) {
			s.reconciler.ApplyHistory(snapshot)
			if onHistory != nil {
				onHistory(model.CloneMessages(snapshot))
			}
		},
		OnMessage: func(msg model.ChatMessage) {
			s.reconciler.ApplyLive(msg)
			if onMessage != nil {
				onMessage(msg)
			}
		},
		OnStateChange: s.stateChanged,
	})
}

// SendChatMessage sends body as senderID. The message appears in Messages
// once the backend echoes it.
func (s *Session) SendChatMessage(ctx context.Context, senderID, body string) error {
	return s.dispatcher.Send(ctx, senderID, body)
}

// CloseChat closes the session. It is idempotent.
func (s *Session) CloseChat() {
	s.manager.Close()
}

// OnStateChange registers fn to observe connection state transitions.
func (s *Session) OnStateChange(fn func(model.StateEvent)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// OnViewChange registers fn to receive the visible sequence after every change.
func (s *Session) OnViewChange(fn func([]model.ChatMessage)) {
	s.reconciler.OnChange(fn)
}

// Messages returns the visible sequence.
func (s *Session) Messages() []model.ChatMessage {
	return s.reconciler.Messages()
}

// State returns the connection state.
func (s *Session) State() model.ConnectionState {
	return s.manager.State()
}

// Stats returns current statistics.
func (s *Session) Stats() Stats {
	return Stats{
		Connection: s.manager.Stats(),
		View:       s.reconciler.Stats(),
	}
}

func (s *Session) stateChanged(ev model.StateEvent) {
	switch ev.New {
	case model.StateConnecting, model.StateReconnecting:
		s.reconciler.Invalidate()
	}

	if ev.Err != nil {
		s.logger.Info("chat state changed", "from", ev.Old, "to", ev.New, "error", ev.Err)
	} else {
		s.logger.Debug("chat state changed", "from", ev.Old, "to", ev.New)
	}

	s.mu.Lock()
	observers := make([]func(model.StateEvent), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}
