package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/library-chat/internal/model"
	"github.com/rickgao/library-chat/internal/queue"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for reconnection timers.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// Manager owns the lifecycle of one logical chat connection.
type Manager struct {
	cfg    ManagerConfig
	dialer Dialer
	clock  Clock
	logger *slog.Logger

	mu          sync.Mutex
	state       model.ConnectionState
	handlers    *Handlers
	current     *attempt // attempt owning the transport, nil when none
	timer       Timer    // pending reconnection, nil when none
	epoch       uint64   // bumped by every attempt, schedule and teardown
	policy      *Backoff
	reconnects  int
	connectedAt time.Time
	delivering  bool

	ctx    context.Context // session lifetime, cancelled by Close
	cancel context.CancelFunc

	// Delivery
	deliveries *queue.FIFO[delivery]
	deliverMu  sync.Mutex
	closed     atomic.Bool

	historyDelivered  atomic.Int64
	messagesDelivered atomic.Int64
}

// attempt is one dial + history fetch, and the transport it produced.
type attempt struct {
	ctx       context.Context
	cancel    context.CancelFunc
	handlers  *Handlers
	transport Transport
	synced    bool                // history delivered, live events flow straight through
	pending   []model.ChatMessage // live events received before the snapshot
	dropped   bool
	dropErr   error
}

type deliveryKind int

const (
	deliverHistory deliveryKind = iota
	deliverMessage
	deliverState
)

type delivery struct {
	kind     deliveryKind
	handlers *Handlers
	history  []model.ChatMessage
	message  model.ChatMessage
	event    model.StateEvent
}

// NewManager creates a Connection Manager.
func NewManager(cfg ManagerConfig, dialer Dialer, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryMethod == "" {
		cfg.HistoryMethod = DefaultHistoryMethod
	}
	if cfg.BroadcastMethod == "" {
		cfg.BroadcastMethod = DefaultBroadcastMethod
	}
	if cfg.MessageEvent == "" {
		cfg.MessageEvent = DefaultMessageEvent
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		dialer:     dialer,
		clock:      realClock{},
		logger:     logger.With("component", "connection"),
		state:      model.StateDisconnected,
		policy:     NewBackoff(cfg.ReconnectDelays),
		ctx:        ctx,
		cancel:     cancel,
		deliveries: queue.New[delivery](cfg.QueueInitialSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open establishes the channel, registers the handlers and returns once the
// history snapshot has been fetched. A dial failure is returned as
// ErrTransportUnavailable and is not retried; retries only start after a
// connection has succeeded once and then dropped.
func (m *Manager) Open(ctx context.Context, h Handlers) error {
	m.mu.Lock()
	switch m.state {
	case model.StateConnected:
		m.mu.Unlock()
		return nil
	case model.StateClosed:
		m.mu.Unlock()
		return ErrSessionClosed
	case model.StateConnecting, model.StateReconnecting:
		m.logger.Info("replacing in-flight connection", "state", m.state)
		if t := m.teardownLocked(); t != nil {
			go t.Close()
		}
	}

	if !m.delivering {
		m.delivering = true
		go m.deliverLoop()
	}

	a := m.newAttemptLocked(ctx, &h)
	m.setStateLocked(model.StateConnecting, nil)
	m.mu.Unlock()

	err := m.connect(a)
	if err == nil {
		return nil
	}

	m.mu.Lock()
	if m.current == a {
		m.current = nil
		m.setStateLocked(model.StateDisconnected, err)
	}
	m.mu.Unlock()

	m.logger.Warn("failed to open chat connection", "error", err)
	return err
}

// Close tears down the transport, cancels any pending reconnection and moves
// the session to Closed. No handler starts after Close returns. Safe to call
// in any state, any number of times. Handlers must not call Close
// synchronously; Close waits for the running handler to return.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == model.StateClosed {
		m.mu.Unlock()
		return
	}
	m.closed.Store(true)
	prev := m.state
	t := m.teardownLocked()
	m.state = model.StateClosed
	m.cancel()
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			m.logger.Debug("transport close error", "error", err)
		}
	}
	m.deliveries.Close()

	// Wait out a handler that is already running.
	m.deliverMu.Lock()
	m.deliverMu.Unlock()

	m.logger.Info("chat connection closed", "previous_state", prev)
}

// Send broadcasts a message through the open transport. It fails with
// ErrNotConnected, without touching the transport, unless the state is
// Connected. The message is not added to the local view; it shows up when
// the server echoes it back as a live event.
func (m *Manager) Send(ctx context.Context, senderID, body string) error {
	m.mu.Lock()
	if m.state != model.StateConnected || m.current == nil || m.current.transport == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	t := m.current.transport
	m.mu.Unlock()

	if m.cfg.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.InvokeTimeout)
		defer cancel()
	}

	if err := t.Invoke(ctx, m.cfg.BroadcastMethod, []any{senderID, body}, nil); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	return nil
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{
		State:             m.state,
		ReconnectAttempts: m.reconnects,
	}
	if m.state == model.StateConnected {
		stats.ConnectedAt = m.connectedAt
	}
	m.mu.Unlock()

	stats.HistoryDelivered = m.historyDelivered.Load()
	stats.MessagesDelivered = m.messagesDelivered.Load()
	q := m.deliveries.Stats()
	stats.QueueLen = q.Len
	stats.QueueCapacity = q.Capacity
	stats.QueueGrowCount = q.GrowCount
	return stats
}

// newAttemptLocked starts a new attempt that owns the session. Must be called with lock held.
func (m *Manager) newAttemptLocked(parent context.Context, h *Handlers) *attempt {
	m.epoch++
	ctx, cancel := context.WithCancel(parent)
	a := &attempt{ctx: ctx, cancel: cancel, handlers: h}
	m.current = a
	return a
}

// teardownLocked cancels the pending timer and current attempt. The returned
// transport, if any, must be closed by the caller after unlocking.
func (m *Manager) teardownLocked() Transport {
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	a := m.current
	if a == nil {
		return nil
	}
	m.current = nil
	a.cancel()
	return a.transport
}

// connect dials, fetches history and, on success, marks the session Connected.
func (m *Manager) connect(a *attempt) error {
	defer a.cancel()

	dialCtx := a.ctx
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(dialCtx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	t, err := m.dialer.Dial(dialCtx)
	if err != nil {
		if aborted := m.abortedErr(a); aborted != nil {
			return aborted
		}
		return &Error{Code: CodeTransportUnavailable, Err: err}
	}

	m.mu.Lock()
	if m.current != a {
		m.mu.Unlock()
		_ = t.Close()
		return m.abortedErr(a)
	}
	a.transport = t
	m.mu.Unlock()

	go m.pump(a, t)

	invokeCtx := a.ctx
	if m.cfg.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(invokeCtx, m.cfg.InvokeTimeout)
		defer cancel()
	}

	var snapshot []model.ChatMessage
	if err := t.Invoke(invokeCtx, m.cfg.HistoryMethod, nil, &snapshot); err != nil {
		_ = t.Close()
		if aborted := m.abortedErr(a); aborted != nil {
			return aborted
		}
		if errors.Is(err, ErrRemoteRejected) {
			return fmt.Errorf("fetch history: %w", err)
		}
		return &Error{Code: CodeTransportUnavailable, Err: fmt.Errorf("fetch history: %w", err)}
	}
	snapshot = normalizeHistory(snapshot, m.cfg.HistoryNewestFirst)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != a {
		_ = t.Close()
		if m.state == model.StateClosed {
			return ErrSessionClosed
		}
		return ErrSuperseded
	}

	a.synced = true
	m.policy.Reset()
	m.reconnects = 0
	m.connectedAt = m.clock.Now()
	m.setStateLocked(model.StateConnected, nil)

	m.enqueueLocked(delivery{kind: deliverHistory, handlers: a.handlers, history: snapshot})
	for _, msg := range a.pending {
		m.enqueueLocked(delivery{kind: deliverMessage, handlers: a.handlers, message: msg})
	}
	a.pending = nil

	m.logger.Info("chat connected", "history", len(snapshot))

	if a.dropped {
		m.handleDropLocked(a.dropErr)
	}
	return nil
}

// abortedErr reports whether a was replaced or the session closed while it was in flight.
func (m *Manager) abortedErr(a *attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == a {
		return nil
	}
	if m.state == model.StateClosed {
		return ErrSessionClosed
	}
	return ErrSuperseded
}

// pump reads one transport until it closes.
func (m *Manager) pump(a *attempt, t Transport) {
	events := t.Events()
	errs := t.Errors()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				m.transportClosed(a, t.Err())
				return
			}
			m.handleEvent(a, ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.logger.Warn("transport error", "error", err)
		}
	}
}

// handleEvent buffers or enqueues one live event.
func (m *Manager) handleEvent(a *attempt, ev Event) {
	if ev.Name != m.cfg.MessageEvent {
		m.logger.Debug("ignoring event", "name", ev.Name)
		return
	}

	var msg model.ChatMessage
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		m.logger.Warn("malformed chat message", "error", err)
		return
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = ev.ReceivedAt
	}
	m.logger.Debug("live message", "author", msg.Author, "sent_at", msg.SentAt, "received_at", ev.ReceivedAt)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != a {
		return
	}
	if !a.synced {
		a.pending = append(a.pending, msg)
		return
	}
	m.enqueueLocked(delivery{kind: deliverMessage, handlers: a.handlers, message: msg})
}

// transportClosed reacts to the transport's events channel closing.
func (m *Manager) transportClosed(a *attempt, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != a {
		return
	}
	if !a.synced {
		// connect is still waiting on history; it sees the failure itself.
		a.dropped = true
		a.dropErr = cause
		return
	}
	m.handleDropLocked(cause)
}

// handleDropLocked moves a connected session to Reconnecting. Must be called with lock held.
func (m *Manager) handleDropLocked(cause error) {
	m.current = nil
	m.logger.Warn("connection lost", "error", cause)
	m.setStateLocked(model.StateReconnecting, &Error{Code: CodeConnectionLost, Err: cause})
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnection timer. Must be called with lock held.
func (m *Manager) scheduleReconnectLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}

	delay := m.policy.Next()
	m.reconnects++
	m.epoch++
	epoch := m.epoch

	m.logger.Info("scheduling reconnection",
		"attempt", m.reconnects,
		"delay", delay,
	)
	m.timer = m.clock.AfterFunc(delay, func() { m.reconnect(epoch) })
}

// reconnect runs one scheduled reconnection attempt.
func (m *Manager) reconnect(epoch uint64) {
	m.mu.Lock()
	if m.state != model.StateReconnecting || m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	n := m.reconnects
	h := m.lastHandlersLocked()
	a := m.newAttemptLocked(m.ctx, h)
	m.mu.Unlock()

	m.logger.Info("attempting reconnection", "attempt", n)

	if err := m.connect(a); err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.current != a {
			return
		}
		m.current = nil
		m.logger.Warn("reconnection failed", "attempt", n, "error", err)
		m.scheduleReconnectLocked()
	}
}

// setStateLocked records a transition and queues it for OnStateChange. Must be called with lock held.
func (m *Manager) setStateLocked(next model.ConnectionState, cause error) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next

	m.logger.Debug("state change", "from", prev, "to", next)
	m.enqueueLocked(delivery{
		kind:     deliverState,
		handlers: m.lastHandlersLocked(),
		event:    model.StateEvent{Old: prev, New: next, Err: cause},
	})
}

// lastHandlersLocked returns the handlers registered by the latest Open.
func (m *Manager) lastHandlersLocked() *Handlers {
	if m.current != nil {
		return m.current.handlers
	}
	return m.handlers
}

func (m *Manager) enqueueLocked(d delivery) {
	if d.handlers != nil {
		m.handlers = d.handlers
	}
	m.deliveries.Push(d)
}

// deliverLoop invokes handlers one at a time in queue order.
func (m *Manager) deliverLoop() {
	for {
		d, ok := m.deliveries.Pop()
		if !ok {
			return
		}

		m.deliverMu.Lock()
		if !m.closed.Load() {
			m.dispatch(d)
		}
		m.deliverMu.Unlock()
	}
}

func (m *Manager) dispatch(d delivery) {
	h := d.handlers
	if h == nil {
		return
	}

	switch d.kind {
	case deliverHistory:
		m.historyDelivered.Add(1)
		if h.OnHistory != nil {
			h.OnHistory(d.history)
		}
	case deliverMessage:
		m.messagesDelivered.Add(1)
		if h.OnMessage != nil {
			h.OnMessage(d.message)
		}
	case deliverState:
		if h.OnStateChange != nil {
			h.OnStateChange(d.event)
		}
	}
}

// normalizeHistory returns a copy of the snapshot in display order. The
// backend's order is kept unless newestFirst says it sends newest-first, in
// which case the copy is reversed. Messages are never sorted by SentAt.
func normalizeHistory(snapshot []model.ChatMessage, newestFirst bool) []model.ChatMessage {
	out := make([]model.ChatMessage, len(snapshot))
	copy(out, snapshot)

	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
