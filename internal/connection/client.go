package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSDialer opens WebSocket transports to the chat backend.
type WSDialer struct {
	cfg    TransportConfig
	logger *slog.Logger
}

// NewWSDialer creates a WebSocket dialer.
func NewWSDialer(cfg TransportConfig, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDialer{cfg: cfg, logger: logger}
}

// Dial establishes the WebSocket connection and starts its loops.
func (d *WSDialer) Dial(ctx context.Context) (Transport, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	for k, vals := range d.cfg.Header {
		for _, v := range vals {
			header.Add(k, v)
		}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.cfg.URL, err)
	}

	t := newWSTransport(conn, d.cfg, d.logger)
	t.start()

	d.logger.Debug("websocket connected", "url", d.cfg.URL)
	return t, nil
}

// wsTransport implements Transport over a gorilla WebSocket connection.
type wsTransport struct {
	cfg    TransportConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	events chan Event
	errors chan error
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.Mutex
	lastPingAt time.Time
	err        error
	closeOnce  sync.Once

	// Invocation/completion correlation
	pendingMu sync.Mutex
	pending   map[string]chan ServerMessage
}

func newWSTransport(conn *websocket.Conn, cfg TransportConfig, logger *slog.Logger) *wsTransport {
	size := cfg.EventBufferSize
	if size < 1 {
		size = 1
	}
	return &wsTransport{
		cfg:        cfg,
		logger:     logger,
		conn:       conn,
		events:     make(chan Event, size),
		errors:     make(chan error, 8),
		done:       make(chan struct{}),
		lastPingAt: time.Now(),
		pending:    make(map[string]chan ServerMessage),
	}
}

func (t *wsTransport) start() {
	// Server ping: answer with pong and note liveness.
	t.conn.SetPingHandler(func(data string) error {
		t.touch()
		return t.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	t.conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})

	go t.readLoop()
	if t.cfg.PingInterval > 0 {
		go t.heartbeatLoop()
	}
}

func (t *wsTransport) touch() {
	t.mu.Lock()
	t.lastPingAt = time.Now()
	t.mu.Unlock()
}

// Invoke sends an invocation and waits for its completion.
func (t *wsTransport) Invoke(ctx context.Context, method string, args []any, result any) error {
	if args == nil {
		args = []any{}
	}
	id := uuid.NewString()
	respCh := make(chan ServerMessage, 1)

	t.pendingMu.Lock()
	select {
	case <-t.done:
		t.pendingMu.Unlock()
		return &Error{Code: CodeConnectionLost, Err: t.Err()}
	default:
	}
	t.pending[id] = respCh
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	data, err := json.Marshal(Command{Type: frameInvocation, ID: id, Method: method, Args: args})
	if err != nil {
		return fmt.Errorf("marshal %s invocation: %w", method, err)
	}
	if err := t.write(data); err != nil {
		return &Error{Code: CodeConnectionLost, Err: err}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return &Error{Code: CodeConnectionLost, Err: t.Err()}
	case resp := <-respCh:
		if resp.Error != nil {
			reason := resp.Error.Message
			if reason == "" {
				reason = resp.Error.Code
			}
			return &Error{Code: CodeRemoteRejected, Reason: reason}
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Events returns the live events channel.
func (t *wsTransport) Events() <-chan Event {
	return t.events
}

// Errors returns the non-fatal errors channel.
func (t *wsTransport) Errors() <-chan error {
	return t.errors
}

// Err returns why the transport closed.
func (t *wsTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close gracefully closes the connection.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.setErr(ErrAlreadyClosed)
		close(t.done)

		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

// shutdown closes the connection because of a failure.
func (t *wsTransport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		t.setErr(cause)
		close(t.done)
		_ = t.conn.Close()
	})
}

func (t *wsTransport) setErr(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
}

func (t *wsTransport) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames, routes completions and forwards events. It owns the
// events channel and closes it on exit.
func (t *wsTransport) readLoop() {
	defer close(t.events)

	for {
		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			t.shutdown(err)
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.reportError(fmt.Errorf("decode frame: %w", err))
			continue
		}

		switch msg.Type {
		case frameCompletion:
			t.routeCompletion(msg)
		case frameEvent:
			ev := Event{Name: msg.Name, Data: msg.Data, ReceivedAt: receivedAt}
			select {
			case t.events <- ev:
			case <-t.done:
				return
			}
		default:
			t.reportError(fmt.Errorf("unknown frame type %q", msg.Type))
		}
	}
}

// routeCompletion hands a completion to the waiting Invoke call.
func (t *wsTransport) routeCompletion(msg ServerMessage) {
	t.pendingMu.Lock()
	ch, ok := t.pending[msg.ID]
	if ok {
		delete(t.pending, msg.ID)
	}
	t.pendingMu.Unlock()

	if !ok {
		t.logger.Debug("completion for unknown invocation", "id", msg.ID)
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

func (t *wsTransport) reportError(err error) {
	select {
	case t.errors <- err:
	default:
		t.logger.Warn("transport error dropped, channel full", "error", err)
	}
}

// heartbeatLoop pings the server and closes stale connections.
func (t *wsTransport) heartbeatLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				t.reportError(fmt.Errorf("send ping: %w", err))
			}

			t.mu.Lock()
			lastPing := t.lastPingAt
			t.mu.Unlock()

			if t.cfg.PingTimeout > 0 && time.Since(lastPing) > t.cfg.PingTimeout {
				t.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", t.cfg.PingTimeout,
				)
				t.shutdown(ErrStaleConnection)
				return
			}
		}
	}
}
