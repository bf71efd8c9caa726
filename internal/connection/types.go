package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rickgao/library-chat/internal/model"
)

// ErrorCode categorizes errors surfaced by the chat subsystem.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeTransportUnavailable
	CodeConnectionLost
	CodeNotConnected
	CodeRemoteRejected
)

// String returns the string representation of an ErrorCode.
func (c ErrorCode) String() string {
	switch c {
	case CodeTransportUnavailable:
		return "transport unavailable"
	case CodeConnectionLost:
		return "connection lost"
	case CodeNotConnected:
		return "not connected"
	case CodeRemoteRejected:
		return "remote rejected"
	default:
		return "unknown"
	}
}

// Error is a categorized chat error. Two Errors match under errors.Is when
// their codes are equal, so the package sentinels below can be used as targets.
type Error struct {
	Code   ErrorCode
	Reason string // backend-provided reason (CodeRemoteRejected)
	Err    error  // underlying cause
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code.String()
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Errors
var (
	ErrTransportUnavailable = &Error{Code: CodeTransportUnavailable}
	ErrConnectionLost       = &Error{Code: CodeConnectionLost}
	ErrNotConnected         = &Error{Code: CodeNotConnected}
	ErrRemoteRejected       = &Error{Code: CodeRemoteRejected}

	ErrSessionClosed   = errors.New("chat session closed")
	ErrSuperseded      = errors.New("connection attempt superseded")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("transport already closed")
)

// Frame types of the wire envelope.
const (
	frameInvocation = "invocation"
	frameCompletion = "completion"
	frameEvent      = "event"
)

// Default remote surface names.
const (
	DefaultHistoryMethod   = "FetchHistory"
	DefaultBroadcastMethod = "Broadcast"
	DefaultMessageEvent    = "ReceiveMessage"
)

// Command is an invocation sent to the server.
type Command struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// ServerMessage is any frame sent by the server: a completion or an event.
type ServerMessage struct {
	Type   string          `json:"type"`             // "completion" or "event"
	ID     string          `json:"id,omitempty"`     // completion only
	Result json.RawMessage `json:"result,omitempty"` // completion only
	Error  *ErrorMsg       `json:"error,omitempty"`  // completion only
	Name   string          `json:"name,omitempty"`   // event only
	Data   json.RawMessage `json:"data,omitempty"`   // event only
}

// ErrorMsg is the error content of a failed completion.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is a live event pushed by the server.
type Event struct {
	Name       string
	Data       json.RawMessage
	ReceivedAt time.Time // local timestamp when the frame was read
}

// TransportConfig configures the WebSocket transport.
type TransportConfig struct {
	URL              string        // e.g. wss://library.example.com/hubs/chat
	Header           http.Header   // extra upgrade headers (credentials, user agent)
	HandshakeTimeout time.Duration // WebSocket handshake deadline
	WriteTimeout     time.Duration // write deadline for frames
	PingInterval     time.Duration // how often to ping the server
	PingTimeout      time.Duration // max time without ping/pong before the connection is stale
	EventBufferSize  int           // events channel buffer size
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      45 * time.Second,
		EventBufferSize:  256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	HistoryMethod      string          // remote method returning the history snapshot
	BroadcastMethod    string          // remote method taking (senderID, body)
	MessageEvent       string          // live event name carrying a ChatMessage
	HistoryNewestFirst bool            // backend returns history newest-first; reversed before delivery
	ReconnectDelays    []time.Duration // backoff schedule; the last delay repeats
	ConnectTimeout     time.Duration   // per-attempt dial deadline (0 = none)
	InvokeTimeout      time.Duration   // history fetch and send deadline (0 = none)
	QueueInitialSize   int             // initial capacity of the delivery queue
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HistoryMethod:    DefaultHistoryMethod,
		BroadcastMethod:  DefaultBroadcastMethod,
		MessageEvent:     DefaultMessageEvent,
		ReconnectDelays:  DefaultReconnectDelays(),
		ConnectTimeout:   15 * time.Second,
		InvokeTimeout:    10 * time.Second,
		QueueInitialSize: 64,
	}
}

// Handlers receive everything the manager delivers. All of them run on the
// manager's delivery goroutine, one at a time, in delivery order. A handler
// must not call Manager.Close synchronously; use `go m.Close()` instead.
type Handlers struct {
	OnMessage     func(model.ChatMessage)
	OnHistory     func([]model.ChatMessage)
	OnStateChange func(model.StateEvent)
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State             model.ConnectionState
	ReconnectAttempts int       // attempts scheduled since the last successful connect
	ConnectedAt       time.Time // zero unless connected
	HistoryDelivered  int64
	MessagesDelivered int64
	QueueLen          int // deliveries waiting for the handler goroutine
	QueueCapacity     int
	QueueGrowCount    int
}
