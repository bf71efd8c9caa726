package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/library-chat/internal/model"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// chatHub answers invocations the way the chat backend does.
func chatHub(history []model.ChatMessage) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		var writeMu sync.Mutex
		write := func(v any) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteJSON(v)
		}

		for {
			var cmd Command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}

			switch cmd.Method {
			case DefaultHistoryMethod:
				result, _ := json.Marshal(history)
				_ = write(ServerMessage{Type: frameCompletion, ID: cmd.ID, Result: result})

			case DefaultBroadcastMethod:
				_ = write(ServerMessage{Type: frameCompletion, ID: cmd.ID})
				author, _ := cmd.Args[0].(string)
				body, _ := cmd.Args[1].(string)
				data, _ := json.Marshal(model.ChatMessage{Author: author, Body: body})
				_ = write(ServerMessage{Type: frameEvent, Name: DefaultMessageEvent, Data: data})

			default:
				_ = write(ServerMessage{
					Type:  frameCompletion,
					ID:    cmd.ID,
					Error: &ErrorMsg{Code: "unknown_method", Message: "method " + cmd.Method + " not found"},
				})
			}
		}
	}
}

func testTransportConfig(server *httptest.Server) TransportConfig {
	cfg := DefaultTransportConfig()
	cfg.URL = wsURL(server)
	cfg.PingInterval = 0
	return cfg
}

func TestWSDialer_InvokeHistory(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history := []model.ChatMessage{
		{Author: "ann", Body: "first", SentAt: at},
		{Author: "bo", Body: "second", SentAt: at.Add(time.Minute)},
	}
	server := mockWSServer(t, chatHub(history))
	defer server.Close()

	tr, err := NewWSDialer(testTransportConfig(server), nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	var got []model.ChatMessage
	if err := tr.Invoke(context.Background(), DefaultHistoryMethod, nil, &got); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(got))
	}
	if got[1].Author != "bo" || got[1].Body != "second" || !got[1].SentAt.Equal(at.Add(time.Minute)) {
		t.Errorf("history[1] = %+v, want bo/second", got[1])
	}
}

func TestWSDialer_InvokeRemoteError(t *testing.T) {
	server := mockWSServer(t, chatHub(nil))
	defer server.Close()

	tr, err := NewWSDialer(testTransportConfig(server), nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	err = tr.Invoke(context.Background(), "DeleteEverything", nil, nil)
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("Invoke error = %v, want ErrRemoteRejected", err)
	}

	var chatErr *Error
	if !errors.As(err, &chatErr) {
		t.Fatalf("Invoke error is %T, want *Error", err)
	}
	if chatErr.Reason != "method DeleteEverything not found" {
		t.Errorf("Reason = %q, want server message", chatErr.Reason)
	}
}

func TestWSDialer_BroadcastEcho(t *testing.T) {
	server := mockWSServer(t, chatHub(nil))
	defer server.Close()

	tr, err := NewWSDialer(testTransportConfig(server), nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	for _, body := range []string{"one", "two", "three"} {
		if err := tr.Invoke(context.Background(), DefaultBroadcastMethod, []any{"ann", body}, nil); err != nil {
			t.Fatalf("Invoke(%s) failed: %v", body, err)
		}
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-tr.Events():
			if ev.Name != DefaultMessageEvent {
				t.Errorf("event name = %q, want %q", ev.Name, DefaultMessageEvent)
			}
			var msg model.ChatMessage
			if err := json.Unmarshal(ev.Data, &msg); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			got = append(got, msg.Body)
		case <-timeout:
			t.Fatalf("timeout waiting for events, got %v", got)
		}
	}

	if strings.Join(got, ",") != "one,two,three" {
		t.Errorf("events = %v, want [one two three]", got)
	}
}

func TestWSDialer_ServerCloseEndsEvents(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		data, _ := json.Marshal(model.ChatMessage{Author: "ann", Body: "bye"})
		_ = conn.WriteJSON(ServerMessage{Type: frameEvent, Name: DefaultMessageEvent, Data: data})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	})
	defer server.Close()

	tr, err := NewWSDialer(testTransportConfig(server), nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	var count int
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tr.Events():
			if !ok {
				if count != 1 {
					t.Errorf("received %d events before close, want 1", count)
				}
				if tr.Err() == nil {
					t.Error("expected Err() to report the close cause")
				}
				return
			}
			count++
		case <-timeout:
			t.Fatal("events channel not closed after server close")
		}
	}
}

func TestWSDialer_InvokeAfterClose(t *testing.T) {
	server := mockWSServer(t, chatHub(nil))
	defer server.Close()

	tr, err := NewWSDialer(testTransportConfig(server), nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	err = tr.Invoke(context.Background(), DefaultBroadcastMethod, []any{"ann", "hi"}, nil)
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Invoke after Close error = %v, want ErrConnectionLost", err)
	}
	if !errors.Is(tr.Err(), ErrAlreadyClosed) {
		t.Errorf("Err() = %v, want ErrAlreadyClosed", tr.Err())
	}
}

func TestWSDialer_InvokeContextCancel(t *testing.T) {
	// Server reads but never answers.
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tr, err := NewWSDialer(testTransportConfig(server), nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = tr.Invoke(ctx, DefaultHistoryMethod, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Invoke error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWSDialer_SendsHeaders(t *testing.T) {
	authCh := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCh <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	cfg := testTransportConfig(server)
	cfg.Header = http.Header{"Authorization": []string{"Bearer abc"}}

	tr, err := NewWSDialer(cfg, nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	if gotAuth := <-authCh; gotAuth != "Bearer abc" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer abc")
	}
}

func TestWSDialer_DialRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewWSDialer(testTransportConfig(server), nil).Dial(context.Background())
	if err == nil {
		t.Fatal("expected Dial to fail")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("Dial error = %v, want status 401", err)
	}
}

func TestWSDialer_PingKeepsAlive(t *testing.T) {
	pings := make(chan struct{}, 10)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(data string) error {
			select {
			case pings <- struct{}{}:
			default:
			}
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testTransportConfig(server)
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = time.Second

	tr, err := NewWSDialer(cfg, nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a ping")
	}
	if tr.Err() != nil {
		t.Errorf("Err() = %v, want nil while alive", tr.Err())
	}
}

func TestError_Is(t *testing.T) {
	cause := errors.New("reset by peer")
	err := &Error{Code: CodeConnectionLost, Err: cause}

	if !errors.Is(err, ErrConnectionLost) {
		t.Error("expected errors.Is(err, ErrConnectionLost)")
	}
	if errors.Is(err, ErrNotConnected) {
		t.Error("did not expect errors.Is(err, ErrNotConnected)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is(err, cause)")
	}
	if got := err.Error(); got != "connection lost: reset by peer" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDefaultConfigs(t *testing.T) {
	tc := DefaultTransportConfig()
	if tc.PingTimeout <= tc.PingInterval {
		t.Errorf("PingTimeout %v should exceed PingInterval %v", tc.PingTimeout, tc.PingInterval)
	}
	if tc.EventBufferSize <= 0 {
		t.Errorf("EventBufferSize = %d, want > 0", tc.EventBufferSize)
	}

	mc := DefaultManagerConfig()
	if mc.HistoryMethod != DefaultHistoryMethod {
		t.Errorf("HistoryMethod = %q, want %q", mc.HistoryMethod, DefaultHistoryMethod)
	}
	if len(mc.ReconnectDelays) != 5 || mc.ReconnectDelays[0] != 0 {
		t.Errorf("ReconnectDelays = %v, want default schedule", mc.ReconnectDelays)
	}
}
