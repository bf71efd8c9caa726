package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChatMessage_DecodeWireFormat(t *testing.T) {
	raw := `{"author":"ann","body":"hi","sentAt":"2024-03-01T10:15:00Z"}`

	var msg ChatMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if msg.Author != "ann" {
		t.Errorf("Author = %q, want %q", msg.Author, "ann")
	}
	if msg.Body != "hi" {
		t.Errorf("Body = %q, want %q", msg.Body, "hi")
	}
	want := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	if !msg.SentAt.Equal(want) {
		t.Errorf("SentAt = %v, want %v", msg.SentAt, want)
	}
}

func TestCloneMessages(t *testing.T) {
	if CloneMessages(nil) != nil {
		t.Error("CloneMessages(nil) should be nil")
	}

	orig := []ChatMessage{{Author: "ann", Body: "one"}, {Author: "bob", Body: "two"}}
	clone := CloneMessages(orig)
	clone[0].Body = "changed"

	if orig[0].Body != "one" {
		t.Errorf("original mutated through clone: %q", orig[0].Body)
	}
	if len(clone) != len(orig) {
		t.Errorf("len(clone) = %d, want %d", len(clone), len(orig))
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateClosed, "closed"},
		{ConnectionState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
