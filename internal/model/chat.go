package model

import (
	"fmt"
	"time"
)

// ChatMessage is a single chat line as produced by the backend.
type ChatMessage struct {
	Author string    `json:"author"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sentAt"`
}

// String formats the message for terminal output.
func (m ChatMessage) String() string {
	return fmt.Sprintf("[%s] %s: %s", m.SentAt.Local().Format("15:04:05"), m.Author, m.Body)
}

// CloneMessages returns a copy of msgs that shares no backing array with it.
func CloneMessages(msgs []ChatMessage) []ChatMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}
