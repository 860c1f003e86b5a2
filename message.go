package planwatch

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind categorizes a conversation message.
type MessageKind string

const (
	MessageKindUser   MessageKind = "user"
	MessageKindSystem MessageKind = "system"
	MessageKindError  MessageKind = "error"
)

// Message is one entry in the visible conversation.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

func newMessage(kind MessageKind, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Text:      text,
		Timestamp: time.Now(),
	}
}
