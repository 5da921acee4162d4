package models

import "time"

// MessageType is the kind of message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage || t == MessageFile
}

// Message is a single chat message.
type Message struct {
	ID        string      `json:"id"` // ULID
	ChatID    string      `json:"chatId"`
	SenderID  string      `json:"senderId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"timestamp"`
	Sender    *User       `json:"sender,omitempty"`
}
