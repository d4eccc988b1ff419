package entity

import (
	"time"

	"github.com/roach88/tandem/internal/ir"
)

// Message types.
const (
	MessageText    = "text"
	MessageSticker = "sticker"
)

// Message is a chat message between the partners.
type Message struct {
	ID          string    `json:"id"`
	PairingID   string    `json:"couple_id"`
	SenderID    string    `json:"sender_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Messages orders by creation, oldest first, as a chat log reads.
var Messages = ir.Kind[Message]{
	Name:  KindMessages,
	Key:   func(m Message) string { return m.ID },
	Scope: func(m Message) string { return m.PairingID },
	Less:  func(a, b Message) bool { return a.CreatedAt.Before(b.CreatedAt) },
	Content: func(m Message) map[string]any {
		return map[string]any{
			"sender_id":    m.SenderID,
			"content":      m.Content,
			"message_type": m.MessageType,
		}
	},
	Stamp: func(m Message, key, scope string, at time.Time) Message {
		m.ID, m.PairingID, m.CreatedAt = key, scope, at
		if m.MessageType == "" {
			m.MessageType = MessageText
		}
		return m
	},
}
