package model

import (
	"time"
)

// SenderType identifies the party that wrote a message.
type SenderType string

const (
	SenderUser    SenderType = "user"
	SenderVendor  SenderType = "vendor"
	SenderSupport SenderType = "support"
)

// Opposite returns the party whose messages a reader of type s marks as read.
func (s SenderType) Opposite() SenderType {
	if s == SenderUser {
		return SenderVendor
	}
	return SenderUser
}

// MessageStatus tracks locally originated messages. Server rows are always sent.
type MessageStatus string

const (
	MessageSent    MessageStatus = "sent"
	MessagePending MessageStatus = "pending"
	MessageFailed  MessageStatus = "failed"
)

// Message is a single entry in a conversation. Immutable after creation except ReadAt.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderType     SenderType `json:"sender_type"`
	SenderName     string     `json:"sender_name,omitempty"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`

	// Client-side bookkeeping for optimistic sends.
	LocalID string        `json:"local_id,omitempty"`
	Status  MessageStatus `json:"status,omitempty"`
}

// Key returns the deduplication key.
func (m Message) Key() string { return m.ID }

// IsLocal reports whether the message has not been confirmed by the store.
func (m Message) IsLocal() bool {
	return m.Status == MessagePending || m.Status == MessageFailed
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextOffset int       `json:"next_offset"`
}

// MessageSnapshot is the synchronized message list handed to observers.
type MessageSnapshot struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	HasMore        bool      `json:"has_more"`
	Offset         int       `json:"offset"`
	State          string    `json:"state"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
