// Package store defines the data access interfaces used by the marketplace core
// and their in-memory and Postgres implementations.
package store

import (
	"context"
	"errors"

	"github.com/zora-market/marketplace-core/internal/model"
)

var (
	// ErrNotFound is returned when a conversation or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller does not own the conversation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidConversation is returned when vendor/order exclusivity would be violated.
	ErrInvalidConversation = errors.New("invalid conversation")
)

// ConversationStore persists conversations.
type ConversationStore interface {
	// ListConversations returns the user's vendor conversations ordered by
	// LastMessageAt descending, with the vendor summary joined.
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetOrCreateVendorConversation(ctx context.Context, userID, vendorID string) (*model.Conversation, error)
	GetOrCreateSupportConversation(ctx context.Context, userID, orderID string) (*model.Conversation, error)
	// DeleteConversation removes a conversation owned by userID together with its messages.
	DeleteConversation(ctx context.Context, id, userID string) (bool, error)
	// UnreadCount sums UnreadCountUser over all of the user's conversations.
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// MessageStore persists messages.
type MessageStore interface {
	// ListMessages returns messages ordered by CreatedAt ascending.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
	// InsertMessage stores msg and updates the parent conversation's last message
	// and the receiving party's unread counter.
	InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	// MarkRead stamps ReadAt on unread messages from the other party and returns how many changed.
	MarkRead(ctx context.Context, conversationID string, reader model.SenderType) (int, error)
}

// CatalogStore reads vendors and products for ranking.
type CatalogStore interface {
	ListVendors(ctx context.Context) ([]model.Vendor, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
}

// Unsubscribe releases a change subscription. It is safe to call more than once.
type Unsubscribe func()

// ChangeFeed delivers row changes to subscribers.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table model.Table, event model.EventKind, filter model.Filter, fn func(model.ChangeEvent)) (Unsubscribe, error)
}

// Publisher receives row changes produced by a store.
type Publisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
}

// Store is the full data surface.
type Store interface {
	ConversationStore
	MessageStore
	CatalogStore
}

// readsFrom reports whether a reader of type reader clears messages sent by sender.
// Users read everything that is not their own; vendors and support read the user's messages.
func readsFrom(reader, sender model.SenderType) bool {
	if reader == model.SenderUser {
		return sender != model.SenderUser
	}
	return sender == model.SenderUser
}

// applyMessage updates conv for a newly stored message.
func applyMessage(conv *model.Conversation, msg *model.Message) {
	if msg.CreatedAt.After(conv.LastMessageAt) {
		conv.LastMessageAt = msg.CreatedAt
	}
	text := msg.Text
	conv.LastMessageText = &text
	if msg.SenderType == model.SenderUser {
		conv.UnreadCountVendor++
	} else {
		conv.UnreadCountUser++
	}
	conv.UpdatedAt = msg.CreatedAt
}

// clearUnread zeroes the reader's unread counter on conv.
func clearUnread(conv *model.Conversation, reader model.SenderType) {
	if reader == model.SenderUser {
		conv.UnreadCountUser = 0
	} else {
		conv.UnreadCountVendor = 0
	}
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}
