// Package model defines data structures for the marketplace core.
package model

import (
	"time"
)

// ConversationType tags who the user is talking to.
type ConversationType string

const (
	ConversationTypeVendor  ConversationType = "vendor"
	ConversationTypeSupport ConversationType = "support"
)

// Conversation is a persistent thread between a user and either a vendor or order support.
// VendorID and OrderID are mutually exclusive.
type Conversation struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	VendorID          *string          `json:"vendor_id,omitempty"`
	OrderID           *string          `json:"order_id,omitempty"`
	ConversationType  ConversationType `json:"conversation_type"`
	LastMessageAt     time.Time        `json:"last_message_at"`
	LastMessageText   *string          `json:"last_message_text,omitempty"`
	UnreadCountUser   int              `json:"unread_count_user"`
	UnreadCountVendor int              `json:"unread_count_vendor"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`

	// Joined vendor data, populated on list.
	Vendor *VendorSummary `json:"vendor,omitempty"`
}

// Key returns the deduplication key.
func (c Conversation) Key() string { return c.ID }

// Valid reports whether the vendor/order exclusivity holds for the tagged type.
func (c Conversation) Valid() bool {
	switch c.ConversationType {
	case ConversationTypeVendor:
		return c.VendorID != nil && c.OrderID == nil
	case ConversationTypeSupport:
		return c.OrderID != nil && c.VendorID == nil
	default:
		return false
	}
}

// VendorSummary is the slice of vendor data joined onto a conversation.
type VendorSummary struct {
	ID       string `json:"id"`
	ShopName string `json:"shop_name"`
	LogoURL  string `json:"logo_url,omitempty"`
	Slug     string `json:"slug"`
}

// OpenConversationRequest is the request to get or create a conversation.
// Exactly one of VendorID and OrderID must be set.
type OpenConversationRequest struct {
	VendorID string `json:"vendor_id,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	UnreadTotal   int            `json:"unread_total"`
	HasMore       bool           `json:"has_more"`
	NextOffset    int            `json:"next_offset"`
}

// ConversationSnapshot is the synchronized conversation list handed to observers.
type ConversationSnapshot struct {
	Conversations []Conversation `json:"conversations"`
	UnreadTotal   int            `json:"unread_total"`
	HasMore       bool           `json:"has_more"`
	Offset        int            `json:"offset"`
	State         string         `json:"state"`
}
