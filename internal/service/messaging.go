package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
	"github.com/zora-market/marketplace-core/pkg/metrics"
)

// MessagingService handles request-scoped conversation operations for a user.
type MessagingService struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	feed          store.ChangeFeed
	logger        *logger.Logger

	conversationPageSize int
	messagePageSize      int
}

// NewMessagingService creates a new messaging service.
func NewMessagingService(
	conversations store.ConversationStore,
	messages store.MessageStore,
	feed store.ChangeFeed,
	conversationPageSize, messagePageSize int,
	log *logger.Logger,
) *MessagingService {
	return &MessagingService{
		conversations:        conversations,
		messages:             messages,
		feed:                 feed,
		logger:               log,
		conversationPageSize: conversationPageSize,
		messagePageSize:      messagePageSize,
	}
}

// Open gets or creates the user's conversation with a vendor, or the support
// conversation for an order. Exactly one of the request fields must be set.
func (s *MessagingService) Open(ctx context.Context, userID string, req *model.OpenConversationRequest) (*model.Conversation, error) {
	vendorID := strings.TrimSpace(req.VendorID)
	orderID := strings.TrimSpace(req.OrderID)

	var (
		conv *model.Conversation
		err  error
	)
	switch {
	case vendorID != "" && orderID == "":
		conv, err = s.conversations.GetOrCreateVendorConversation(ctx, userID, vendorID)
	case orderID != "" && vendorID == "":
		conv, err = s.conversations.GetOrCreateSupportConversation(ctx, userID, orderID)
	default:
		return nil, fmt.Errorf("exactly one of vendor_id and order_id is required: %w", store.ErrInvalidConversation)
	}
	if err != nil {
		s.logger.Error("failed to open conversation", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	return conv, nil
}

// Authorize returns the conversation when userID owns it. Conversations owned
// by someone else are reported as not found.
func (s *MessagingService) Authorize(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}
	return conv, nil
}

// ListConversations returns one page of the user's conversations plus the unread total.
func (s *MessagingService) ListConversations(ctx context.Context, userID string, limit, offset int) (*model.ListConversationsResponse, error) {
	if limit <= 0 {
		limit = s.conversationPageSize
	}
	convs, err := s.conversations.ListConversations(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	unread, err := s.conversations.UnreadCount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread count: %w", err)
	}
	return &model.ListConversationsResponse{
		Conversations: convs,
		UnreadTotal:   unread,
		HasMore:       len(convs) == limit,
		NextOffset:    offset + len(convs),
	}, nil
}

// ListMessages returns one page of a conversation the user owns.
func (s *MessagingService) ListMessages(ctx context.Context, userID, conversationID string, limit, offset int) (*model.ListMessagesResponse, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.messagePageSize
	}
	msgs, err := s.messages.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &model.ListMessagesResponse{
		Messages:   msgs,
		HasMore:    len(msgs) == limit,
		NextOffset: offset + len(msgs),
	}, nil
}

// Send stores a user message in a conversation the user owns.
func (s *MessagingService) Send(ctx context.Context, userID, conversationID string, req *model.SendMessageRequest) (*model.Message, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	msg, err := s.messages.InsertMessage(ctx, &model.Message{
		ConversationID: conversationID,
		SenderID:       userID,
		SenderType:     model.SenderUser,
		Text:           text,
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues(string(model.SenderUser), "failed").Inc()
		s.logger.Error("failed to send message", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, fmt.Errorf("send message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.SenderUser), "sent").Inc()
	return msg, nil
}

// MarkRead marks the other party's messages as read for the user.
func (s *MessagingService) MarkRead(ctx context.Context, userID, conversationID string) (int, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return 0, err
	}
	return s.messages.MarkRead(ctx, conversationID, model.SenderUser)
}

// Delete removes a conversation the user owns.
func (s *MessagingService) Delete(ctx context.Context, userID, conversationID string) error {
	_, err := s.conversations.DeleteConversation(ctx, conversationID, userID)
	if errors.Is(err, store.ErrForbidden) {
		return fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}
	return err
}

// UnreadCount returns the user's total unread messages.
func (s *MessagingService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.conversations.UnreadCount(ctx, userID)
}

// ConversationFeed creates a started feed for userID and loads its first page
// once its subscriptions are in place. The caller must Close it.
func (s *MessagingService) ConversationFeed(ctx context.Context, userID string) *ConversationFeed {
	f := NewConversationFeed(userID, s.conversations, s.feed, s.conversationPageSize, s.logger)
	f.Start()
	awaitReady(ctx, f.Ready())
	f.Load(ctx)
	return f
}

// MessageThread creates a started thread for a conversation the user owns and
// loads its first page once its subscription is in place. The caller must Close it.
func (s *MessagingService) MessageThread(ctx context.Context, userID, conversationID string) (*MessageThread, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	t := NewMessageThread(conversationID, Sender{ID: userID, Type: model.SenderUser}, s.messages, s.feed, s.messagePageSize, s.logger)
	t.Start()
	awaitReady(ctx, t.Ready())
	t.Load(ctx)
	return t, nil
}

// awaitReady blocks until ready is closed or ctx is done. A change committed
// after this returns reaches the subscriber, so it cannot fall between the
// first load and the subscription.
func awaitReady(ctx context.Context, ready <-chan struct{}) {
	select {
	case <-ready:
	case <-ctx.Done():
	}
}
