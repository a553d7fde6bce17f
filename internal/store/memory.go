package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

// MemoryStore keeps conversations, messages and catalog data in-process.
// It publishes every row change to its own Broker and to any extra publishers.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message // conversation ID -> messages in insertion order
	vendors       map[string]model.Vendor
	products      map[string]model.Product
	byVendor      map[string]string // user|vendor -> conversation ID
	byOrder       map[string]string // user|order -> conversation ID

	broker     *Broker
	publishers []Publisher
	logger     *logger.Logger
	now        func() time.Time
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ ChangeFeed = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store. Changes are also forwarded to pubs.
func NewMemoryStore(log *logger.Logger, pubs ...Publisher) *MemoryStore {
	if log == nil {
		log = logger.Global()
	}
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		vendors:       make(map[string]model.Vendor),
		products:      make(map[string]model.Product),
		byVendor:      make(map[string]string),
		byOrder:       make(map[string]string),
		broker:        NewBroker(),
		publishers:    pubs,
		logger:        log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers fn with the store's in-process broker.
func (s *MemoryStore) Subscribe(ctx context.Context, table model.Table, event model.EventKind, filter model.Filter, fn func(model.ChangeEvent)) (Unsubscribe, error) {
	return s.broker.Subscribe(ctx, table, event, filter, fn)
}

// Broker returns the store's in-process change feed.
func (s *MemoryStore) Broker() *Broker {
	return s.broker
}

// SaveVendor inserts or replaces a vendor.
func (s *MemoryStore) SaveVendor(ctx context.Context, v model.Vendor) {
	s.mu.Lock()
	_, exists := s.vendors[v.ID]
	s.vendors[v.ID] = v
	s.mu.Unlock()

	s.publish(ctx, model.TableVendors, upsertKind(exists), v, nil)
}

// SaveProduct inserts or replaces a product.
func (s *MemoryStore) SaveProduct(ctx context.Context, p model.Product) {
	s.mu.Lock()
	_, exists := s.products[p.ID]
	s.products[p.ID] = p
	s.mu.Unlock()

	s.publish(ctx, model.TableProducts, upsertKind(exists), p, nil)
}

// ListVendors returns all vendors ordered by ID.
func (s *MemoryStore) ListVendors(_ context.Context) ([]model.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Vendor, 0, len(s.vendors))
	for _, v := range s.vendors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListProducts returns all products ordered by ID.
func (s *MemoryStore) ListProducts(_ context.Context) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListConversations returns one page of the user's vendor conversations.
func (s *MemoryStore) ListConversations(_ context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.UserID != userID || conv.ConversationType == model.ConversationTypeSupport {
			continue
		}
		c := *conv
		if c.VendorID != nil {
			if v, ok := s.vendors[*c.VendorID]; ok {
				c.Vendor = v.Summary()
			}
		}
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].LastMessageAt.Equal(convs[j].LastMessageAt) {
			return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
		}
		return convs[i].ID < convs[j].ID
	})

	return paginate(convs, limit, offset), nil
}

// GetConversation retrieves a conversation by ID.
func (s *MemoryStore) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	c := *conv
	return &c, nil
}

// GetOrCreateVendorConversation returns the (user, vendor) conversation, creating it if needed.
func (s *MemoryStore) GetOrCreateVendorConversation(ctx context.Context, userID, vendorID string) (*model.Conversation, error) {
	if userID == "" || vendorID == "" {
		return nil, ErrInvalidConversation
	}
	return s.getOrCreate(ctx, s.byVendor, userID, vendorID, func(c *model.Conversation) {
		c.ConversationType = model.ConversationTypeVendor
		c.VendorID = &vendorID
	})
}

// GetOrCreateSupportConversation returns the (user, order) support conversation, creating it if needed.
func (s *MemoryStore) GetOrCreateSupportConversation(ctx context.Context, userID, orderID string) (*model.Conversation, error) {
	if userID == "" || orderID == "" {
		return nil, ErrInvalidConversation
	}
	return s.getOrCreate(ctx, s.byOrder, userID, orderID, func(c *model.Conversation) {
		c.ConversationType = model.ConversationTypeSupport
		c.OrderID = &orderID
	})
}

func (s *MemoryStore) getOrCreate(ctx context.Context, index map[string]string, userID, ref string, init func(*model.Conversation)) (*model.Conversation, error) {
	key := userID + "|" + ref

	s.mu.Lock()
	if id, ok := index[key]; ok {
		c := *s.conversations[id]
		s.mu.Unlock()
		return &c, nil
	}

	now := s.now()
	conv := &model.Conversation{
		ID:            uuid.Must(uuid.NewV7()).String(),
		UserID:        userID,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	init(conv)
	if !conv.Valid() {
		s.mu.Unlock()
		return nil, ErrInvalidConversation
	}
	s.conversations[conv.ID] = conv
	index[key] = conv.ID
	c := *conv
	s.mu.Unlock()

	s.logger.Debug("conversation created",
		zap.String("conversation_id", c.ID),
		zap.String("user_id", c.UserID),
		zap.String("type", string(c.ConversationType)),
	)
	s.publish(ctx, model.TableConversations, model.EventInsert, c, nil)
	return &c, nil
}

// DeleteConversation removes a conversation owned by userID and its messages.
func (s *MemoryStore) DeleteConversation(ctx context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if conv.UserID != userID {
		s.mu.Unlock()
		return false, fmt.Errorf("conversation %s: %w", id, ErrForbidden)
	}
	removed := s.messages[id]
	delete(s.messages, id)
	delete(s.conversations, id)
	if conv.VendorID != nil {
		delete(s.byVendor, conv.UserID+"|"+*conv.VendorID)
	}
	if conv.OrderID != nil {
		delete(s.byOrder, conv.UserID+"|"+*conv.OrderID)
	}
	old := *conv
	s.mu.Unlock()

	for _, m := range removed {
		s.publish(ctx, model.TableMessages, model.EventDelete, nil, m)
	}
	s.publish(ctx, model.TableConversations, model.EventDelete, nil, old)
	return true, nil
}

// UnreadCount sums the user's unread counters.
func (s *MemoryStore) UnreadCount(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			total += conv.UnreadCountUser
		}
	}
	return total, nil
}

// ListMessages returns one page of a conversation's messages, oldest first.
func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]model.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return paginate(msgs, limit, offset), nil
}

// InsertMessage stores a message and updates its conversation.
func (s *MemoryStore) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}

	s.mu.Lock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.Must(uuid.NewV7()).String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.Status = model.MessageSent
	stored.ReadAt = nil
	s.messages[stored.ConversationID] = append(s.messages[stored.ConversationID], stored)

	applyMessage(conv, &stored)
	updated := *conv
	s.mu.Unlock()

	s.publish(ctx, model.TableMessages, model.EventInsert, stored, nil)
	s.publish(ctx, model.TableConversations, model.EventUpdate, updated, nil)
	return &stored, nil
}

// MarkRead stamps ReadAt on the other party's unread messages and clears the reader's counter.
func (s *MemoryStore) MarkRead(ctx context.Context, conversationID string, reader model.SenderType) (int, error) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	now := s.now()
	var changed []model.Message
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ReadAt == nil && readsFrom(reader, msgs[i].SenderType) {
			readAt := now
			msgs[i].ReadAt = &readAt
			changed = append(changed, msgs[i])
		}
	}
	before := *conv
	clearUnread(conv, reader)
	updated := *conv
	s.mu.Unlock()

	for _, m := range changed {
		s.publish(ctx, model.TableMessages, model.EventUpdate, m, nil)
	}
	if before.UnreadCountUser != updated.UnreadCountUser || before.UnreadCountVendor != updated.UnreadCountVendor {
		s.publish(ctx, model.TableConversations, model.EventUpdate, updated, nil)
	}
	return len(changed), nil
}

func (s *MemoryStore) publish(ctx context.Context, table model.Table, kind model.EventKind, newRow, oldRow any) {
	ev, err := model.NewChangeEvent(table, kind, newRow, oldRow)
	if err != nil {
		s.logger.Error("failed to build change event", zap.String("table", string(table)), zap.Error(err))
		return
	}
	_ = s.broker.Publish(ctx, ev)
	for _, p := range s.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			s.logger.Warn("failed to publish change",
				zap.String("table", string(table)),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}
	}
}

func upsertKind(exists bool) model.EventKind {
	if exists {
		return model.EventUpdate
	}
	return model.EventInsert
}
