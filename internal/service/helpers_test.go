package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

var errOffline = errors.New("network unavailable")

func newTestStore() *store.MemoryStore {
	return store.NewMemoryStore(logger.NewNop())
}

// openVendorConversation creates a conversation and adds n vendor messages to it.
func openVendorConversation(t *testing.T, s *store.MemoryStore, userID, vendorID string, n int) *model.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := s.GetOrCreateVendorConversation(ctx, userID, vendorID)
	if err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := s.InsertMessage(ctx, &model.Message{
			ConversationID: conv.ID,
			SenderID:       vendorID,
			SenderType:     model.SenderVendor,
			Text:           "hello from " + vendorID,
		}); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}
	return conv
}

func waitReady(t *testing.T, ready <-chan struct{}) {
	t.Helper()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriptions were not set up in time")
	}
}

// countingConversations counts list calls and can fail deletes.
type countingConversations struct {
	store.ConversationStore

	mu         sync.Mutex
	lists      int
	failDelete bool
}

func (c *countingConversations) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	return c.ConversationStore.ListConversations(ctx, userID, limit, offset)
}

func (c *countingConversations) DeleteConversation(ctx context.Context, id, userID string) (bool, error) {
	c.mu.Lock()
	fail := c.failDelete
	c.mu.Unlock()
	if fail {
		return false, errOffline
	}
	return c.ConversationStore.DeleteConversation(ctx, id, userID)
}

func (c *countingConversations) listCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

// flakyMessages fails inserts while failing is set.
type flakyMessages struct {
	store.MessageStore

	mu      sync.Mutex
	failing bool
}

func (f *flakyMessages) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyMessages) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return nil, errOffline
	}
	return f.MessageStore.InsertMessage(ctx, msg)
}

// gatedFeed holds every Subscribe call until release is closed.
type gatedFeed struct {
	release chan struct{}

	mu       sync.Mutex
	released int
}

func (g *gatedFeed) Subscribe(ctx context.Context, _ model.Table, _ model.EventKind, _ model.Filter, _ func(model.ChangeEvent)) (store.Unsubscribe, error) {
	<-g.release
	return func() {
		g.mu.Lock()
		g.released++
		g.mu.Unlock()
	}, nil
}

func (g *gatedFeed) releasedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}
