// Package service implements the marketplace core: featured rankings,
// conversation and message synchronization, and support replies.
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
	"github.com/zora-market/marketplace-core/pkg/metrics"
)

const feedConversations = "conversations"

// ConversationFeed keeps one user's conversation list in sync with the store.
type ConversationFeed struct {
	userID string
	store  store.ConversationStore
	feed   store.ChangeFeed
	logger *logger.Logger

	pager    *pager[model.Conversation]
	watchers watchers[model.ConversationSnapshot]
	scope    teardown
	ready    chan struct{}
	start    sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewConversationFeed creates a feed for userID. feed may be nil, in which case
// the list only changes on explicit loads.
func NewConversationFeed(userID string, cs store.ConversationStore, feed store.ChangeFeed, pageSize int, log *logger.Logger) *ConversationFeed {
	if log == nil {
		log = logger.Global()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConversationFeed{
		userID: userID,
		store:  cs,
		feed:   feed,
		logger: log.With(zap.String("user_id", userID), zap.String("feed", feedConversations)),
		pager: newPager(pagerOptions[model.Conversation]{
			pageSize: pageSize,
			key:      model.Conversation.Key,
			less: func(a, b model.Conversation) bool {
				return a.LastMessageAt.After(b.LastMessageAt)
			},
		}),
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to conversation and message changes in the background.
// Ready is closed once both subscription attempts have finished.
func (f *ConversationFeed) Start() {
	f.start.Do(func() {
		if f.feed == nil {
			close(f.ready)
			return
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.subscribe(model.TableConversations, model.EventAll, model.Eq("user_id", f.userID), f.onConversationChange)
		}()
		go func() {
			defer wg.Done()
			f.subscribe(model.TableMessages, model.EventInsert, model.Filter{}, f.onMessageInsert)
		}()
		go func() {
			wg.Wait()
			close(f.ready)
		}()
	})
}

// Ready is closed when subscription setup has finished.
func (f *ConversationFeed) Ready() <-chan struct{} {
	return f.ready
}

func (f *ConversationFeed) subscribe(table model.Table, event model.EventKind, filter model.Filter, fn func(model.ChangeEvent)) {
	unsub, err := f.feed.Subscribe(f.ctx, table, event, filter, fn)
	if err != nil {
		f.logger.Warn("realtime subscription failed",
			zap.String("table", string(table)),
			zap.Error(err),
		)
		return
	}
	f.scope.add(unsub)
}

func (f *ConversationFeed) onConversationChange(ev model.ChangeEvent) {
	if f.scope.isClosed() {
		return
	}
	metrics.RealtimeEventsTotal.WithLabelValues(string(ev.Table), string(ev.Kind)).Inc()
	f.resync()
}

func (f *ConversationFeed) onMessageInsert(ev model.ChangeEvent) {
	if f.scope.isClosed() {
		return
	}
	if !f.knows(ev.New.String("conversation_id")) {
		return
	}
	metrics.RealtimeEventsTotal.WithLabelValues(string(ev.Table), string(ev.Kind)).Inc()
	f.resync()
}

func (f *ConversationFeed) knows(conversationID string) bool {
	if conversationID == "" {
		return false
	}
	for _, c := range f.pager.view().items {
		if c.ID == conversationID {
			return true
		}
	}
	return false
}

// Load replaces the list with the first page.
func (f *ConversationFeed) Load(ctx context.Context) {
	f.run(ctx, loadInitial)
}

// Refresh reloads the first page, as on pull-to-refresh.
func (f *ConversationFeed) Refresh(ctx context.Context) {
	f.run(ctx, loadRefresh)
}

// LoadMore appends the next page. It returns false when a load is already in
// flight, the list is exhausted, or the fetch failed.
func (f *ConversationFeed) LoadMore(ctx context.Context) bool {
	return f.run(ctx, loadMore)
}

// resync refetches everything loaded so far after a realtime change.
func (f *ConversationFeed) resync() {
	f.run(f.ctx, loadResync)
}

func (f *ConversationFeed) run(ctx context.Context, mode loadMode) bool {
	merged, err := f.pager.load(ctx, mode, f.fetch, f.notify)
	if mode == loadMore && !merged && err == nil {
		return false
	}
	metrics.RecordFeedLoad(feedConversations, mode.String(), err)
	if err != nil {
		f.logger.Error("failed to load conversations", zap.String("mode", mode.String()), zap.Error(err))
		return false
	}
	return merged
}

func (f *ConversationFeed) fetch(ctx context.Context, limit, offset int) ([]model.Conversation, error) {
	return f.store.ListConversations(ctx, f.userID, limit, offset)
}

// DeleteConversation deletes a conversation and removes it from the list. On
// failure the list is left unchanged.
func (f *ConversationFeed) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := f.store.DeleteConversation(ctx, conversationID, f.userID); err != nil {
		f.logger.Error("failed to delete conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return fmt.Errorf("delete conversation: %w", err)
	}

	f.pager.update(func(items []model.Conversation) []model.Conversation {
		out := items[:0]
		for _, c := range items {
			if c.ID != conversationID {
				out = append(out, c)
			}
		}
		return out
	})
	f.notify()
	return nil
}

// Snapshot returns the current list and its unread total.
func (f *ConversationFeed) Snapshot() model.ConversationSnapshot {
	v := f.pager.view()
	return model.ConversationSnapshot{
		Conversations: v.items,
		UnreadTotal:   unreadTotal(v.items),
		HasMore:       v.hasMore,
		Offset:        v.cursor,
		State:         string(v.state),
	}
}

// Watch calls fn with the current snapshot and again after every change.
func (f *ConversationFeed) Watch(fn func(model.ConversationSnapshot)) (cancel func()) {
	cancel = f.watchers.add(fn)
	fn(f.Snapshot())
	return cancel
}

func (f *ConversationFeed) notify() {
	if f.watchers.len() == 0 {
		return
	}
	f.watchers.notify(f.Snapshot())
}

// Close releases realtime subscriptions, including ones still being set up.
func (f *ConversationFeed) Close() {
	f.cancel()
	f.scope.close()
}

func unreadTotal(convs []model.Conversation) int {
	total := 0
	for _, c := range convs {
		total += c.UnreadCountUser
	}
	return total
}
