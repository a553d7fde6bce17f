package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
	"github.com/zora-market/marketplace-core/pkg/metrics"
)

const feedMessages = "messages"

var (
	// ErrEmptyMessage is returned when a message has no text after trimming.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrUnknownMessage is returned when retrying a message that is not a failed local send.
	ErrUnknownMessage = errors.New("no failed message with that local id")
)

// Sender identifies who writes through a thread.
type Sender struct {
	ID   string
	Type model.SenderType
	Name string
}

// MessageThread keeps one conversation's messages in sync with the store and
// shows sends optimistically.
type MessageThread struct {
	conversationID string
	sender         Sender
	store          store.MessageStore
	feed           store.ChangeFeed
	logger         *logger.Logger
	now            func() time.Time

	pager    *pager[model.Message]
	watchers watchers[model.MessageSnapshot]
	scope    teardown
	ready    chan struct{}
	start    sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewMessageThread creates a thread for conversationID written to as sender.
func NewMessageThread(conversationID string, sender Sender, ms store.MessageStore, feed store.ChangeFeed, pageSize int, log *logger.Logger) *MessageThread {
	if log == nil {
		log = logger.Global()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MessageThread{
		conversationID: conversationID,
		sender:         sender,
		store:          ms,
		feed:           feed,
		logger:         log.With(zap.String("conversation_id", conversationID), zap.String("feed", feedMessages)),
		now:            func() time.Time { return time.Now().UTC() },
		pager: newPager(pagerOptions[model.Message]{
			pageSize: pageSize,
			key:      model.Message.Key,
			less: func(a, b model.Message) bool {
				return a.CreatedAt.Before(b.CreatedAt)
			},
			carry:    model.Message.IsLocal,
			settle:   dropConfirmed,
			keepTail: true,
		}),
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to message changes for the conversation in the background.
func (t *MessageThread) Start() {
	t.start.Do(func() {
		if t.feed == nil {
			close(t.ready)
			return
		}
		go func() {
			defer close(t.ready)
			unsub, err := t.feed.Subscribe(t.ctx, model.TableMessages, model.EventAll, model.Eq("conversation_id", t.conversationID), t.onChange)
			if err != nil {
				t.logger.Warn("realtime subscription failed", zap.Error(err))
				return
			}
			t.scope.add(unsub)
		}()
	})
}

// Ready is closed when subscription setup has finished.
func (t *MessageThread) Ready() <-chan struct{} {
	return t.ready
}

func (t *MessageThread) onChange(ev model.ChangeEvent) {
	if t.scope.isClosed() {
		return
	}
	metrics.RealtimeEventsTotal.WithLabelValues(string(ev.Table), string(ev.Kind)).Inc()
	t.resync()
}

// Load replaces the list with the first page.
func (t *MessageThread) Load(ctx context.Context) {
	t.run(ctx, loadInitial)
}

// Refresh reloads the first page.
func (t *MessageThread) Refresh(ctx context.Context) {
	t.run(ctx, loadRefresh)
}

// LoadMore appends the next page.
func (t *MessageThread) LoadMore(ctx context.Context) bool {
	return t.run(ctx, loadMore)
}

func (t *MessageThread) resync() {
	t.run(t.ctx, loadResync)
}

func (t *MessageThread) run(ctx context.Context, mode loadMode) bool {
	merged, err := t.pager.load(ctx, mode, t.fetch, t.notify)
	if mode == loadMore && !merged && err == nil {
		return false
	}
	metrics.RecordFeedLoad(feedMessages, mode.String(), err)
	if err != nil {
		t.logger.Error("failed to load messages", zap.String("mode", mode.String()), zap.Error(err))
		return false
	}
	return merged
}

func (t *MessageThread) fetch(ctx context.Context, limit, offset int) ([]model.Message, error) {
	return t.store.ListMessages(ctx, t.conversationID, limit, offset)
}

// Send shows text immediately as a pending message, then stores it. On success
// the pending entry is replaced by the stored row; on failure it stays, marked
// failed, and can be retried. Neither path moves the pagination cursor.
func (t *MessageThread) Send(ctx context.Context, text string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, ErrEmptyMessage
	}

	localID := uuid.NewString()
	local := model.Message{
		ID:             localID,
		LocalID:        localID,
		ConversationID: t.conversationID,
		SenderID:       t.sender.ID,
		SenderType:     t.sender.Type,
		SenderName:     t.sender.Name,
		Text:           text,
		CreatedAt:      t.now(),
		Status:         model.MessagePending,
	}
	t.pager.update(func(items []model.Message) []model.Message {
		return append(items, local)
	})
	t.notify()

	return t.deliver(ctx, local)
}

// Retry re-sends a failed message.
func (t *MessageThread) Retry(ctx context.Context, localID string) (model.Message, error) {
	var (
		found model.Message
		ok    bool
	)
	t.pager.update(func(items []model.Message) []model.Message {
		for i := range items {
			if items[i].LocalID == localID && items[i].Status == model.MessageFailed {
				items[i].Status = model.MessagePending
				found, ok = items[i], true
			}
		}
		return items
	})
	if !ok {
		return model.Message{}, ErrUnknownMessage
	}
	t.notify()

	return t.deliver(ctx, found)
}

func (t *MessageThread) deliver(ctx context.Context, local model.Message) (model.Message, error) {
	stored, err := t.store.InsertMessage(ctx, &model.Message{
		ConversationID: local.ConversationID,
		SenderID:       local.SenderID,
		SenderType:     local.SenderType,
		SenderName:     local.SenderName,
		Text:           local.Text,
		LocalID:        local.LocalID,
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues(string(local.SenderType), "failed").Inc()
		t.logger.Error("failed to send message", zap.String("local_id", local.LocalID), zap.Error(err))

		local.Status = model.MessageFailed
		t.pager.update(func(items []model.Message) []model.Message {
			for i := range items {
				if items[i].LocalID == local.LocalID && items[i].IsLocal() {
					items[i].Status = model.MessageFailed
				}
			}
			return items
		})
		t.notify()
		return local, fmt.Errorf("send message: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(string(stored.SenderType), "sent").Inc()
	confirmed := *stored
	t.pager.update(func(items []model.Message) []model.Message {
		return mergeByKey(model.Message.Key, items, []model.Message{confirmed})
	})
	t.notify()
	return confirmed, nil
}

// MarkRead marks the other party's messages as read.
func (t *MessageThread) MarkRead(ctx context.Context) (int, error) {
	n, err := t.store.MarkRead(ctx, t.conversationID, t.sender.Type)
	if err != nil {
		t.logger.Error("failed to mark messages read", zap.Error(err))
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// Snapshot returns the current messages, oldest first.
func (t *MessageThread) Snapshot() model.MessageSnapshot {
	v := t.pager.view()
	return model.MessageSnapshot{
		ConversationID: t.conversationID,
		Messages:       v.items,
		HasMore:        v.hasMore,
		Offset:         v.cursor,
		State:          string(v.state),
	}
}

// Watch calls fn with the current snapshot and again after every change.
func (t *MessageThread) Watch(fn func(model.MessageSnapshot)) (cancel func()) {
	cancel = t.watchers.add(fn)
	fn(t.Snapshot())
	return cancel
}

func (t *MessageThread) notify() {
	if t.watchers.len() == 0 {
		return
	}
	t.watchers.notify(t.Snapshot())
}

// Close releases realtime subscriptions, including ones still being set up.
func (t *MessageThread) Close() {
	t.cancel()
	t.scope.close()
}

// dropConfirmed removes local entries whose stored row is already present.
func dropConfirmed(items []model.Message) []model.Message {
	confirmed := make(map[string]bool)
	for _, m := range items {
		if !m.IsLocal() && m.LocalID != "" {
			confirmed[m.LocalID] = true
		}
	}
	if len(confirmed) == 0 {
		return items
	}
	out := items[:0]
	for _, m := range items {
		if m.IsLocal() && confirmed[m.LocalID] {
			continue
		}
		out = append(out, m)
	}
	return out
}
