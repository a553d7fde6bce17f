package service

import (
	"context"
	"errors"
	"testing"

	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

var shopper = Sender{ID: "u-1", Type: model.SenderUser, Name: "Ama"}

func TestMessageThreadSendReconcilesWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	conv := openVendorConversation(t, s, "u-1", "v-1", 2)

	th := NewMessageThread(conv.ID, shopper, s, s, 50, logger.NewNop())
	th.Start()
	defer th.Close()
	waitReady(t, th.Ready())
	th.Load(ctx)

	sent, err := th.Send(ctx, "  is this still available?  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Status != model.MessageSent || sent.Text != "is this still available?" {
		t.Fatalf("unexpected stored message %+v", sent)
	}

	snap := th.Snapshot()
	if len(snap.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(snap.Messages))
	}
	matches := 0
	for _, m := range snap.Messages {
		if m.LocalID == sent.LocalID {
			matches++
			if m.IsLocal() {
				t.Fatalf("pending copy was not replaced: %+v", m)
			}
		}
	}
	if matches != 1 {
		t.Fatalf("expected exactly one copy of the sent message, got %d", matches)
	}
	if last := snap.Messages[len(snap.Messages)-1]; last.ID != sent.ID {
		t.Fatalf("sent message should be last, got %+v", last)
	}
}

func TestMessageThreadRejectsEmptyText(t *testing.T) {
	s := newTestStore()
	conv := openVendorConversation(t, s, "u-1", "v-1", 0)
	th := NewMessageThread(conv.ID, shopper, s, nil, 50, logger.NewNop())
	defer th.Close()

	if _, err := th.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(th.Snapshot().Messages) != 0 {
		t.Fatalf("empty send should not add a message")
	}
}

func TestMessageThreadFailedSendKeepsCursorAndRetries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	conv := openVendorConversation(t, s, "u-1", "v-1", 2)
	ms := &flakyMessages{MessageStore: s, failing: true}

	th := NewMessageThread(conv.ID, shopper, ms, nil, 50, logger.NewNop())
	defer th.Close()
	th.Load(ctx)
	before := th.Snapshot()

	local, err := th.Send(ctx, "hello?")
	if !errors.Is(err, errOffline) {
		t.Fatalf("expected send error, got %v", err)
	}
	if local.Status != model.MessageFailed || local.LocalID == "" {
		t.Fatalf("unexpected local message %+v", local)
	}

	snap := th.Snapshot()
	if len(snap.Messages) != 3 {
		t.Fatalf("failed message should stay visible, got %d messages", len(snap.Messages))
	}
	if got := snap.Messages[2]; got.Status != model.MessageFailed || got.Text != "hello?" {
		t.Fatalf("unexpected failed entry %+v", got)
	}
	if snap.Offset != before.Offset || snap.HasMore != before.HasMore {
		t.Fatalf("failed send moved pagination: %d/%v -> %d/%v", before.Offset, before.HasMore, snap.Offset, snap.HasMore)
	}

	th.Refresh(ctx)
	if got := th.Snapshot().Messages; len(got) != 3 || got[2].Status != model.MessageFailed {
		t.Fatalf("refresh should keep the failed entry, got %+v", got)
	}

	ms.setFailing(false)
	stored, err := th.Retry(ctx, local.LocalID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if stored.Status != model.MessageSent || stored.LocalID != local.LocalID {
		t.Fatalf("unexpected retried message %+v", stored)
	}
	snap = th.Snapshot()
	if len(snap.Messages) != 3 {
		t.Fatalf("retry should replace the failed entry, got %d messages", len(snap.Messages))
	}
	for _, m := range snap.Messages {
		if m.IsLocal() {
			t.Fatalf("local entry left behind: %+v", m)
		}
	}

	if _, err := th.Retry(ctx, local.LocalID); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("retrying a delivered message should fail, got %v", err)
	}
}

func TestMessageThreadPicksUpIncomingMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	conv := openVendorConversation(t, s, "u-1", "v-1", 1)

	th := NewMessageThread(conv.ID, shopper, s, s, 50, logger.NewNop())
	th.Start()
	defer th.Close()
	waitReady(t, th.Ready())
	th.Load(ctx)

	openVendorConversation(t, s, "u-1", "v-1", 1)
	if got := len(th.Snapshot().Messages); got != 2 {
		t.Fatalf("expected realtime message to appear, got %d", got)
	}

	n, err := th.MarkRead(ctx)
	if err != nil || n != 2 {
		t.Fatalf("mark read: n=%d err=%v", n, err)
	}
	if unread, _ := s.UnreadCount(ctx, "u-1"); unread != 0 {
		t.Fatalf("expected no unread messages, got %d", unread)
	}
	for _, m := range th.Snapshot().Messages {
		if m.ReadAt == nil {
			t.Fatalf("message %s not marked read in the thread", m.ID)
		}
	}
}

func TestMessageThreadCloseReleasesSubscription(t *testing.T) {
	s := newTestStore()
	conv := openVendorConversation(t, s, "u-1", "v-1", 0)
	th := NewMessageThread(conv.ID, shopper, s, s, 50, logger.NewNop())
	th.Start()
	waitReady(t, th.Ready())

	th.Close()
	if got := s.Broker().Subscribers(); got != 0 {
		t.Fatalf("expected no subscriptions after close, got %d", got)
	}
}

func TestDropConfirmed(t *testing.T) {
	items := []model.Message{
		{ID: "m-1", LocalID: "l-1", Status: model.MessageSent},
		{ID: "l-1", LocalID: "l-1", Status: model.MessagePending},
		{ID: "l-2", LocalID: "l-2", Status: model.MessageFailed},
	}
	got := dropConfirmed(items)
	if len(got) != 2 || got[0].ID != "m-1" || got[1].ID != "l-2" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestMessageThreadKeepsSentMessageAcrossResyncs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	conv := openVendorConversation(t, s, "u-1", "v-1", 3)

	th := NewMessageThread(conv.ID, shopper, s, s, 2, logger.NewNop())
	th.Start()
	defer th.Close()
	waitReady(t, th.Ready())
	th.Load(ctx)

	sent, err := th.Send(ctx, "can you gift wrap it?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	has := func(id string) bool {
		for _, m := range th.Snapshot().Messages {
			if m.ID == id {
				return true
			}
		}
		return false
	}
	if !has(sent.ID) {
		t.Fatalf("sent message missing right after send")
	}

	openVendorConversation(t, s, "u-1", "v-1", 1)
	snap := th.Snapshot()
	if !has(sent.ID) {
		t.Fatalf("sent message vanished after the vendor replied: %+v", snap.Messages)
	}
	if snap.Offset != 2 || !snap.HasMore {
		t.Fatalf("resync should keep the two-row window, got offset=%d hasMore=%v", snap.Offset, snap.HasMore)
	}

	for th.LoadMore(ctx) {
	}
	snap = th.Snapshot()
	if len(snap.Messages) != 5 || snap.Offset != 5 || snap.HasMore {
		t.Fatalf("expected all 5 messages once paged through, got %d offset=%d hasMore=%v", len(snap.Messages), snap.Offset, snap.HasMore)
	}
	seen := map[string]bool{}
	for i, m := range snap.Messages {
		if seen[m.ID] {
			t.Fatalf("duplicate message %s", m.ID)
		}
		seen[m.ID] = true
		if i > 0 && m.CreatedAt.Before(snap.Messages[i-1].CreatedAt) {
			t.Fatalf("messages out of order at %d", i)
		}
	}
	if snap.Messages[3].ID != sent.ID {
		t.Fatalf("sent message should sit between the history and the reply, got %+v", snap.Messages)
	}
}
