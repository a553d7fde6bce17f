package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zora-market/marketplace-core/internal/llm"
	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

type fakeLLM struct {
	reply string
	err   error

	mu   sync.Mutex
	last *llm.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.reply, Model: "fake-1"}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) lastRequest() *llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func startResponder(t *testing.T, s *store.MemoryStore, client llm.Client) *SupportResponder {
	t.Helper()
	r := NewSupportResponder(s, s, s, client, "", logger.NewNop())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func messagesOf(t *testing.T, s *store.MemoryStore, conversationID string) []model.Message {
	t.Helper()
	msgs, err := s.ListMessages(context.Background(), conversationID, 0, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

func sendAsUser(t *testing.T, s *store.MemoryStore, conversationID, text string) {
	t.Helper()
	if _, err := s.InsertMessage(context.Background(), &model.Message{
		ConversationID: conversationID,
		SenderID:       "u-1",
		SenderType:     model.SenderUser,
		Text:           text,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestSupportResponderGreetsAndFallsBack(t *testing.T) {
	s := newTestStore()
	r := startResponder(t, s, nil)

	conv, err := s.GetOrCreateSupportConversation(context.Background(), "u-1", "order-42")
	if err != nil {
		t.Fatalf("open support: %v", err)
	}
	r.Wait()

	msgs := messagesOf(t, s, conv.ID)
	if len(msgs) != 1 || msgs[0].Text != SupportGreeting {
		t.Fatalf("expected greeting, got %+v", msgs)
	}
	if msgs[0].SenderType != model.SenderSupport || msgs[0].SenderName != SupportSenderName {
		t.Fatalf("unexpected greeting sender %+v", msgs[0])
	}

	sendAsUser(t, s, conv.ID, "where is my parcel?")
	r.Wait()

	msgs = messagesOf(t, s, conv.ID)
	if len(msgs) != 3 {
		t.Fatalf("expected greeting, question and reply, got %d messages", len(msgs))
	}
	if msgs[2].Text != SupportFallbackReply || msgs[2].SenderType != model.SenderSupport {
		t.Fatalf("unexpected reply %+v", msgs[2])
	}
}

func TestSupportResponderUsesLLMReply(t *testing.T) {
	s := newTestStore()
	client := &fakeLLM{reply: "  Your parcel left Accra this morning.  "}
	r := startResponder(t, s, client)

	conv, _ := s.GetOrCreateSupportConversation(context.Background(), "u-1", "order-7")
	r.Wait()
	sendAsUser(t, s, conv.ID, "where is my parcel?")
	r.Wait()

	msgs := messagesOf(t, s, conv.ID)
	if got := msgs[len(msgs)-1].Text; got != "Your parcel left Accra this morning." {
		t.Fatalf("unexpected reply %q", got)
	}

	req := client.lastRequest()
	if req == nil {
		t.Fatalf("llm was not called")
	}
	if n := len(req.Messages); n != 2 || req.Messages[0].Role != llm.RoleAssistant || req.Messages[1].Role != llm.RoleUser {
		t.Fatalf("unexpected history %+v", req.Messages)
	}
	if req.System == "" {
		t.Fatalf("expected a system prompt")
	}
}

func TestSupportResponderFallsBackOnLLMError(t *testing.T) {
	s := newTestStore()
	r := startResponder(t, s, &fakeLLM{err: errOffline})

	conv, _ := s.GetOrCreateSupportConversation(context.Background(), "u-1", "order-9")
	r.Wait()
	sendAsUser(t, s, conv.ID, "hello")
	r.Wait()

	msgs := messagesOf(t, s, conv.ID)
	if got := msgs[len(msgs)-1].Text; got != SupportFallbackReply {
		t.Fatalf("expected fallback reply, got %q", got)
	}
}

func TestSupportResponderIgnoresVendorConversations(t *testing.T) {
	s := newTestStore()
	r := startResponder(t, s, nil)

	conv := openVendorConversation(t, s, "u-1", "v-1", 0)
	sendAsUser(t, s, conv.ID, "do you ship to Lagos?")
	r.Wait()

	if got := len(messagesOf(t, s, conv.ID)); got != 1 {
		t.Fatalf("vendor conversation should get no automatic reply, got %d messages", got)
	}
}

func TestSupportResponderCloseStopsReplies(t *testing.T) {
	s := newTestStore()
	r := startResponder(t, s, nil)
	r.Close()

	if got := s.Broker().Subscribers(); got != 0 {
		t.Fatalf("expected no subscriptions after close, got %d", got)
	}
	conv, _ := s.GetOrCreateSupportConversation(context.Background(), "u-1", "order-1")
	if got := len(messagesOf(t, s, conv.ID)); got != 0 {
		t.Fatalf("closed responder should not greet, got %d messages", got)
	}
}

// blockingLLM holds every call until release is closed or the call's context ends.
type blockingLLM struct {
	release chan struct{}

	mu      sync.Mutex
	running int
	peak    int
}

func (b *blockingLLM) Complete(ctx context.Context, _ *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	b.mu.Lock()
	b.running++
	b.peak = max(b.peak, b.running)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running--
		b.mu.Unlock()
	}()

	select {
	case <-b.release:
		return &llm.CompletionResponse{Content: "on its way"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingLLM) Name() string { return "blocking" }

func (b *blockingLLM) stats() (running, peak int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running, b.peak
}

func TestSupportResponderBoundsConcurrentReplies(t *testing.T) {
	s := newTestStore()
	client := &blockingLLM{release: make(chan struct{})}
	r := startResponder(t, s, client)

	var convs []*model.Conversation
	for i := 0; i < supportMaxInflight+4; i++ {
		conv, err := s.GetOrCreateSupportConversation(context.Background(), "u-1", fmt.Sprintf("order-%d", i))
		if err != nil {
			t.Fatalf("open support: %v", err)
		}
		convs = append(convs, conv)
	}
	r.Wait()

	for _, conv := range convs {
		sendAsUser(t, s, conv.ID, "any news?")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if running, _ := client.stats(); running == supportMaxInflight {
			break
		}
		if time.Now().After(deadline) {
			running, _ := client.stats()
			t.Fatalf("expected %d replies in flight, got %d", supportMaxInflight, running)
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if _, peak := client.stats(); peak > supportMaxInflight {
		t.Fatalf("at most %d replies may run at once, saw %d", supportMaxInflight, peak)
	}

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not abandon queued replies")
	}
}
