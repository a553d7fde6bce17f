package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/zora-market/marketplace-core/internal/llm"
	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
	"github.com/zora-market/marketplace-core/pkg/metrics"
)

const (
	// SupportSenderName is shown on every support reply.
	SupportSenderName = "Zora Support"
	// SupportSenderID identifies the automatic responder as a sender.
	SupportSenderID = "zora-support"

	// SupportGreeting opens every new support conversation.
	SupportGreeting = "Hello! I see you have a question about your recent order. How can I help you today?"
	// SupportFallbackReply is used when no LLM is configured or the call fails.
	SupportFallbackReply = "Thank you for your message. I'm looking into this for you. Is there anything else I can help with?"

	supportSystemPrompt = "You are the customer support assistant for Zora African Market, a marketplace " +
		"for African vendors and products. Reply to the customer about their order in two or three short, " +
		"friendly sentences. Do not promise refunds or delivery dates; offer to escalate instead."

	supportHistoryLimit = 20
	supportReplyTimeout = 30 * time.Second
	supportMaxInflight  = 8
)

// SupportResponder answers user messages in support conversations.
type SupportResponder struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	feed          store.ChangeFeed
	client        llm.Client
	model         string
	logger        *logger.Logger

	scope    teardown
	inflight sync.WaitGroup
	slots    *semaphore.Weighted
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSupportResponder creates a responder. client may be nil, in which case the
// fallback reply is always used.
func NewSupportResponder(cs store.ConversationStore, ms store.MessageStore, feed store.ChangeFeed, client llm.Client, modelName string, log *logger.Logger) *SupportResponder {
	ctx, cancel := context.WithCancel(context.Background())
	return &SupportResponder{
		conversations: cs,
		messages:      ms,
		feed:          feed,
		client:        client,
		model:         modelName,
		logger:        log.With(zap.String("component", "support_responder")),
		slots:         semaphore.NewWeighted(supportMaxInflight),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start subscribes to new support conversations and user messages.
func (r *SupportResponder) Start(ctx context.Context) error {
	unsubConv, err := r.feed.Subscribe(ctx, model.TableConversations, model.EventInsert,
		model.Eq("conversation_type", string(model.ConversationTypeSupport)), r.onConversation)
	if err != nil {
		return err
	}
	r.scope.add(unsubConv)

	unsubMsg, err := r.feed.Subscribe(ctx, model.TableMessages, model.EventInsert,
		model.Eq("sender_type", string(model.SenderUser)), r.onMessage)
	if err != nil {
		r.scope.close()
		return err
	}
	r.scope.add(unsubMsg)
	return nil
}

func (r *SupportResponder) onConversation(ev model.ChangeEvent) {
	if r.scope.isClosed() {
		return
	}
	conversationID := ev.New.String("id")
	r.dispatch(func(ctx context.Context) {
		r.post(ctx, conversationID, SupportGreeting, "greeting")
	})
}

func (r *SupportResponder) onMessage(ev model.ChangeEvent) {
	if r.scope.isClosed() {
		return
	}
	var msg model.Message
	if err := model.DecodeRow(ev.New, &msg); err != nil {
		r.logger.Warn("dropping malformed message change", zap.Error(err))
		return
	}
	r.dispatch(func(ctx context.Context) {
		r.Respond(ctx, msg)
	})
}

// dispatch runs fn off the publishing goroutine so store writes never wait on the LLM.
// At most supportMaxInflight replies run at once; a reply that cannot start
// before its deadline, or before Close, is dropped.
func (r *SupportResponder) dispatch(fn func(ctx context.Context)) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(r.ctx, supportReplyTimeout)
		defer cancel()
		if err := r.slots.Acquire(ctx, 1); err != nil {
			metrics.SupportRepliesTotal.WithLabelValues("dropped").Inc()
			r.logger.Warn("support reply dropped", zap.Error(err))
			return
		}
		defer r.slots.Release(1)
		fn(ctx)
	}()
}

// Respond replies to msg when it was written by a user into a support conversation.
func (r *SupportResponder) Respond(ctx context.Context, msg model.Message) {
	if msg.SenderType != model.SenderUser || msg.ConversationID == "" {
		return
	}
	conv, err := r.conversations.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		r.logger.Warn("support conversation lookup failed", zap.String("conversation_id", msg.ConversationID), zap.Error(err))
		return
	}
	if conv.ConversationType != model.ConversationTypeSupport {
		return
	}

	text, source := r.compose(ctx, conv)
	r.post(ctx, conv.ID, text, source)
}

// compose asks the LLM for a reply and falls back to the canned text.
func (r *SupportResponder) compose(ctx context.Context, conv *model.Conversation) (string, string) {
	if r.client == nil {
		return SupportFallbackReply, "fallback"
	}

	history, err := r.history(ctx, conv.ID)
	if err != nil {
		r.logger.Warn("failed to load support history", zap.String("conversation_id", conv.ID), zap.Error(err))
		return SupportFallbackReply, "fallback"
	}

	system := supportSystemPrompt
	if conv.OrderID != nil {
		system += " The customer is asking about order " + *conv.OrderID + "."
	}
	resp, err := r.client.Complete(ctx, &llm.CompletionRequest{
		Model:       r.model,
		System:      system,
		Messages:    history,
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		r.logger.Warn("support completion failed",
			zap.String("provider", r.client.Name()),
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return SupportFallbackReply, "fallback"
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return SupportFallbackReply, "fallback"
	}

	r.logger.Debug("support reply generated",
		zap.String("provider", r.client.Name()),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return text, r.client.Name()
}

// history returns the latest messages as chat turns, oldest first.
func (r *SupportResponder) history(ctx context.Context, conversationID string) ([]llm.ChatMessage, error) {
	var all []model.Message
	for offset := 0; ; offset += 100 {
		page, err := r.messages.ListMessages(ctx, conversationID, 100, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < 100 {
			break
		}
	}
	if len(all) > supportHistoryLimit {
		all = all[len(all)-supportHistoryLimit:]
	}

	turns := make([]llm.ChatMessage, 0, len(all))
	for _, m := range all {
		role := llm.RoleAssistant
		if m.SenderType == model.SenderUser {
			role = llm.RoleUser
		}
		turns = append(turns, llm.ChatMessage{Role: role, Content: m.Text})
	}
	return turns, nil
}

func (r *SupportResponder) post(ctx context.Context, conversationID, text, source string) {
	_, err := r.messages.InsertMessage(ctx, &model.Message{
		ConversationID: conversationID,
		SenderID:       SupportSenderID,
		SenderType:     model.SenderSupport,
		SenderName:     SupportSenderName,
		Text:           text,
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues(string(model.SenderSupport), "failed").Inc()
		r.logger.Error("failed to post support reply", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	metrics.MessagesTotal.WithLabelValues(string(model.SenderSupport), "sent").Inc()
	metrics.SupportRepliesTotal.WithLabelValues(source).Inc()
}

// Wait blocks until in-flight replies have finished.
func (r *SupportResponder) Wait() {
	r.inflight.Wait()
}

// Close stops listening, abandons queued replies and waits for running ones.
func (r *SupportResponder) Close() {
	r.scope.close()
	r.cancel()
	r.inflight.Wait()
}
