package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zora-market/marketplace-core/internal/middleware"
	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/service"
	"github.com/zora-market/marketplace-core/pkg/logger"
	"github.com/zora-market/marketplace-core/pkg/metrics"
)

const defaultHeartbeat = 30 * time.Second

// StreamHandler pushes synchronized conversation and message snapshots over SSE.
type StreamHandler struct {
	service   *service.MessagingService
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.MessagingService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service:   svc,
		logger:    log,
		heartbeat: defaultHeartbeat,
	}
}

// Conversations handles GET /api/v1/conversations/stream
func (h *StreamHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	flusher, ok := startSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	feed := h.service.ConversationFeed(ctx, userID)
	defer feed.Close()

	h.logger.Info("conversation stream opened", zap.String("user_id", userID))
	h.serve(ctx, w, flusher, feed.Ready(),
		func(notify func()) func() {
			return feed.Watch(func(model.ConversationSnapshot) { notify() })
		},
		func() any { return feed.Snapshot() },
	)
	h.logger.Info("conversation stream closed", zap.String("user_id", userID))
}

// Messages handles GET /api/v1/conversations/{id}/stream
func (h *StreamHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	thread, err := h.service.MessageThread(ctx, userID, conversationID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to open message stream")
		return
	}
	defer thread.Close()

	flusher, ok := startSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h.logger.Info("message stream opened",
		zap.String("user_id", userID),
		zap.String("conversation_id", conversationID),
	)
	h.serve(ctx, w, flusher, thread.Ready(),
		func(notify func()) func() {
			return thread.Watch(func(model.MessageSnapshot) { notify() })
		},
		func() any { return thread.Snapshot() },
	)
}

// serve waits for realtime setup, then writes a snapshot event on every change
// and a heartbeat on idle until the client goes away. Changes arriving faster
// than the client reads are coalesced into the latest snapshot.
func (h *StreamHandler) serve(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ready <-chan struct{}, watch func(notify func()) (cancel func()), snapshot func() any) {
	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	select {
	case <-ready:
	case <-ctx.Done():
		return
	}

	changed := make(chan struct{}, 1)
	cancel := watch(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-changed:
			if err := sendSSEEvent(w, flusher, "snapshot", snapshot()); err != nil {
				h.logger.Warn("failed to write snapshot", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return
			}
		}
	}
}

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
