package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zora-market/marketplace-core/internal/middleware"
	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/service"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.MessagingService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.MessagingService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// Open handles POST /api/v1/conversations
func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.OpenConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateRef("vendor_id", req.VendorID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateRef("order_id", req.OrderID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Open(ctx, userID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to open conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	limit := queryInt(r, "limit", 0, maxPageLimit)
	offset := queryInt(r, "offset", 0, 0)

	resp, err := h.service.ListConversations(ctx, userID, limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Authorize(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(ctx, middleware.GetUserID(ctx), conversationID); err != nil {
		writeServiceError(w, h.logger, err, "failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unread handles GET /api/v1/conversations/unread
func (h *ConversationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := h.service.UnreadCount(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to count unread messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread_total": total})
}
