// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/zora-market/marketplace-core/internal/service"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

const maxPageLimit = 100

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps domain errors to HTTP statuses. Anything unknown is
// logged and reported as fallback with a 500.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrInvalidConversation):
		writeError(w, http.StatusBadRequest, "exactly one of vendor_id and order_id is required")
	case errors.Is(err, service.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "text cannot be empty")
	default:
		log.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// queryInt reads a non-negative integer query parameter, keeping def when absent
// or malformed. Values above upper are clamped.
func queryInt(r *http.Request, name string, def, upper int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if upper > 0 && v > upper {
		return upper
	}
	return v
}
