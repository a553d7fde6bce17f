package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zora-market/marketplace-core/internal/middleware"
	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/service"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

// CatalogHandler serves featured vendor and product lists.
type CatalogHandler struct {
	service *service.CatalogService
	logger  *logger.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(svc *service.CatalogService, log *logger.Logger) *CatalogHandler {
	return &CatalogHandler{service: svc, logger: log}
}

// FeaturedVendors handles GET /api/v1/featured/vendors
func (h *CatalogHandler) FeaturedVendors(w http.ResponseWriter, r *http.Request) {
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if err := middleware.ValidateRegion(region); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vendors, err := h.service.FeaturedVendors(r.Context(), region, queryInt(r, "limit", 0, maxPageLimit))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load featured vendors")
		return
	}
	writeJSON(w, http.StatusOK, &model.FeaturedVendorsResponse{Vendors: vendors, Region: region})
}

// FeaturedProducts handles GET /api/v1/featured/products
func (h *CatalogHandler) FeaturedProducts(w http.ResponseWriter, r *http.Request) {
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if err := middleware.ValidateRegion(region); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	products, err := h.service.FeaturedProducts(r.Context(), region, queryInt(r, "limit", 0, maxPageLimit))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load featured products")
		return
	}
	writeJSON(w, http.StatusOK, &model.FeaturedProductsResponse{Products: products, Region: region})
}

// Invalidate handles POST /api/v1/admin/featured/{kind}/invalidate
func (h *CatalogHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if kind != string(model.TableVendors) && kind != string(model.TableProducts) {
		writeError(w, http.StatusBadRequest, "kind must be vendors or products")
		return
	}
	h.service.Invalidate(r.Context(), kind)
	w.WriteHeader(http.StatusNoContent)
}
