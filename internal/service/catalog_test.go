package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zora-market/marketplace-core/internal/cache"
	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

type countingCatalog struct {
	store.CatalogStore

	mu      sync.Mutex
	vendors int
}

func (c *countingCatalog) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	c.mu.Lock()
	c.vendors++
	c.mu.Unlock()
	return c.CatalogStore.ListVendors(ctx)
}

func (c *countingCatalog) vendorCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vendors
}

func seedVendors(s *store.MemoryStore, n int) {
	for i := 0; i < n; i++ {
		s.SaveVendor(context.Background(), model.Vendor{
			ID:                  fmt.Sprintf("v-%02d", i),
			ShopName:            fmt.Sprintf("Shop %d", i),
			Rating:              3 + float64(i%3)*0.5,
			ReviewCount:         10 * i,
			IsVerified:          true,
			DeliveryTimeMax:     45,
			CulturalSpecialties: []string{"West African"},
			CreatedAt:           time.Now().Add(-24 * time.Hour),
		})
	}
}

func TestCatalogServesFromCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	seedVendors(s, 12)
	catalog := &countingCatalog{CatalogStore: s}
	c := cache.NewMemoryCache()
	defer c.Close()

	svc := NewCatalogService(catalog, c, nil, time.Minute, "test:featured", logger.NewNop())

	first, err := svc.FeaturedVendors(ctx, "", 0)
	if err != nil {
		t.Fatalf("featured: %v", err)
	}
	if len(first) != 10 {
		t.Fatalf("expected default limit of 10, got %d", len(first))
	}
	second, err := svc.FeaturedVendors(ctx, "", 0)
	if err != nil {
		t.Fatalf("featured: %v", err)
	}
	if catalog.vendorCalls() != 1 {
		t.Fatalf("expected cached result, store was read %d times", catalog.vendorCalls())
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("cached order differs at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}

	if _, err := svc.FeaturedVendors(ctx, "West African", 0); err != nil {
		t.Fatalf("featured: %v", err)
	}
	if catalog.vendorCalls() != 2 {
		t.Fatalf("region should use its own cache entry")
	}
}

func TestCatalogInvalidatesOnCatalogChange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	seedVendors(s, 3)
	catalog := &countingCatalog{CatalogStore: s}
	c := cache.NewMemoryCache()
	defer c.Close()

	svc := NewCatalogService(catalog, c, nil, time.Minute, "test:featured", logger.NewNop())
	if err := svc.Start(ctx, s); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()

	if _, err := svc.FeaturedVendors(ctx, "", 5); err != nil {
		t.Fatalf("featured: %v", err)
	}

	s.SaveVendor(ctx, model.Vendor{ID: "v-new", ShopName: "Kente House", IsFeatured: true, Rating: 5, ReviewCount: 100})
	got, err := svc.FeaturedVendors(ctx, "", 5)
	if err != nil {
		t.Fatalf("featured: %v", err)
	}
	if catalog.vendorCalls() != 2 {
		t.Fatalf("expected recompute after change, store read %d times", catalog.vendorCalls())
	}
	if got[0].ID != "v-new" {
		t.Fatalf("expected new featured vendor first, got %s", got[0].ID)
	}

	svc.Close()
	if got := s.Broker().Subscribers(); got != 0 {
		t.Fatalf("expected subscriptions released, got %d", got)
	}
}

func TestCatalogWithoutCacheComputesEachTime(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	region := "East African"
	s.SaveProduct(ctx, model.Product{ID: "p-1", IsActive: true, StockQuantity: 4, Rating: 4.5, ReviewCount: 10, CulturalRegion: &region})
	s.SaveProduct(ctx, model.Product{ID: "p-2", IsActive: true, StockQuantity: 0, IsFeatured: true})
	s.SaveProduct(ctx, model.Product{ID: "p-3", IsActive: false, StockQuantity: 9, IsFeatured: true})

	svc := NewCatalogService(s, nil, nil, time.Minute, "test:featured", logger.NewNop())
	products, err := svc.FeaturedProducts(ctx, region, 0)
	if err != nil {
		t.Fatalf("featured: %v", err)
	}
	if len(products) != 1 || products[0].ID != "p-1" {
		t.Fatalf("unexpected featured products %+v", products)
	}
}
