package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zora-market/marketplace-core/internal/cache"
	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/ranking"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
	"github.com/zora-market/marketplace-core/pkg/metrics"
	"github.com/zora-market/marketplace-core/pkg/tracing"
)

const (
	kindVendors  = "vendors"
	kindProducts = "products"
)

// CatalogService serves featured vendor and product lists, caching ranked results.
type CatalogService struct {
	catalog store.CatalogStore
	cache   cache.Cache
	engine  *ranking.Engine
	ttl     time.Duration
	prefix  string
	logger  *logger.Logger

	scope teardown
}

// NewCatalogService creates a catalog service. c may be nil to disable caching.
func NewCatalogService(catalog store.CatalogStore, c cache.Cache, engine *ranking.Engine, ttl time.Duration, prefix string, log *logger.Logger) *CatalogService {
	if engine == nil {
		engine = ranking.DefaultEngine
	}
	return &CatalogService{
		catalog: catalog,
		cache:   c,
		engine:  engine,
		ttl:     ttl,
		prefix:  prefix,
		logger:  log,
	}
}

// Start invalidates cached lists whenever vendors or products change.
func (s *CatalogService) Start(ctx context.Context, feed store.ChangeFeed) error {
	if feed == nil || s.cache == nil {
		return nil
	}
	for _, table := range []model.Table{model.TableVendors, model.TableProducts} {
		kind := string(table)
		unsub, err := feed.Subscribe(ctx, table, model.EventAll, model.Filter{}, func(model.ChangeEvent) {
			s.Invalidate(context.Background(), kind)
		})
		if err != nil {
			s.scope.close()
			return fmt.Errorf("subscribe to %s: %w", table, err)
		}
		s.scope.add(unsub)
	}
	return nil
}

// Close stops cache invalidation.
func (s *CatalogService) Close() {
	s.scope.close()
}

// Invalidate drops every cached list of kind ("vendors" or "products").
func (s *CatalogService) Invalidate(ctx context.Context, kind string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePrefix(ctx, s.prefix+":"+kind+":"); err != nil {
		s.logger.Warn("failed to invalidate featured cache", zap.String("kind", kind), zap.Error(err))
	}
}

// FeaturedVendors returns the ranked featured vendors for region.
func (s *CatalogService) FeaturedVendors(ctx context.Context, region string, limit int) ([]model.Vendor, error) {
	if limit <= 0 {
		limit = ranking.DefaultFeaturedVendorLimit
	}
	return cached(ctx, s, kindVendors, region, limit, func(ctx context.Context) ([]model.Vendor, error) {
		vendors, err := s.catalog.ListVendors(ctx)
		if err != nil {
			return nil, fmt.Errorf("list vendors: %w", err)
		}
		return s.engine.FeaturedVendors(vendors, region, limit), nil
	})
}

// FeaturedProducts returns the ranked featured products for region.
func (s *CatalogService) FeaturedProducts(ctx context.Context, region string, limit int) ([]model.Product, error) {
	if limit <= 0 {
		limit = ranking.DefaultFeaturedProductLimit
	}
	return cached(ctx, s, kindProducts, region, limit, func(ctx context.Context) ([]model.Product, error) {
		products, err := s.catalog.ListProducts(ctx)
		if err != nil {
			return nil, fmt.Errorf("list products: %w", err)
		}
		return s.engine.FeaturedProducts(products, region, limit), nil
	})
}

func (s *CatalogService) key(kind, region string, limit int) string {
	return fmt.Sprintf("%s:%s:%s:%d", s.prefix, kind, strings.ToLower(strings.TrimSpace(region)), limit)
}

// cached serves a ranked list from the cache or computes and stores it. Cache
// failures are logged and the list is computed directly.
func cached[T any](ctx context.Context, s *CatalogService, kind, region string, limit int, compute func(context.Context) ([]T, error)) ([]T, error) {
	ctx, span := tracing.Start(ctx, "catalog.featured_"+kind,
		attribute.String("region", region),
		attribute.Int("limit", limit),
	)
	defer span.End()

	key := s.key(kind, region, limit)
	if s.cache != nil {
		data, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var items []T
			if err := json.Unmarshal(data, &items); err == nil {
				metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
				metrics.RecordRanking(kind, "cache", 0)
				span.SetAttributes(attribute.Bool("cache_hit", true))
				return items, nil
			}
			s.logger.Warn("discarding corrupt featured cache entry", zap.String("key", key))
			metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		case errors.Is(err, cache.ErrCacheMiss):
			metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		default:
			metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
			s.logger.Warn("featured cache lookup failed", zap.String("key", key), zap.Error(err))
		}
	}

	start := time.Now()
	items, err := compute(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	metrics.RecordRanking(kind, "computed", time.Since(start).Seconds())
	span.SetAttributes(attribute.Bool("cache_hit", false), attribute.Int("results", len(items)))

	if s.cache != nil {
		data, err := json.Marshal(items)
		if err == nil {
			err = s.cache.Set(ctx, key, data, s.ttl)
		}
		if err != nil {
			s.logger.Warn("failed to store featured list", zap.String("key", key), zap.Error(err))
		}
	}
	return items, nil
}
