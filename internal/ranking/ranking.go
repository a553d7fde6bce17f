// Package ranking scores and orders vendors and products for featured listings.
package ranking

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/zora-market/marketplace-core/internal/model"
)

const (
	// DefaultFeaturedVendorLimit is used when a caller passes a non-positive limit.
	DefaultFeaturedVendorLimit = 10
	// DefaultFeaturedProductLimit is used when a caller passes a non-positive limit.
	DefaultFeaturedProductLimit = 20
)

const hoursPerDay = 24

// Engine computes relevance scores. The zero value is not usable; use NewEngine.
type Engine struct {
	Weights Weights
	// Now is the clock used for recency signals.
	Now func() time.Time
}

// NewEngine creates an engine with the given weights and the wall clock.
func NewEngine(w Weights) *Engine {
	return &Engine{Weights: w, Now: time.Now}
}

// DefaultEngine uses DefaultWeights.
var DefaultEngine = NewEngine(DefaultWeights())

// ScoredVendor pairs a vendor with its score.
type ScoredVendor struct {
	Vendor model.Vendor `json:"vendor"`
	Score  float64      `json:"score"`
}

// ScoredProduct pairs a product with its score.
type ScoredProduct struct {
	Product model.Product `json:"product"`
	Score   float64       `json:"score"`
}

// VendorScore scores a vendor. region is optional; "" disables the regional bonus.
func (e *Engine) VendorScore(v model.Vendor, region string) float64 {
	w := e.Weights
	score := 0.0

	if v.IsFeatured {
		score += w.Vendor.Featured
	}
	if v.IsVerified {
		score += w.Vendor.Verified
	}
	score += ratingScore(v.Rating, w.Vendor.Rating)
	score += reviewScore(v.ReviewCount, w.Vendor.ReviewCount, w.Vendor.ReviewScale)
	score += e.deliveryScore(v.DeliveryTimeMax)

	if region != "" && matchesAny(v.CulturalSpecialties, region) {
		score += w.Bonuses.RegionalMatch
	}
	if days, ok := e.daysSince(v.CreatedAt); ok && days <= w.Thresholds.RecentDays {
		score += w.Bonuses.RecencyHalf
	}

	return round2(score)
}

// ProductScore scores a product. region is optional; "" disables the regional bonus.
func (e *Engine) ProductScore(p model.Product, region string) float64 {
	w := e.Weights
	score := 0.0

	if p.IsFeatured {
		score += w.Product.Featured
	}
	if p.IsActive {
		score += w.Product.Active
	}
	if p.StockQuantity > 0 {
		score += math.Min(safeLog10(p.StockQuantity)*(w.Product.Stock/2), w.Product.Stock)
	}
	score += ratingScore(p.Rating, w.Product.Rating)
	score += reviewScore(p.ReviewCount, w.Product.ReviewCount, w.Product.ReviewScale)

	if region != "" && p.CulturalRegion != nil && containsFold(*p.CulturalRegion, region) {
		score += w.Bonuses.RegionalMatch
	}
	if days, ok := e.daysSince(p.CreatedAt); ok {
		switch {
		case days <= w.Thresholds.VeryNewDays:
			score += w.Product.Recency
		case days <= w.Thresholds.RecentDays:
			score += w.Bonuses.RecencyHalf
		}
	}
	if len(p.Certifications) > 0 {
		score += w.Bonuses.Certification
	}

	return round2(score)
}

// ScoreVendors scores and orders vendors without filtering. limit <= 0 keeps all.
func (e *Engine) ScoreVendors(vendors []model.Vendor, region string, limit int) []ScoredVendor {
	scored := make([]ScoredVendor, len(vendors))
	for i, v := range vendors {
		scored[i] = ScoredVendor{Vendor: v, Score: e.VendorScore(v, region)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		return before(a.Score, b.Score, a.Vendor.Rating, b.Vendor.Rating, a.Vendor.ReviewCount, b.Vendor.ReviewCount)
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// ScoreProducts scores and orders products without filtering. limit <= 0 keeps all.
func (e *Engine) ScoreProducts(products []model.Product, region string, limit int) []ScoredProduct {
	scored := make([]ScoredProduct, len(products))
	for i, p := range products {
		scored[i] = ScoredProduct{Product: p, Score: e.ProductScore(p, region)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		return before(a.Score, b.Score, a.Product.Rating, b.Product.Rating, a.Product.ReviewCount, b.Product.ReviewCount)
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// RankVendors returns a new slice of vendors ordered by score. The input is not modified.
func (e *Engine) RankVendors(vendors []model.Vendor, region string, limit int) []model.Vendor {
	scored := e.ScoreVendors(vendors, region, limit)
	out := make([]model.Vendor, len(scored))
	for i, s := range scored {
		out[i] = s.Vendor
	}
	return out
}

// RankProducts returns a new slice of products ordered by score. The input is not modified.
func (e *Engine) RankProducts(products []model.Product, region string, limit int) []model.Product {
	scored := e.ScoreProducts(products, region, limit)
	out := make([]model.Product, len(scored))
	for i, s := range scored {
		out[i] = s.Product
	}
	return out
}

// VendorEligible reports whether a vendor passes the featured quality gate.
func (e *Engine) VendorEligible(v model.Vendor) bool {
	t := e.Weights.Thresholds
	return v.IsFeatured || v.IsVerified || v.Rating >= t.MinRating || v.ReviewCount >= t.MinVendorReviews
}

// ProductEligible reports whether a product passes the featured quality gate.
func (e *Engine) ProductEligible(p model.Product) bool {
	if !p.InStock() {
		return false
	}
	t := e.Weights.Thresholds
	return p.IsFeatured || p.Rating >= t.MinRating || p.ReviewCount >= t.MinProductReviews
}

// FeaturedVendors filters by the quality gate and ranks the result. When nothing
// qualifies every vendor is ranked instead, so a non-empty input never yields an
// empty list.
func (e *Engine) FeaturedVendors(vendors []model.Vendor, region string, limit int) []model.Vendor {
	if limit <= 0 {
		limit = DefaultFeaturedVendorLimit
	}
	eligible := make([]model.Vendor, 0, len(vendors))
	for _, v := range vendors {
		if e.VendorEligible(v) {
			eligible = append(eligible, v)
		}
	}
	if len(eligible) == 0 {
		eligible = vendors
	}
	return e.RankVendors(eligible, region, limit)
}

// FeaturedProducts filters by the quality gate and ranks the result. When nothing
// qualifies the active products are ranked instead.
func (e *Engine) FeaturedProducts(products []model.Product, region string, limit int) []model.Product {
	if limit <= 0 {
		limit = DefaultFeaturedProductLimit
	}
	eligible := make([]model.Product, 0, len(products))
	for _, p := range products {
		if e.ProductEligible(p) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		for _, p := range products {
			if p.IsActive {
				eligible = append(eligible, p)
			}
		}
	}
	return e.RankProducts(eligible, region, limit)
}

func (e *Engine) deliveryScore(maxMinutes int) float64 {
	t := e.Weights.Thresholds
	full := e.Weights.Vendor.Delivery
	switch {
	case maxMinutes <= t.DeliveryExcellent:
		return full
	case maxMinutes <= t.DeliveryGood:
		return full * t.DeliveryGoodFactor
	case maxMinutes <= t.DeliveryFair:
		return full * t.DeliveryFairFactor
	default:
		return 0
	}
}

// daysSince returns elapsed days since created. Unknown creation times report false.
func (e *Engine) daysSince(created time.Time) (float64, bool) {
	if created.IsZero() {
		return 0, false
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().Sub(created).Hours() / hoursPerDay, true
}

func before(scoreA, scoreB, ratingA, ratingB float64, reviewsA, reviewsB int) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	if ratingA != ratingB {
		return ratingA > ratingB
	}
	return reviewsA > reviewsB
}

func ratingScore(rating, weight float64) float64 {
	if rating <= 0 {
		return 0
	}
	return math.Min(rating/5*weight, weight)
}

func reviewScore(count int, weight, scale float64) float64 {
	return math.Min(safeLog10(count)*(weight/scale), weight)
}

// safeLog10 clamps n to at least 1 so zero and negative counts contribute nothing.
func safeLog10(n int) float64 {
	if n < 1 {
		n = 1
	}
	return math.Log10(float64(n))
}

func matchesAny(values []string, needle string) bool {
	for _, v := range values {
		if containsFold(v, needle) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CalculateVendorScore scores a vendor with DefaultEngine.
func CalculateVendorScore(v model.Vendor, region string) float64 {
	return DefaultEngine.VendorScore(v, region)
}

// CalculateProductScore scores a product with DefaultEngine.
func CalculateProductScore(p model.Product, region string) float64 {
	return DefaultEngine.ProductScore(p, region)
}

// RankVendors ranks with DefaultEngine.
func RankVendors(vendors []model.Vendor, region string, limit int) []model.Vendor {
	return DefaultEngine.RankVendors(vendors, region, limit)
}

// RankProducts ranks with DefaultEngine.
func RankProducts(products []model.Product, region string, limit int) []model.Product {
	return DefaultEngine.RankProducts(products, region, limit)
}

// FeaturedVendors selects featured vendors with DefaultEngine.
func FeaturedVendors(vendors []model.Vendor, region string, limit int) []model.Vendor {
	return DefaultEngine.FeaturedVendors(vendors, region, limit)
}

// FeaturedProducts selects featured products with DefaultEngine.
func FeaturedProducts(products []model.Product, region string, limit int) []model.Product {
	return DefaultEngine.FeaturedProducts(products, region, limit)
}
