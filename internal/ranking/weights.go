package ranking

// VendorWeights are the maximum contributions of each vendor signal.
type VendorWeights struct {
	Featured    float64
	Verified    float64
	Rating      float64
	ReviewCount float64
	// ReviewScale divides ReviewCount before multiplying by log10(reviews).
	ReviewScale float64
	Delivery    float64
}

// ProductWeights are the maximum contributions of each product signal.
type ProductWeights struct {
	Featured    float64
	Active      float64
	Stock       float64
	Rating      float64
	ReviewCount float64
	ReviewScale float64
	Recency     float64
}

// Bonuses are flat additions independent of entity type.
type Bonuses struct {
	RegionalMatch float64
	Certification float64
	RecencyHalf   float64
}

// Thresholds drive tiered signals and the featured eligibility gate.
type Thresholds struct {
	// Delivery tiers, in minutes of DeliveryTimeMax.
	DeliveryExcellent int
	DeliveryGood      int
	DeliveryFair      int
	// Tier multipliers applied to VendorWeights.Delivery.
	DeliveryGoodFactor float64
	DeliveryFairFactor float64

	// Recency windows, in days.
	VeryNewDays float64
	RecentDays  float64

	MinRating         float64
	MinVendorReviews  int
	MinProductReviews int
}

// Weights bundles every tunable of the engine.
type Weights struct {
	Vendor     VendorWeights
	Product    ProductWeights
	Bonuses    Bonuses
	Thresholds Thresholds
}

// DefaultWeights returns the production tuning.
func DefaultWeights() Weights {
	return Weights{
		Vendor: VendorWeights{
			Featured:    50,
			Verified:    15,
			Rating:      20,
			ReviewCount: 10,
			ReviewScale: 2,
			Delivery:    5,
		},
		Product: ProductWeights{
			Featured:    50,
			Active:      10,
			Stock:       5,
			Rating:      20,
			ReviewCount: 10,
			ReviewScale: 1.7,
			Recency:     5,
		},
		Bonuses: Bonuses{
			RegionalMatch: 5,
			Certification: 2,
			RecencyHalf:   2.5,
		},
		Thresholds: Thresholds{
			DeliveryExcellent:  30,
			DeliveryGood:       45,
			DeliveryFair:       60,
			DeliveryGoodFactor: 0.6,
			DeliveryFairFactor: 0.2,
			VeryNewDays:        30,
			RecentDays:         90,
			MinRating:          3.5,
			MinVendorReviews:   5,
			MinProductReviews:  3,
		},
	}
}

// MaxVendorScore is the sum of every vendor signal cap.
func (w Weights) MaxVendorScore() float64 {
	v := w.Vendor
	return v.Featured + v.Verified + v.Rating + v.ReviewCount + v.Delivery +
		w.Bonuses.RegionalMatch + w.Bonuses.RecencyHalf
}

// MaxProductScore is the sum of every product signal cap.
func (w Weights) MaxProductScore() float64 {
	p := w.Product
	return p.Featured + p.Active + p.Stock + p.Rating + p.ReviewCount + p.Recency +
		w.Bonuses.RegionalMatch + w.Bonuses.Certification
}
