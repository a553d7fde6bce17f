package model

import (
	"time"
)

// Vendor is a marketplace shop as seen by the ranking engine.
type Vendor struct {
	ID                  string    `json:"id"`
	ShopName            string    `json:"shop_name"`
	Slug                string    `json:"slug"`
	LogoURL             string    `json:"logo_url,omitempty"`
	Rating              float64   `json:"rating"`
	ReviewCount         int       `json:"review_count"`
	IsFeatured          bool      `json:"is_featured"`
	IsVerified          bool      `json:"is_verified"`
	DeliveryTimeMin     int       `json:"delivery_time_min"`
	DeliveryTimeMax     int       `json:"delivery_time_max"`
	CulturalSpecialties []string  `json:"cultural_specialties"`
	CreatedAt           time.Time `json:"created_at"`
}

// Summary returns the conversation join view of the vendor.
func (v Vendor) Summary() *VendorSummary {
	return &VendorSummary{ID: v.ID, ShopName: v.ShopName, LogoURL: v.LogoURL, Slug: v.Slug}
}

// Product is a catalog item as seen by the ranking engine.
type Product struct {
	ID             string    `json:"id"`
	VendorID       string    `json:"vendor_id"`
	Name           string    `json:"name"`
	Price          float64   `json:"price"`
	Rating         float64   `json:"rating"`
	ReviewCount    int       `json:"review_count"`
	IsFeatured     bool      `json:"is_featured"`
	IsActive       bool      `json:"is_active"`
	StockQuantity  int       `json:"stock_quantity"`
	CulturalRegion *string   `json:"cultural_region,omitempty"`
	Certifications []string  `json:"certifications"`
	CreatedAt      time.Time `json:"created_at"`
}

// InStock reports whether the product can be featured at all.
func (p Product) InStock() bool {
	return p.IsActive && p.StockQuantity > 0
}

// FeaturedVendorsResponse is the response for featured vendors.
type FeaturedVendorsResponse struct {
	Vendors []Vendor `json:"vendors"`
	Region  string   `json:"region,omitempty"`
}

// FeaturedProductsResponse is the response for featured products.
type FeaturedProductsResponse struct {
	Products []Product `json:"products"`
	Region   string    `json:"region,omitempty"`
}
