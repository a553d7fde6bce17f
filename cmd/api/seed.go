package main

import (
	"context"
	"time"

	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/store"
)

func seedCatalog(ctx context.Context, s *store.MemoryStore) {
	now := time.Now().UTC()
	days := func(n int) time.Time { return now.AddDate(0, 0, -n) }
	region := func(r string) *string { return &r }

	vendors := []model.Vendor{
		{ID: "v-kente", ShopName: "Kente Weavers Collective", Slug: "kente-weavers", Rating: 4.8, ReviewCount: 212,
			IsFeatured: true, IsVerified: true, DeliveryTimeMin: 20, DeliveryTimeMax: 30,
			CulturalSpecialties: []string{"West African", "Textiles"}, CreatedAt: days(400)},
		{ID: "v-atlas", ShopName: "Atlas Spice House", Slug: "atlas-spice", Rating: 4.5, ReviewCount: 87,
			IsVerified: true, DeliveryTimeMin: 30, DeliveryTimeMax: 45,
			CulturalSpecialties: []string{"North African", "Spices"}, CreatedAt: days(60)},
		{ID: "v-maasai", ShopName: "Maasai Beadwork", Slug: "maasai-beadwork", Rating: 4.2, ReviewCount: 34,
			DeliveryTimeMin: 45, DeliveryTimeMax: 60,
			CulturalSpecialties: []string{"East African", "Jewelry"}, CreatedAt: days(20)},
		{ID: "v-cape", ShopName: "Cape Rooibos Co.", Slug: "cape-rooibos", Rating: 3.1, ReviewCount: 2,
			DeliveryTimeMin: 60, DeliveryTimeMax: 90,
			CulturalSpecialties: []string{"Southern African"}, CreatedAt: days(5)},
	}
	for _, v := range vendors {
		s.SaveVendor(ctx, v)
	}

	products := []model.Product{
		{ID: "p-kente-stole", VendorID: "v-kente", Name: "Handwoven Kente Stole", Price: 89, Rating: 4.9, ReviewCount: 120,
			IsFeatured: true, IsActive: true, StockQuantity: 14, CulturalRegion: region("West African"),
			Certifications: []string{"Fair Trade"}, CreatedAt: days(200)},
		{ID: "p-ras", VendorID: "v-atlas", Name: "Ras el Hanout Blend", Price: 12.5, Rating: 4.6, ReviewCount: 64,
			IsActive: true, StockQuantity: 230, CulturalRegion: region("North African"), CreatedAt: days(25)},
		{ID: "p-collar", VendorID: "v-maasai", Name: "Beaded Collar Necklace", Price: 45, Rating: 4.3, ReviewCount: 9,
			IsActive: true, StockQuantity: 3, CulturalRegion: region("East African"), CreatedAt: days(70)},
		{ID: "p-rooibos", VendorID: "v-cape", Name: "Organic Rooibos Tea", Price: 8, Rating: 3.0, ReviewCount: 1,
			IsActive: true, StockQuantity: 0, CulturalRegion: region("Southern African"),
			Certifications: []string{"Organic"}, CreatedAt: days(3)},
	}
	for _, p := range products {
		s.SaveProduct(ctx, p)
	}
}
