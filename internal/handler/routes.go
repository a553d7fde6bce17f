package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/zora-market/marketplace-core/internal/middleware"
)

// API groups the authenticated API handlers.
type API struct {
	Catalog       *CatalogHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Streams       *StreamHandler
}

// Mount registers the API routes on r. Authentication is applied by the caller.
func (a *API) Mount(r chi.Router) {
	r.Route("/featured", func(r chi.Router) {
		r.Get("/vendors", a.Catalog.FeaturedVendors)
		r.Get("/products", a.Catalog.FeaturedProducts)
	})

	r.With(middleware.RequireScope(middleware.ScopeCatalogAdmin)).
		Post("/admin/featured/{kind}/invalidate", a.Catalog.Invalidate)

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", a.Conversations.List)
		r.Post("/", a.Conversations.Open)
		r.Get("/unread", a.Conversations.Unread)
		r.Get("/stream", a.Streams.Conversations)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.Conversations.Get)
			r.Delete("/", a.Conversations.Delete)

			r.Get("/messages", a.Messages.List)
			r.Post("/messages", a.Messages.Send)
			r.Post("/read", a.Messages.MarkRead)

			r.Get("/stream", a.Streams.Messages)
		})
	})
}
