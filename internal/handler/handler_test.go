package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zora-market/marketplace-core/internal/cache"
	"github.com/zora-market/marketplace-core/internal/middleware"
	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/service"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

type testEnv struct {
	store  *store.MemoryStore
	router http.Handler
}

// asUser stands in for Auth by reading the user from a test header.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithUserID(r.Context(), r.Header.Get("X-Test-User"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.NewNop()
	s := store.NewMemoryStore(log)
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })

	messaging := service.NewMessagingService(s, s, s, 20, 50, log)
	catalog := service.NewCatalogService(s, c, nil, time.Minute, "test", log)
	streams := NewStreamHandler(messaging, log)
	streams.heartbeat = 50 * time.Millisecond

	api := &API{
		Catalog:       NewCatalogHandler(catalog, log),
		Conversations: NewConversationHandler(messaging, log),
		Messages:      NewMessageHandler(messaging, log),
		Streams:       streams,
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(asUser)
		api.Mount(r)
	})
	return &testEnv{store: s, router: r}
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Test-User", user)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return v
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/conversations", "u-1", `{"vendor_id":"v-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("open: %d %s", rec.Code, rec.Body.String())
	}
	conv := decode[model.Conversation](t, rec)

	rec = env.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", "u-1", `{"text":"  Do you have shea butter?  "}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}
	msg := decode[model.Message](t, rec)
	if msg.Text != "Do you have shea butter?" {
		t.Fatalf("text was not trimmed: %q", msg.Text)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/conversations?limit=10", "u-1", "")
	list := decode[model.ListConversationsResponse](t, rec)
	if len(list.Conversations) != 1 || list.HasMore || list.NextOffset != 1 {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", "u-1", "")
	msgs := decode[model.ListMessagesResponse](t, rec)
	if len(msgs.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs.Messages))
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/conversations/"+conv.ID, "u-1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, "u-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestConversationErrors(t *testing.T) {
	env := newTestEnv(t)
	conv, _ := env.store.GetOrCreateVendorConversation(context.Background(), "u-1", "v-1")

	cases := []struct {
		name, method, path, user, body string
		want                           int
	}{
		{"both targets", http.MethodPost, "/api/v1/conversations", "u-1", `{"vendor_id":"v","order_id":"o"}`, http.StatusBadRequest},
		{"bad body", http.MethodPost, "/api/v1/conversations", "u-1", `{`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/v1/conversations/nope", "u-1", "", http.StatusBadRequest},
		{"other user", http.MethodGet, "/api/v1/conversations/" + conv.ID, "u-2", "", http.StatusNotFound},
		{"other user delete", http.MethodDelete, "/api/v1/conversations/" + conv.ID, "u-2", "", http.StatusNotFound},
		{"empty text", http.MethodPost, "/api/v1/conversations/" + conv.ID + "/messages", "u-1", `{"text":"   "}`, http.StatusBadRequest},
		{"admin without scope", http.MethodPost, "/api/v1/admin/featured/vendors/invalidate", "u-1", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		rec := env.do(t, tc.method, tc.path, tc.user, tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestMarkReadAndUnread(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, _ := env.store.GetOrCreateVendorConversation(ctx, "u-1", "v-1")
	for i := 0; i < 2; i++ {
		env.store.InsertMessage(ctx, &model.Message{ConversationID: conv.ID, SenderID: "v-1", SenderType: model.SenderVendor, Text: "new stock"})
	}

	rec := env.do(t, http.MethodGet, "/api/v1/conversations/unread", "u-1", "")
	if got := decode[map[string]int](t, rec)["unread_total"]; got != 2 {
		t.Fatalf("expected 2 unread, got %d", got)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/read", "u-1", "")
	if got := decode[map[string]int](t, rec)["marked"]; got != 2 {
		t.Fatalf("expected 2 marked, got %d", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/conversations/unread", "u-1", "")
	if got := decode[map[string]int](t, rec)["unread_total"]; got != 0 {
		t.Fatalf("expected 0 unread, got %d", got)
	}
}

func TestFeaturedEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	region := "North African"
	env.store.SaveVendor(ctx, model.Vendor{ID: "v-1", ShopName: "Atlas Crafts", IsFeatured: true, CulturalSpecialties: []string{region}})
	env.store.SaveVendor(ctx, model.Vendor{ID: "v-2", ShopName: "Quiet Shop"})
	env.store.SaveProduct(ctx, model.Product{ID: "p-1", IsActive: true, StockQuantity: 3, IsFeatured: true, CulturalRegion: &region})

	rec := env.do(t, http.MethodGet, "/api/v1/featured/vendors?region=North+African&limit=5", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("vendors: %d", rec.Code)
	}
	vendors := decode[model.FeaturedVendorsResponse](t, rec)
	if len(vendors.Vendors) != 1 || vendors.Vendors[0].ID != "v-1" || vendors.Region != region {
		t.Fatalf("unexpected vendors %+v", vendors)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/featured/products", "u-1", "")
	products := decode[model.FeaturedProductsResponse](t, rec)
	if len(products.Products) != 1 || products.Products[0].ID != "p-1" {
		t.Fatalf("unexpected products %+v", products)
	}
}

func TestHealthReady(t *testing.T) {
	ok := NewHealthHandler(map[string]Check{"store": func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	ok.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rec.Code)
	}

	down := NewHealthHandler(map[string]Check{"nats": func(context.Context) error { return errors.New("disconnected") }})
	rec = httptest.NewRecorder()
	down.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

// readEvent returns the next SSE event name and data.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestMessageStreamPushesSnapshots(t *testing.T) {
	env := newTestEnv(t)
	conv, _ := env.store.GetOrCreateVendorConversation(context.Background(), "u-1", "v-1")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/conversations/"+conv.ID+"/stream", nil)
	req.Header.Set("X-Test-User", "u-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	reader := bufio.NewReader(resp.Body)

	event, data := readEvent(t, reader)
	if event != "snapshot" {
		t.Fatalf("expected initial snapshot, got %s", event)
	}
	var snap model.MessageSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil || snap.ConversationID != conv.ID {
		t.Fatalf("unexpected snapshot %s (%v)", data, err)
	}

	if _, err := env.store.InsertMessage(context.Background(), &model.Message{
		ConversationID: conv.ID, SenderID: "v-1", SenderType: model.SenderVendor, Text: "parcel shipped",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for {
		event, data = readEvent(t, reader)
		if event != "snapshot" {
			continue
		}
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if len(snap.Messages) == 1 && snap.Messages[0].Text == "parcel shipped" {
			return
		}
	}
}

func TestMessageStreamRejectsForeignConversation(t *testing.T) {
	env := newTestEnv(t)
	conv, _ := env.store.GetOrCreateVendorConversation(context.Background(), "u-1", "v-1")

	rec := env.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/stream", "u-2", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
