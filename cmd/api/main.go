// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zora-market/marketplace-core/internal/cache"
	"github.com/zora-market/marketplace-core/internal/config"
	"github.com/zora-market/marketplace-core/internal/handler"
	"github.com/zora-market/marketplace-core/internal/llm"
	"github.com/zora-market/marketplace-core/internal/middleware"
	"github.com/zora-market/marketplace-core/internal/ranking"
	"github.com/zora-market/marketplace-core/internal/realtime"
	"github.com/zora-market/marketplace-core/internal/service"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
	"github.com/zora-market/marketplace-core/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// run wires the server and blocks until a shutdown signal or a fatal server
// error. Every deferred close runs on both paths.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewWithOptions(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server",
		zap.String("store", cfg.Store.Type),
		zap.String("cache", cfg.Cache.Type),
		zap.Bool("nats", cfg.NATS.Enabled),
	)

	ctx := context.Background()
	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(ctx, "zora-marketplace-core", cfg.Tracing.Endpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	checks := map[string]handler.Check{}

	// Realtime bus, shared by every instance when NATS is enabled.
	var bus *realtime.Bus
	if cfg.NATS.Enabled {
		natsClient, err := realtime.Connect(ctx, realtime.Config{
			URL:      cfg.NATS.URL,
			CAFile:   cfg.NATS.CAFile,
			CertFile: cfg.NATS.CertFile,
			KeyFile:  cfg.NATS.KeyFile,
			Token:    cfg.NATS.Token,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		bus = realtime.NewBus(natsClient, log)
		if err := bus.EnsureStream(ctx); err != nil {
			log.Warn("change stream unavailable, publishing over core NATS", zap.Error(err))
		}
		checks["nats"] = func(context.Context) error {
			if !natsClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	data, feed, closeStore, err := openStore(cfg, bus, log, checks)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	featuredCache, err := openCache(ctx, cfg, checks)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	defer featuredCache.Close()

	// Services
	messagingSvc := service.NewMessagingService(data, data, feed,
		cfg.Sync.ConversationPageSize, cfg.Sync.MessagePageSize, log)

	catalogSvc := service.NewCatalogService(data, featuredCache, ranking.DefaultEngine,
		cfg.Cache.TTL, cfg.Cache.KeyPrefix, log)
	if err := catalogSvc.Start(ctx, feed); err != nil {
		log.Warn("featured cache invalidation disabled", zap.Error(err))
	}
	defer catalogSvc.Close()

	var responder *service.SupportResponder
	if cfg.LLM.SupportReplies {
		responder = service.NewSupportResponder(data, data, feed, newLLMClient(cfg.LLM, log), cfg.LLM.Model, log)
		if err := responder.Start(ctx); err != nil {
			log.Warn("support auto-replies disabled", zap.Error(err))
		} else {
			defer responder.Close()
		}
	}

	// Handlers
	healthHandler := handler.NewHealthHandler(checks)
	api := &handler.API{
		Catalog:       handler.NewCatalogHandler(catalogSvc, log),
		Conversations: handler.NewConversationHandler(messagingSvc, log),
		Messages:      handler.NewMessageHandler(messagingSvc, log),
		Streams:       handler.NewStreamHandler(messagingSvc, log),
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Auth.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
		api.Mount(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		log.Error("server error", zap.Error(err))
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// openStore returns the configured store and the change feed services subscribe to.
func openStore(cfg *config.Config, bus *realtime.Bus, log *logger.Logger, checks map[string]handler.Check) (store.Store, store.ChangeFeed, func(), error) {
	switch cfg.Store.Type {
	case "postgres":
		var (
			feed store.ChangeFeed
			pub  store.Publisher
		)
		if bus != nil {
			feed, pub = bus, bus
		} else {
			broker := store.NewBroker()
			feed, pub = broker, broker
		}
		gs, err := store.NewGormStore(cfg.Store.PostgresDSN,
			store.WithAutoMigrate(cfg.Store.AutoMigrate),
			store.WithPublisher(pub),
			store.WithLogger(log),
		)
		if err != nil {
			return nil, nil, nil, err
		}
		checks["store"] = gs.Ping
		return gs, feed, func() {
			if err := gs.Close(); err != nil {
				log.Warn("failed to close store", zap.Error(err))
			}
		}, nil

	default:
		var ms *store.MemoryStore
		var feed store.ChangeFeed
		if bus != nil {
			ms = store.NewMemoryStore(log, bus)
			feed = bus
		} else {
			ms = store.NewMemoryStore(log)
			feed = ms
		}
		if cfg.Store.SeedDemo {
			seedCatalog(context.Background(), ms)
			log.Info("seeded demo catalog")
		}
		return ms, feed, func() {}, nil
	}
}

func openCache(ctx context.Context, cfg *config.Config, checks map[string]handler.Check) (cache.Cache, error) {
	if cfg.Cache.Type != "redis" {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		Addr:     cfg.Cache.RedisAddress(),
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	checks["cache"] = rc.Ping
	return rc, nil
}

// newLLMClient returns nil when no key is configured; support replies then use
// the canned fallback.
func newLLMClient(cfg config.LLMConfig, log *logger.Logger) llm.Client {
	provider := llm.Provider(cfg.Provider)
	key := cfg.AnthropicAPIKey
	if provider == llm.ProviderOpenAI {
		key = cfg.OpenAIAPIKey
	}
	if key == "" {
		log.Info("no LLM key configured, support replies use the fallback text")
		return nil
	}
	client, err := llm.NewClient(provider, key)
	if err != nil {
		log.Warn("failed to create LLM client, support replies use the fallback text", zap.Error(err))
		return nil
	}
	return client
}
