package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("unexpected port %q", cfg.Server.Port)
	}
	if cfg.Store.Type != "memory" {
		t.Fatalf("unexpected store type %q", cfg.Store.Type)
	}
	if cfg.Sync.ConversationPageSize != 20 {
		t.Fatalf("unexpected conversation page size %d", cfg.Sync.ConversationPageSize)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Fatalf("unexpected cache ttl %v", cfg.Cache.TTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONVERSATION_PAGE_SIZE", "5")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sync.ConversationPageSize != 5 {
		t.Fatalf("expected override, got %d", cfg.Sync.ConversationPageSize)
	}
	if got := cfg.Cache.RedisAddress(); got != "cache.internal:6380" {
		t.Fatalf("unexpected redis address %q", got)
	}
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	t.Setenv("STORE_TYPE", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is missing")
	}
}

func TestLoadRejectsNonPositivePageSize(t *testing.T) {
	t.Setenv("MESSAGE_PAGE_SIZE", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero page size")
	}
}
