package realtime

import (
	"encoding/json"
	"testing"

	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

func TestSubjects(t *testing.T) {
	if got := ChangeSubject(model.TableMessages, model.EventInsert); got != "zora.changes.messages.INSERT" {
		t.Fatalf("unexpected subject %q", got)
	}
	if got := SubscribeSubject(model.TableConversations, model.EventAll); got != "zora.changes.conversations.*" {
		t.Fatalf("unexpected wildcard subject %q", got)
	}
	if got := SubscribeSubject(model.TableMessages, model.EventDelete); got != "zora.changes.messages.DELETE" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestAcceptAppliesFilter(t *testing.T) {
	ev := model.ChangeEvent{
		Table: model.TableConversations,
		Kind:  model.EventUpdate,
		New:   model.Row{"id": "c-1", "user_id": "u-1"},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, ok, err := accept(data, model.EventAll, model.Eq("user_id", "u-1"))
	if err != nil || !ok {
		t.Fatalf("expected accepted event, got %v %v", ok, err)
	}
	if got.New.String("id") != "c-1" {
		t.Fatalf("unexpected decoded row %+v", got.New)
	}

	if _, ok, _ := accept(data, model.EventAll, model.Eq("user_id", "u-2")); ok {
		t.Fatalf("filter should reject other users")
	}
	if _, ok, _ := accept(data, model.EventInsert, model.Filter{}); ok {
		t.Fatalf("event kind should reject UPDATE")
	}
	if _, _, err := accept([]byte("{not json"), model.EventAll, model.Filter{}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestConnectOptionsRejectsUnreadableCA(t *testing.T) {
	cfg := Config{URL: "nats://localhost:4222", CAFile: "/nonexistent/ca.pem", CertFile: "c.pem", KeyFile: "k.pem"}
	if _, err := connectOptions(cfg, logger.NewNop()); err == nil {
		t.Fatalf("expected an error for a missing CA file")
	}

	opts, err := connectOptions(Config{URL: "nats://localhost:4222", Token: "s3cret"}, logger.NewNop())
	if err != nil {
		t.Fatalf("plain options: %v", err)
	}
	if len(opts) != 7 {
		t.Fatalf("expected the base options plus a token, got %d", len(opts))
	}
}
