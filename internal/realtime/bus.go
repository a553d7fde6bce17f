package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/internal/store"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

const (
	// StreamName is the JetStream stream recording every row change.
	StreamName = "ZORA_CHANGES"

	// SubjectPrefix is the prefix for all change subjects.
	SubjectPrefix = "zora.changes"
)

// Bus publishes row changes to NATS and fans them out to filtered subscribers.
type Bus struct {
	client  *Client
	logger  *logger.Logger
	durable bool
}

var (
	_ store.Publisher  = (*Bus)(nil)
	_ store.ChangeFeed = (*Bus)(nil)
)

// NewBus creates a bus on client. Call EnsureStream to also record changes in JetStream.
func NewBus(client *Client, log *logger.Logger) *Bus {
	return &Bus{client: client, logger: log}
}

// EnsureStream ensures the change-log stream exists. Once it does, publishes are
// acknowledged by JetStream instead of fired over core NATS.
func (b *Bus) EnsureStream(ctx context.Context) error {
	js := b.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		b.durable = true
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Row changes for conversations, messages and catalog tables",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	b.durable = true
	return nil
}

// ChangeSubject returns the subject an event is published on.
func ChangeSubject(table model.Table, kind model.EventKind) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, table, kind)
}

// SubscribeSubject returns the subject pattern covering table and kind.
func SubscribeSubject(table model.Table, kind model.EventKind) string {
	if kind == "" || kind == model.EventAll {
		return fmt.Sprintf("%s.%s.*", SubjectPrefix, table)
	}
	return ChangeSubject(table, kind)
}

// Publish sends ev to subscribers on every instance.
func (b *Bus) Publish(ctx context.Context, ev model.ChangeEvent) error {
	if strings.ContainsAny(string(ev.Table), ".*> ") {
		return fmt.Errorf("invalid table name %q", ev.Table)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	subject := ChangeSubject(ev.Table, ev.Kind)
	if b.durable {
		if _, err := b.client.JetStream().Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("failed to publish change: %w", err)
		}
		return nil
	}
	if err := b.client.Conn().Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Subscribe delivers changes on table that match event and filter.
func (b *Bus) Subscribe(ctx context.Context, table model.Table, event model.EventKind, filter model.Filter, fn func(model.ChangeEvent)) (store.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub, err := b.client.Conn().Subscribe(SubscribeSubject(table, event), func(msg *nats.Msg) {
		ev, ok, err := accept(msg.Data, event, filter)
		if err != nil {
			b.logger.Warn("dropping malformed change", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if ok {
			fn(ev)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			err := sub.Unsubscribe()
			if err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
				b.logger.Warn("failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
			}
		})
	}, nil
}

// accept decodes a change payload and reports whether it passes event and filter.
func accept(data []byte, event model.EventKind, filter model.Filter) (model.ChangeEvent, bool, error) {
	var ev model.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.ChangeEvent{}, false, err
	}
	return ev, event.Accepts(ev.Kind) && filter.Matches(ev), nil
}
