package store

import (
	"context"
	"sync"

	"github.com/zora-market/marketplace-core/internal/model"
)

// Broker is an in-process ChangeFeed. Handlers run synchronously on the publishing goroutine.
type Broker struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
	next uint64
}

type subscription struct {
	table  model.Table
	event  model.EventKind
	filter model.Filter
	fn     func(model.ChangeEvent)
}

func (s *subscription) wants(ev model.ChangeEvent) bool {
	return s.table == ev.Table && s.event.Accepts(ev.Kind) && s.filter.Matches(ev)
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*subscription)}
}

// Subscribe registers fn for changes on table matching event and filter.
func (b *Broker) Subscribe(ctx context.Context, table model.Table, event model.EventKind, filter model.Filter, fn func(model.ChangeEvent)) (Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = &subscription{table: table, event: event, filter: filter, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, nil
}

// Publish delivers ev to every matching subscriber.
func (b *Broker) Publish(_ context.Context, ev model.ChangeEvent) error {
	b.mu.RLock()
	matched := make([]func(model.ChangeEvent), 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(ev) {
			matched = append(matched, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range matched {
		fn(ev)
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
