package service

import (
	"context"
	"sort"
	"sync"
)

// FeedState describes what a feed is doing.
type FeedState string

const (
	StateIdle        FeedState = "idle"
	StateLoading     FeedState = "loading"
	StateLoaded      FeedState = "loaded"
	StateLoadingMore FeedState = "loading_more"
	StateRefreshing  FeedState = "refreshing"
)

type loadMode int

const (
	loadInitial loadMode = iota
	loadRefresh
	loadMore
	loadResync
)

func (m loadMode) String() string {
	switch m {
	case loadInitial:
		return "initial"
	case loadRefresh:
		return "refresh"
	case loadMore:
		return "more"
	default:
		return "resync"
	}
}

func (m loadMode) resets() bool { return m != loadMore }

// fetchFunc loads one page from the remote store.
type fetchFunc[T any] func(ctx context.Context, limit, offset int) ([]T, error)

// pagerOptions describe how a pager orders and merges its items.
type pagerOptions[T any] struct {
	pageSize int
	key      func(T) string
	// less orders the merged list. Nil keeps merge order.
	less func(a, b T) bool
	// carry selects current items that survive a reset load.
	carry func(T) bool
	// settle normalises the list after every merge.
	settle func([]T) []T
	// keepTail keeps current items ordered after the last row of a partial
	// reset window. They stay outside the cursor until a later page reaches them.
	keepTail bool
}

// pager owns a paginated, deduplicated list and its offset cursor.
// The cursor advances by the number of rows the store returned, never by the
// number of unique rows kept, so duplicates collapsed by a merge cannot cause a
// later page to be skipped or repeated.
//
// gen changes when a reset starts and again when its result is applied. An
// append only merges if no reset started or landed while it was fetching.
type pager[T any] struct {
	opts pagerOptions[T]

	mu      sync.Mutex
	items   []T
	cursor  int
	hasMore bool
	busy    bool
	state   FeedState
	gen     uint64
}

type pagerView[T any] struct {
	items   []T
	cursor  int
	hasMore bool
	state   FeedState
}

func newPager[T any](opts pagerOptions[T]) *pager[T] {
	if opts.pageSize <= 0 {
		opts.pageSize = 20
	}
	return &pager[T]{opts: opts, state: StateIdle, hasMore: true}
}

// load fetches a page and merges it. It reports whether anything was merged.
// A loadMore call while another is in flight, or after the list is exhausted,
// is a no-op. The lock is never held across fetch.
func (p *pager[T]) load(ctx context.Context, mode loadMode, fetch fetchFunc[T], changed func()) (bool, error) {
	p.mu.Lock()
	limit, offset := p.opts.pageSize, 0
	switch mode {
	case loadMore:
		if p.busy || !p.hasMore {
			p.mu.Unlock()
			return false, nil
		}
		p.busy = true
		p.state = StateLoadingMore
		offset = p.cursor
	case loadInitial:
		p.state = StateLoading
	case loadRefresh:
		p.state = StateRefreshing
	case loadResync:
		limit = max(p.cursor, p.opts.pageSize)
	}
	if mode.resets() {
		p.gen++
	}
	gen := p.gen
	p.mu.Unlock()
	changed()

	rows, err := fetch(ctx, limit, offset)

	p.mu.Lock()
	if mode == loadMore {
		p.busy = false
	}
	p.state = StateLoaded
	stale := false
	switch {
	case err != nil:
		p.hasMore = false
	case gen != p.gen:
		// A reset load started after this page was requested; its result already
		// covers the rows this page would add.
		stale = true
	case mode.resets():
		p.hasMore = len(rows) == limit
		carried := p.carried(rows)
		p.items = p.arrange(mergeByKey(p.opts.key, dedupByKey(p.opts.key, rows), carried))
		p.cursor = len(rows)
		p.gen++
	default:
		p.items = p.arrange(mergeByKey(p.opts.key, p.items, rows))
		p.cursor += len(rows)
		p.hasMore = len(rows) == limit
	}
	merged := err == nil && !stale
	p.mu.Unlock()
	changed()

	return merged, err
}

// carried returns the current items that survive a reset to rows. Callers hold mu.
func (p *pager[T]) carried(rows []T) []T {
	var tail func(T) bool
	if p.opts.keepTail && p.opts.less != nil && p.hasMore && len(rows) > 0 {
		last := rows[0]
		for _, r := range rows[1:] {
			if p.opts.less(last, r) {
				last = r
			}
		}
		tail = func(it T) bool { return p.opts.less(last, it) }
	}

	var out []T
	for _, it := range p.items {
		if (p.opts.carry != nil && p.opts.carry(it)) || (tail != nil && tail(it)) {
			out = append(out, it)
		}
	}
	return out
}

// update applies fn to the item list under the lock. The cursor is untouched.
func (p *pager[T]) update(fn func([]T) []T) {
	p.mu.Lock()
	p.items = p.arrange(fn(p.items))
	p.mu.Unlock()
}

func (p *pager[T]) view() pagerView[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	items := make([]T, len(p.items))
	copy(items, p.items)
	return pagerView[T]{items: items, cursor: p.cursor, hasMore: p.hasMore, state: p.state}
}

func (p *pager[T]) arrange(items []T) []T {
	if p.opts.less != nil {
		sort.SliceStable(items, func(i, j int) bool { return p.opts.less(items[i], items[j]) })
	}
	if p.opts.settle != nil {
		items = p.opts.settle(items)
	}
	return items
}

// dedupByKey collapses rows sharing a key. The last occurrence wins and takes
// the position of the first.
func dedupByKey[T any](key func(T) string, rows []T) []T {
	return mergeByKey(key, nil, rows)
}

// mergeByKey overlays incoming onto current. Items keep their existing position;
// incoming values replace current ones with the same key; new keys are appended.
func mergeByKey[T any](key func(T) string, current, incoming []T) []T {
	out := make([]T, 0, len(current)+len(incoming))
	index := make(map[string]int, len(current)+len(incoming))
	for _, batch := range [][]T{current, incoming} {
		for _, it := range batch {
			k := key(it)
			if i, ok := index[k]; ok {
				out[i] = it
				continue
			}
			index[k] = len(out)
			out = append(out, it)
		}
	}
	return out
}
