package service

import "sync"

// watchers fans snapshots out to observers.
type watchers[S any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(S)
}

func (w *watchers[S]) add(fn func(S)) (cancel func()) {
	w.mu.Lock()
	if w.fns == nil {
		w.fns = make(map[int]func(S))
	}
	w.next++
	id := w.next
	w.fns[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}
}

func (w *watchers[S]) notify(s S) {
	w.mu.Lock()
	fns := make([]func(S), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (w *watchers[S]) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.fns)
}
