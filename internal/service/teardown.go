package service

import "sync"

// teardown collects release functions for resources acquired asynchronously.
// A release registered after close runs immediately, so a subscription whose
// setup finishes after its owner went away is never leaked.
type teardown struct {
	mu       sync.Mutex
	closed   bool
	releases []func()
}

// add registers release, or runs it now when the scope is already closed.
func (t *teardown) add(release func()) {
	if release == nil {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		release()
		return
	}
	t.releases = append(t.releases, release)
	t.mu.Unlock()
}

// close runs every registered release in reverse order. Later calls do nothing.
func (t *teardown) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	releases := t.releases
	t.releases = nil
	t.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
}

func (t *teardown) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
