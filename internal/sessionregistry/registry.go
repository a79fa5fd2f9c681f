// Package sessionregistry implements the per-thread lifecycle manager
// (spec.md §4.3): a (user_id, thread_id) -> CancelHandle map with
// supersede-on-duplicate semantics, guaranteeing at most one in-flight
// request per thread.
package sessionregistry

import (
	"sync"
	"sync/atomic"
)

// ThreadKey identifies a conversation instance (spec.md GLOSSARY).
type ThreadKey string

// Key builds the canonical thread key for a user/thread pair.
func Key(userID, threadID string) ThreadKey {
	return ThreadKey(userID + "\x00" + threadID)
}

// CancelHandle is a one-shot cancellation signal tied to exactly one
// in-flight request. Cancel is idempotent; Canceled reports whether it has
// fired.
type CancelHandle struct {
	flag atomic.Bool
}

// NewCancelHandle returns a fresh, unfired handle.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{}
}

// Cancel fires the one-shot flag. Safe to call more than once.
func (h *CancelHandle) Cancel() {
	h.flag.Store(true)
}

// Canceled reports whether Cancel has been called.
func (h *CancelHandle) Canceled() bool {
	return h.flag.Load()
}

// Registry maps thread keys to the currently live CancelHandle.
type Registry struct {
	mu      sync.Mutex
	entries map[ThreadKey]*CancelHandle
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: map[ThreadKey]*CancelHandle{}}
}

// Register installs handle for key. If an older handle is already
// registered, it is superseded: its flag is set before it is replaced, so the
// older in-flight request observes cancellation at its next suspension
// point. The registry never waits for the superseded request to finish.
func (r *Registry) Register(key ThreadKey, handle *CancelHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[key]; ok {
		old.Cancel()
	}
	r.entries[key] = handle
}

// Unregister removes handle from key only if it is still the registered
// instance (pointer identity, not equality). This prevents a
// late-finishing superseded request from clobbering a newer owner that has
// already registered its own handle under the same key.
func (r *Registry) Unregister(key ThreadKey, handle *CancelHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.entries[key]; ok && current == handle {
		delete(r.entries, key)
	}
}

// Cancel sets the current handle's flag for key, if one is registered, and
// reports whether one was found.
func (r *Registry) Cancel(key ThreadKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.entries[key]
	if !ok {
		return false
	}
	h.Cancel()
	return true
}
