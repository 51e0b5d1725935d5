// Package registry provides a call-id keyed registry whose reads never take a lock.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

var ErrEntryExists = errors.New("entry already registered")

// Entry is anything addressable by an id.
type Entry interface {
	ID() string
}

// Registry stores entries keyed by ID. Writers are serialized and publish a
// new immutable snapshot; readers load the latest snapshot without locking.
type Registry[T Entry] struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]T]
}

// New creates an empty registry.
func New[T Entry]() *Registry[T] {
	r := &Registry[T]{}
	empty := make(map[string]T)
	r.snapshot.Store(&empty)
	return r
}

// Add inserts an entry. It fails with ErrEntryExists when the ID is taken.
func (r *Registry[T]) Add(e T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	if _, ok := current[e.ID()]; ok {
		return errors.Wrapf(ErrEntryExists, "id=%s", e.ID())
	}

	next := make(map[string]T, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[e.ID()] = e
	r.snapshot.Store(&next)
	return nil
}

// Remove deletes an entry by ID. It reports whether the entry existed.
func (r *Registry[T]) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	if _, ok := current[id]; !ok {
		return false
	}

	next := make(map[string]T, len(current))
	for k, v := range current {
		if k != id {
			next[k] = v
		}
	}
	r.snapshot.Store(&next)
	return true
}

// Get retrieves an entry by ID.
func (r *Registry[T]) Get(id string) (T, bool) {
	e, ok := (*r.snapshot.Load())[id]
	return e, ok
}

// All returns every entry ordered by ID.
func (r *Registry[T]) All() []T {
	current := *r.snapshot.Load()

	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]T, 0, len(ids))
	for _, id := range ids {
		result = append(result, current[id])
	}
	return result
}

// Count returns the number of entries.
func (r *Registry[T]) Count() int {
	return len(*r.snapshot.Load())
}
