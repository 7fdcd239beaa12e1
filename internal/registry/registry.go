// Package registry provides a keyed store of workers.
package registry

import (
	"slices"
	"strings"
	"sync"
)

// Identified is anything with a stable identifier.
type Identified interface {
	ID() string
}

// Registry maps identifiers to values. Add overwrites on collision and
// Remove is idempotent. It is safe for concurrent use.
type Registry[T Identified] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New creates an empty registry.
func New[T Identified]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T, 8)}
}

// Add indexes item by its ID, replacing any previous entry.
func (r *Registry[T]) Add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[item.ID()] = item
}

// Get returns the item registered under id.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]

	return item, ok
}

// Remove deletes item by its ID. Removing an absent item does nothing.
func (r *Registry[T]) Remove(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, item.ID())
}

// Len returns the number of registered items.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

// List returns a snapshot of all items ordered by ID.
func (r *Registry[T]) List() []T {
	r.mu.RLock()

	out := make([]T, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}

	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b T) int {
		return strings.Compare(a.ID(), b.ID())
	})

	return out
}
