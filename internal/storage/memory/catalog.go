package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/xenking/oolio-delivery/internal/domain/catalog"
)

var (
	_ catalog.Resolver = (*CatalogStore)(nil)
	_ catalog.Lister   = (*CatalogStore)(nil)
)

// CatalogStore is a mutable in-memory catalog.
type CatalogStore struct {
	mu    sync.RWMutex
	items map[string]catalog.Item
}

// NewCatalogStore returns a store holding items.
func NewCatalogStore(items ...catalog.Item) *CatalogStore {
	s := &CatalogStore{items: make(map[string]catalog.Item, len(items))}
	s.Put(items...)
	return s
}

// Put inserts or replaces items.
func (s *CatalogStore) Put(items ...catalog.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items[it.ID] = it
	}
}

// Delete removes an item. Carts referencing it stop showing the line.
func (s *CatalogStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

func (s *CatalogStore) Resolve(_ context.Context, id string) (*catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, catalog.NotFound(id)
	}
	return &it, nil
}

func (s *CatalogStore) ResolveMany(_ context.Context, ids []string) (map[string]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]catalog.Item, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

// List returns all items ordered by id.
func (s *CatalogStore) List(_ context.Context) ([]catalog.Item, error) {
	s.mu.RLock()
	out := make([]catalog.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b catalog.Item) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}
