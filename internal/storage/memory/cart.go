package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/oolio-delivery/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository keeps carts in a map. Mutations of one user's cart are
// serialized by a per-user lock.
type CartRepository struct {
	mu    sync.RWMutex
	carts map[string][]cart.Line
	locks *keyedMutex
}

func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts: make(map[string][]cart.Line),
		locks: newKeyedMutex(),
	}
}

// Get returns a copy of the user's cart. Unknown users get an empty cart.
func (r *CartRepository) Get(_ context.Context, userID string) (*cart.Cart, error) {
	return r.load(userID), nil
}

// Mutate applies fn to a copy of the cart and stores it when fn succeeds.
func (r *CartRepository) Mutate(_ context.Context, userID string, fn func(*cart.Cart) error) (*cart.Cart, error) {
	unlock := r.locks.Lock(userID)
	defer unlock()

	c := r.load(userID)
	if err := fn(c); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.carts[userID] = slices.Clone(c.Lines)
	r.mu.Unlock()
	return c, nil
}

func (r *CartRepository) load(userID string) *cart.Cart {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &cart.Cart{UserID: userID, Lines: slices.Clone(r.carts[userID])}
}
