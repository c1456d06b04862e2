package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-delivery/internal/domain/apperr"
	"github.com/xenking/oolio-delivery/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

type storedOrder struct {
	seq   uint64
	order order.Order
}

// OrderRepository keeps orders in a map. Update serializes per order id.
type OrderRepository struct {
	mu     sync.RWMutex
	seq    uint64
	orders map[string]*storedOrder
	locks  *keyedMutex
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*storedOrder),
		locks:  newKeyedMutex(),
	}
}

// Create stores a copy of o. Ids must be unique.
func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return errors.Wrapf(apperr.ErrConflict, "order %s already exists", o.ID)
	}
	r.seq++
	r.orders[o.ID] = &storedOrder{seq: r.seq, order: cloneOrder(*o)}
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.orders[id]
	if !ok {
		return nil, &order.NotFoundError{OrderID: id}
	}
	o := cloneOrder(s.order)
	return &o, nil
}

// Update applies fn to a copy and stores it when fn succeeds.
func (r *OrderRepository) Update(ctx context.Context, id string, fn func(*order.Order) error) (*order.Order, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	o, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.orders[id].order = cloneOrder(*o)
	r.mu.Unlock()
	return o, nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	return r.list(func(o *order.Order) bool { return o.UserID == userID }), nil
}

func (r *OrderRepository) ListAll(_ context.Context) ([]order.Order, error) {
	return r.list(func(*order.Order) bool { return true }), nil
}

func (r *OrderRepository) Stats(ctx context.Context) (*order.Stats, error) {
	all, _ := r.ListAll(ctx)
	return order.Tally(all), nil
}

// list returns matching orders newest first. Orders created at the same
// instant are ordered by insertion, latest first.
func (r *OrderRepository) list(match func(*order.Order) bool) []order.Order {
	r.mu.RLock()
	matched := make([]*storedOrder, 0, len(r.orders))
	for _, s := range r.orders {
		if match(&s.order) {
			matched = append(matched, s)
		}
	}
	out := make([]order.Order, len(matched))
	slices.SortFunc(matched, func(a, b *storedOrder) int {
		if c := b.order.CreatedAt.Compare(a.order.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})
	for i, s := range matched {
		out[i] = cloneOrder(s.order)
	}
	r.mu.RUnlock()
	return out
}

func cloneOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	if o.DeliveredAt != nil {
		at := *o.DeliveredAt
		o.DeliveredAt = &at
	}
	return o
}
