// Package cart implements per-user shopping carts priced against the catalog.
package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-delivery/internal/domain/catalog"
	"github.com/xenking/oolio-delivery/internal/domain/pricing"
)

// Service exposes the cart operations. Every mutation returns the freshly
// priced view.
type Service struct {
	carts   Repository
	catalog catalog.Resolver
}

// NewService creates a cart Service.
func NewService(carts Repository, items catalog.Resolver) *Service {
	return &Service{
		carts:   carts,
		catalog: items,
	}
}

// Get returns the user's cart view, creating an empty cart on first access.
func (s *Service) Get(ctx context.Context, userID string) (*View, error) {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return s.view(ctx, c)
}

// Add puts one more unit of itemID into the cart. The item must exist in the
// catalog and be available.
func (s *Service) Add(ctx context.Context, userID, itemID string) (*View, error) {
	item, err := s.catalog.Resolve(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Available {
		return nil, catalog.Unavailable(itemID)
	}
	return s.mutate(ctx, userID, func(c *Cart) error {
		return c.Increment(itemID)
	})
}

// Decrement removes one unit of itemID.
func (s *Service) Decrement(ctx context.Context, userID, itemID string) (*View, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		return c.Decrement(itemID)
	})
}

// SetQuantity sets the quantity of a line already in the cart.
func (s *Service) SetQuantity(ctx context.Context, userID, itemID string, n int) (*View, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		return c.SetQuantity(itemID, n)
	})
}

// Remove drops itemID from the cart. It never fails for absent items.
func (s *Service) Remove(ctx context.Context, userID, itemID string) (*View, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		c.Remove(itemID)
		return nil
	})
}

// Clear empties the cart and returns the empty view.
func (s *Service) Clear(ctx context.Context, userID string) (*View, error) {
	if err := s.Reset(ctx, userID); err != nil {
		return nil, err
	}
	return &View{
		UserID:      userID,
		Lines:       []ViewLine{},
		Subtotal:    decimal.Zero,
		DeliveryFee: decimal.Zero,
		Total:       decimal.Zero,
	}, nil
}

// Reset empties the cart without pricing it. Checkout uses it after an order
// is stored.
func (s *Service) Reset(ctx context.Context, userID string) error {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.carts.Mutate(ctx, userID, func(c *Cart) error {
		c.Clear()
		return nil
	}); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, userID string, fn func(*Cart) error) (*View, error) {
	// A caller that hangs up must not abort a write that already started.
	ctx = context.WithoutCancel(ctx)
	c, err := s.carts.Mutate(ctx, userID, fn)
	if err != nil {
		return nil, fmt.Errorf("update cart: %w", err)
	}
	return s.view(ctx, c)
}

// view prices c against the current catalog. Lines whose item vanished from
// the catalog are left out instead of failing the whole cart.
func (s *Service) view(ctx context.Context, c *Cart) (*View, error) {
	items, err := s.catalog.ResolveMany(ctx, c.ItemIDs())
	if err != nil {
		return nil, fmt.Errorf("resolve cart items: %w", err)
	}

	v := &View{
		UserID: c.UserID,
		Lines:  make([]ViewLine, 0, len(c.Lines)),
	}
	subtotal := decimal.Zero
	for _, l := range c.Lines {
		item, ok := items[l.ItemID]
		if !ok {
			zctx.From(ctx).Debug("Dropping unresolved cart line",
				zap.String("user_id", c.UserID),
				zap.String("item_id", l.ItemID),
			)
			continue
		}
		total := pricing.LineTotal(item.Price, l.Quantity)
		v.Lines = append(v.Lines, ViewLine{
			ItemID:    l.ItemID,
			Name:      item.Name,
			Image:     item.Image,
			Price:     item.Price,
			Quantity:  l.Quantity,
			LineTotal: total,
		})
		subtotal = subtotal.Add(total)
	}

	totals := pricing.Summarize(subtotal)
	v.Subtotal = totals.Subtotal
	v.DeliveryFee = totals.DeliveryFee
	v.Total = totals.Total
	return v, nil
}
