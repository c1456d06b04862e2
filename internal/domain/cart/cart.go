package cart

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-delivery/internal/domain/apperr"
	"github.com/xenking/oolio-delivery/internal/domain/pricing"
)

// Line is one item selection. Quantity is always at least 1 while the line
// is part of a cart.
type Line struct {
	ItemID   string
	Quantity int
}

// Cart holds a user's pending selections. Prices are never stored here.
type Cart struct {
	UserID string
	Lines  []Line
}

// LineNotFoundError is returned when a mutation targets an item the cart
// does not contain.
type LineNotFoundError struct {
	ItemID string
}

func (e *LineNotFoundError) Error() string {
	return fmt.Sprintf("item %s is not in the cart", e.ItemID)
}

func (e *LineNotFoundError) Unwrap() error { return apperr.ErrNotFound }

// QuantityError is returned when a line would exceed pricing.MaxQuantity.
type QuantityError struct {
	ItemID   string
	Quantity int
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("quantity %d of item %s exceeds %d", e.Quantity, e.ItemID, pricing.MaxQuantity)
}

func (e *QuantityError) Unwrap() error { return apperr.ErrInvalid }

func (c *Cart) index(itemID string) int {
	for i, l := range c.Lines {
		if l.ItemID == itemID {
			return i
		}
	}
	return -1
}

// Quantity reports the quantity held for itemID, zero when absent.
func (c *Cart) Quantity(itemID string) int {
	if i := c.index(itemID); i >= 0 {
		return c.Lines[i].Quantity
	}
	return 0
}

// Increment adds one unit of itemID, creating the line when needed.
func (c *Cart) Increment(itemID string) error {
	if i := c.index(itemID); i >= 0 {
		if c.Lines[i].Quantity >= pricing.MaxQuantity {
			return &QuantityError{ItemID: itemID, Quantity: c.Lines[i].Quantity + 1}
		}
		c.Lines[i].Quantity++
		return nil
	}
	c.Lines = append(c.Lines, Line{ItemID: itemID, Quantity: 1})
	return nil
}

// Decrement removes one unit of itemID and drops the line at zero.
func (c *Cart) Decrement(itemID string) error {
	i := c.index(itemID)
	if i < 0 {
		return &LineNotFoundError{ItemID: itemID}
	}
	c.Lines[i].Quantity--
	if c.Lines[i].Quantity <= 0 {
		c.drop(i)
	}
	return nil
}

// SetQuantity sets an existing line to n. A non-positive n removes it and n
// above pricing.MaxQuantity is rejected.
func (c *Cart) SetQuantity(itemID string, n int) error {
	i := c.index(itemID)
	if i < 0 {
		return &LineNotFoundError{ItemID: itemID}
	}
	if n <= 0 {
		c.drop(i)
		return nil
	}
	if n > pricing.MaxQuantity {
		return &QuantityError{ItemID: itemID, Quantity: n}
	}
	c.Lines[i].Quantity = n
	return nil
}

// Remove drops itemID. Removing an absent item is a no-op.
func (c *Cart) Remove(itemID string) {
	if i := c.index(itemID); i >= 0 {
		c.drop(i)
	}
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.Lines = c.Lines[:0]
}

func (c *Cart) drop(i int) {
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
}

// ItemIDs returns the ids of all lines in cart order.
func (c *Cart) ItemIDs() []string {
	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		ids[i] = l.ItemID
	}
	return ids
}

// ViewLine is a cart line priced against the current catalog.
type ViewLine struct {
	ItemID    string
	Name      string
	Image     string
	Price     decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
}

// View is the priced representation of a cart returned to callers.
type View struct {
	UserID      string
	Lines       []ViewLine
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
}

// Repository persists carts.
//
// Get returns an empty cart for users that have never added anything.
// Mutate loads the cart under an exclusive per-user lock, applies fn and
// stores the result only when fn returns nil.
type Repository interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Mutate(ctx context.Context, userID string, fn func(*Cart) error) (*Cart, error)
}
