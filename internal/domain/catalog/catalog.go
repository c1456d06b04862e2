// Package catalog describes the read-only menu that carts and orders price
// against.
package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-delivery/internal/domain/apperr"
)

// Item is a purchasable menu entry.
type Item struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	Image       string
	Available   bool
}

// ItemError reports an item that cannot be added to a cart.
type ItemError struct {
	ItemID string
	Err    error
}

func (e *ItemError) Error() string {
	if e.Err == apperr.ErrUnavailable {
		return fmt.Sprintf("item %s is not available", e.ItemID)
	}
	return fmt.Sprintf("item %s not found", e.ItemID)
}

func (e *ItemError) Unwrap() error { return e.Err }

// NotFound returns an ItemError for an unknown id.
func NotFound(id string) error {
	return &ItemError{ItemID: id, Err: apperr.ErrNotFound}
}

// Unavailable returns an ItemError for an item that exists but is switched off.
func Unavailable(id string) error {
	return &ItemError{ItemID: id, Err: apperr.ErrUnavailable}
}

// Resolver looks up current item details.
//
// Resolve returns an error wrapping apperr.ErrNotFound for unknown ids.
// ResolveMany silently omits unknown ids from the result.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*Item, error)
	ResolveMany(ctx context.Context, ids []string) (map[string]Item, error)
}

// Lister is implemented by catalogs that can enumerate their items.
type Lister interface {
	List(ctx context.Context) ([]Item, error)
}
