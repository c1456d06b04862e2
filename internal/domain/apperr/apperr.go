// Package apperr defines the error kinds shared by the cart and order domains.
//
// Domain packages return typed errors that unwrap to one of these sentinels,
// so transport code can classify a failure with errors.Is without knowing the
// concrete type.
package apperr

import "github.com/go-faster/errors"

var (
	// ErrNotFound marks a missing cart line, order or catalog item.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks a catalog item that exists but cannot be purchased.
	ErrUnavailable = errors.New("unavailable")
	// ErrEmptyOrder marks a checkout attempt without line items.
	ErrEmptyOrder = errors.New("order has no items")
	// ErrConflict marks a mutation rejected because of a concurrent writer.
	ErrConflict = errors.New("concurrent modification")
	// ErrInvalid marks malformed caller input.
	ErrInvalid = errors.New("invalid input")
)

// Kind returns the sentinel err is classified as, or nil when err does not
// belong to the taxonomy.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrUnavailable, ErrEmptyOrder, ErrConflict, ErrInvalid} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
