package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-delivery/internal/domain/apperr"
	"github.com/xenking/oolio-delivery/internal/domain/pricing"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the lifecycle. Staff may still move an
// order out of a terminal status to correct mistakes.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// ParseStatus validates a status received from a caller.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", &InvalidStatusError{Value: s}
	}
	return st, nil
}

// PaymentStatus tracks the payment attached to an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Address is where an order is delivered.
type Address struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Street    string
	City      string
	State     string
	ZipCode   string
}

// LineItem is the snapshot of a menu item taken when the order was placed.
// It is never re-priced afterwards.
type LineItem struct {
	ItemID    string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Image     string
}

// Total returns the line total.
func (l LineItem) Total() decimal.Decimal {
	return pricing.LineTotal(l.UnitPrice, l.Quantity)
}

// Order is a placed customer order. Total is fixed at creation.
type Order struct {
	ID                string
	UserID            string
	Items             []LineItem
	DeliveryFee       decimal.Decimal
	Total             decimal.Decimal
	Address           Address
	Status            Status
	PaymentStatus     PaymentStatus
	EstimatedDelivery time.Time
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Owner is the display information of the customer who placed an order.
type Owner struct {
	ID    string
	Name  string
	Email string
}

// WithOwner is an order listed for staff together with its customer.
type WithOwner struct {
	Order
	Owner Owner
}

// Stats summarises the persisted order set.
type Stats struct {
	Total    int
	ByStatus map[Status]int
	Revenue  decimal.Decimal
}

// Count returns the number of orders in status st.
func (s *Stats) Count(st Status) int {
	return s.ByStatus[st]
}

// Tally computes Stats over orders. Revenue only counts paid orders.
func Tally(orders []Order) *Stats {
	st := &Stats{
		ByStatus: make(map[Status]int, len(Statuses)),
		Revenue:  decimal.Zero,
	}
	for _, o := range orders {
		st.Total++
		st.ByStatus[o.Status]++
		if o.PaymentStatus == PaymentPaid {
			st.Revenue = st.Revenue.Add(o.Total)
		}
	}
	return st
}

// NotFoundError is returned for unknown order ids and for orders owned by
// another customer.
type NotFoundError struct {
	OrderID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}

func (e *NotFoundError) Unwrap() error { return apperr.ErrNotFound }

// InvalidStatusError is returned for unknown status values.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid order status %q", e.Value)
}

func (e *InvalidStatusError) Unwrap() error { return apperr.ErrInvalid }

// InvalidLineItemError reports a malformed line item in a checkout request.
type InvalidLineItemError struct {
	Index  int
	Reason string
}

func (e *InvalidLineItemError) Error() string {
	return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
}

func (e *InvalidLineItemError) Unwrap() error { return apperr.ErrInvalid }

// TotalTooLargeError reports a checkout whose total does not fit a stored
// amount.
type TotalTooLargeError struct {
	Total decimal.Decimal
}

func (e *TotalTooLargeError) Error() string {
	return fmt.Sprintf("order total %s exceeds %s", e.Total.StringFixed(2), pricing.MaxAmount.StringFixed(2))
}

func (e *TotalTooLargeError) Unwrap() error { return apperr.ErrInvalid }

// Repository persists orders.
//
// Update loads the order under an exclusive lock, applies fn and stores the
// result only when fn returns nil. Listings are ordered newest first, ties
// broken by insertion order with the later insert first.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, id string, fn func(*Order) error) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Users resolves customer display information.
type Users interface {
	Owners(ctx context.Context, ids []string) (map[string]Owner, error)
}

// Carts is the part of the cart store checkout needs.
type Carts interface {
	Reset(ctx context.Context, userID string) error
}
