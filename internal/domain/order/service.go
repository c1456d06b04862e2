// Package order implements the order lifecycle: checkout, payment
// verification, staff status changes, listings and statistics.
package order

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/oolio-delivery/internal/domain/apperr"
	"github.com/xenking/oolio-delivery/internal/domain/pricing"
	"github.com/xenking/oolio-delivery/internal/notify"
)

const instrumentationName = "github.com/xenking/oolio-delivery/internal/domain/order"

// CreateRequest holds the checkout input. Unit prices are taken as supplied.
type CreateRequest struct {
	Items   []LineItem
	Address Address
}

// Placement is the result of a successful checkout.
type Placement struct {
	Order *Order
	// RedirectURL is where the client is sent to confirm the order.
	RedirectURL string
}

// Option configures a Service.
type Option func(*Service)

// WithJournal records lifecycle events to j.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithConfirmationURL sets the page checkout redirects to.
func WithConfirmationURL(u string) Option {
	return func(s *Service) { s.confirmationURL = u }
}

// WithTelemetry reports spans and counters to the given providers.
func WithTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.meterProvider = mp
		s.tracer = tp.Tracer(instrumentationName)
	}
}

// Service encapsulates the order lifecycle.
type Service struct {
	orders   Repository
	carts    Carts
	users    Users
	notifier notify.Publisher
	journal  Journal

	now             func() time.Time
	confirmationURL string

	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	created        metric.Int64Counter
	statusChanges  metric.Int64Counter
	paymentResults metric.Int64Counter
}

// NewService creates an order Service. The notifier receives every event
// after the corresponding change is committed.
func NewService(
	orders Repository,
	carts Carts,
	users Users,
	notifier notify.Publisher,
	opts ...Option,
) *Service {
	s := &Service{
		orders:          orders,
		carts:           carts,
		users:           users,
		notifier:        notifier,
		journal:         nopJournal{},
		now:             time.Now,
		confirmationURL: "http://localhost:5173/verify",
		meterProvider:   metricnoop.NewMeterProvider(),
		tracer:          tracenoop.NewTracerProvider().Tracer(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}

	meter := s.meterProvider.Meter(instrumentationName)
	s.created = counter(meter, "orders.created", "Orders placed")
	s.statusChanges = counter(meter, "orders.status_changes", "Staff status updates")
	s.paymentResults = counter(meter, "orders.payment_results", "Payment verification outcomes")
	return s
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return metricnoop.Int64Counter{}
	}
	return c
}

// Create places an order for userID. The order is confirmed and paid
// immediately; the user's cart is emptied afterwards on a best-effort basis.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*Placement, error) {
	if len(req.Items) == 0 {
		return nil, apperr.ErrEmptyOrder
	}
	for i, item := range req.Items {
		if err := validateLineItem(i, item); err != nil {
			return nil, err
		}
	}

	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()
	// Once started, a checkout completes even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	now := s.now()
	items := make([]LineItem, len(req.Items))
	copy(items, req.Items)
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Total())
	}

	total := subtotal.Add(pricing.DeliveryFee)
	if !pricing.ValidAmount(total) {
		return nil, &TotalTooLargeError{Total: total}
	}

	o := &Order{
		ID:                uuid.NewString(),
		UserID:            userID,
		Items:             items,
		DeliveryFee:       pricing.DeliveryFee,
		Total:             total,
		Address:           req.Address,
		Status:            StatusConfirmed,
		PaymentStatus:     PaymentPaid,
		EstimatedDelivery: now.Add(pricing.DeliveryLeadTime),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	s.created.Add(ctx, 1)

	lg := zctx.From(ctx)
	if err := s.carts.Reset(ctx, userID); err != nil {
		lg.Warn("Cart not cleared after checkout",
			zap.String("order_id", o.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	s.notifier.Publish(ctx, notify.Staff(), newOrderEvent(o.ID))
	s.journal.Append(ctx, LifecycleEvent{Type: JournalOrderCreated, Order: *o, OccurredAt: now})
	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", userID),
		zap.Stringer("total", o.Total),
	)

	return &Placement{Order: o, RedirectURL: s.redirectURL(o.ID)}, nil
}

func validateLineItem(i int, item LineItem) error {
	switch {
	case item.ItemID == "":
		return &InvalidLineItemError{Index: i, Reason: "item id is required"}
	case item.Quantity < 1:
		return &InvalidLineItemError{Index: i, Reason: "quantity must be at least 1"}
	case item.Quantity > pricing.MaxQuantity:
		return &InvalidLineItemError{Index: i, Reason: fmt.Sprintf("quantity must be at most %d", pricing.MaxQuantity)}
	case item.UnitPrice.IsNegative():
		return &InvalidLineItemError{Index: i, Reason: "price must not be negative"}
	case !pricing.ValidAmount(item.UnitPrice):
		return &InvalidLineItemError{Index: i, Reason: "price must be at most " + pricing.MaxAmount.StringFixed(2) + " with two decimal places"}
	}
	return nil
}

func (s *Service) redirectURL(orderID string) string {
	u, err := url.Parse(s.confirmationURL)
	if err != nil {
		return s.confirmationURL
	}
	q := u.Query()
	q.Set("success", "true")
	q.Set("orderId", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

// VerifyPayment records the payment outcome. A successful payment confirms
// the order and notifies staff; a failed one cancels it silently.
func (s *Service) VerifyPayment(ctx context.Context, orderID string, succeeded bool) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.VerifyPayment",
		trace.WithAttributes(attribute.String("order.id", orderID), attribute.Bool("payment.succeeded", succeeded)),
	)
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	var previous Status
	o, err := s.orders.Update(ctx, orderID, func(o *Order) error {
		previous = o.Status
		if succeeded {
			o.PaymentStatus = PaymentPaid
			o.Status = StatusConfirmed
		} else {
			o.PaymentStatus = PaymentFailed
			o.Status = StatusCancelled
		}
		o.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	s.paymentResults.Add(ctx, 1, metric.WithAttributes(attribute.Bool("succeeded", succeeded)))

	if succeeded {
		s.notifier.Publish(ctx, notify.Staff(), orderUpdateEvent(o, previous))
	}
	s.journal.Append(ctx, LifecycleEvent{
		Type:           JournalPaymentVerified,
		Order:          *o,
		PreviousStatus: previous,
		OccurredAt:     o.UpdatedAt,
	})
	return o, nil
}

// UpdateStatus moves an order to status. Any transition is accepted so staff
// can correct mistakes. Entering delivered stamps DeliveredAt every time.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, &InvalidStatusError{Value: string(status)}
	}

	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(status))),
	)
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	var previous Status
	o, err := s.orders.Update(ctx, orderID, func(o *Order) error {
		now := s.now()
		previous = o.Status
		o.Status = status
		if status == StatusDelivered {
			o.DeliveredAt = &now
		}
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	s.statusChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))

	s.notifier.Publish(ctx, notify.Staff(), orderUpdateEvent(o, previous))
	s.notifier.Publish(ctx, notify.User(o.UserID), myOrderUpdateEvent(o))
	s.journal.Append(ctx, LifecycleEvent{
		Type:           JournalOrderStatusChanged,
		Order:          *o,
		PreviousStatus: previous,
		OccurredAt:     o.UpdatedAt,
	})

	if previous.Terminal() && previous != status {
		zctx.From(ctx).Info("Order moved out of terminal status",
			zap.String("order_id", o.ID),
			zap.String("from", string(previous)),
			zap.String("to", string(status)),
		)
	}
	return o, nil
}

// Get returns any order by id.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetForUser returns an order only when userID owns it.
func (s *Service) GetForUser(ctx context.Context, orderID, userID string) (*Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, &NotFoundError{OrderID: orderID}
	}
	return o, nil
}

// ListForUser returns the user's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", err)
	}
	return orders, nil
}

// ListAll returns every order, newest first, with customer details attached.
func (s *Service) ListAll(ctx context.Context) ([]WithOwner, error) {
	orders, err := s.orders.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	ids := make([]string, 0, len(orders))
	seen := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		if _, ok := seen[o.UserID]; ok {
			continue
		}
		seen[o.UserID] = struct{}{}
		ids = append(ids, o.UserID)
	}
	owners, err := s.users.Owners(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve order owners: %w", err)
	}

	out := make([]WithOwner, len(orders))
	for i, o := range orders {
		owner, ok := owners[o.UserID]
		if !ok {
			owner = Owner{ID: o.UserID}
		}
		out[i] = WithOwner{Order: o, Owner: owner}
	}
	return out, nil
}

// Stats computes order statistics from the current order set.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.orders.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("order stats: %w", err)
	}
	return st, nil
}
