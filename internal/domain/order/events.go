package order

import (
	"context"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/oolio-delivery/internal/notify"
)

// Notification names pushed to live subscribers.
const (
	EventNewOrder      = "newOrder"
	EventOrderUpdate   = "orderUpdate"
	EventMyOrderUpdate = "myOrderUpdate"
)

func newOrderEvent(orderID string) notify.Event {
	return notify.NewEvent(EventNewOrder, func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(orderID) })
	})
}

func orderUpdateEvent(o *Order, previous Status) notify.Event {
	return notify.NewEvent(EventOrderUpdate, func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("previousStatus", func(e *jx.Encoder) { e.Str(string(previous)) })
		e.Field("newStatus", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("deliveredTimestamp", func(e *jx.Encoder) {
			if o.DeliveredAt == nil {
				e.Null()
				return
			}
			e.Str(o.DeliveredAt.UTC().Format(time.RFC3339Nano))
		})
	})
}

func myOrderUpdateEvent(o *Order) notify.Event {
	return notify.NewEvent(EventMyOrderUpdate, func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("newStatus", func(e *jx.Encoder) { e.Str(string(o.Status)) })
	})
}

// Lifecycle event types recorded in the order journal.
const (
	JournalOrderCreated       = "OrderCreated"
	JournalOrderStatusChanged = "OrderStatusChanged"
	JournalPaymentVerified    = "PaymentVerified"
)

// LifecycleEvent is a committed change to an order, recorded for downstream
// consumers such as kitchen displays and analytics.
type LifecycleEvent struct {
	Type           string
	Order          Order
	PreviousStatus Status
	OccurredAt     time.Time
}

// Journal receives lifecycle events after the change is committed.
type Journal interface {
	Append(ctx context.Context, ev LifecycleEvent)
}

type nopJournal struct{}

func (nopJournal) Append(context.Context, LifecycleEvent) {}
