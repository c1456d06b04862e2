// Package stream publishes committed order lifecycle changes to Kafka for
// downstream consumers.
package stream

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/oolio-delivery/internal/domain/order"
)

// Envelope wraps every message written to the order topic.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// OrderPayload is the payload of every order envelope.
type OrderPayload struct {
	OrderID           string        `json:"order_id"`
	UserID            string        `json:"user_id"`
	Status            string        `json:"status"`
	PreviousStatus    string        `json:"previous_status,omitempty"`
	PaymentStatus     string        `json:"payment_status"`
	Total             string        `json:"total"`
	Items             []ItemPayload `json:"items,omitempty"`
	EstimatedDelivery time.Time     `json:"estimated_delivery"`
	DeliveredAt       *time.Time    `json:"delivered_at,omitempty"`
}

type ItemPayload struct {
	ItemID    string `json:"item_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

const envelopeVersion = 1

// NewEnvelope builds the envelope for a lifecycle event. Line items are only
// included for OrderCreated.
func NewEnvelope(producer string, ev order.LifecycleEvent) (*Envelope, error) {
	o := ev.Order
	p := OrderPayload{
		OrderID:           o.ID,
		UserID:            o.UserID,
		Status:            string(o.Status),
		PreviousStatus:    string(ev.PreviousStatus),
		PaymentStatus:     string(o.PaymentStatus),
		Total:             o.Total.StringFixed(2),
		EstimatedDelivery: o.EstimatedDelivery.UTC(),
		DeliveredAt:       o.DeliveredAt,
	}
	if ev.Type == order.JournalOrderCreated {
		p.Items = make([]ItemPayload, len(o.Items))
		for i, item := range o.Items {
			p.Items[i] = ItemPayload{
				ItemID:    item.ItemID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice.StringFixed(2),
			}
		}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return &Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		EventVersion:  envelopeVersion,
		OccurredAt:    ev.OccurredAt.UTC(),
		Producer:      producer,
		CorrelationID: o.ID,
		Payload:       raw,
	}, nil
}
