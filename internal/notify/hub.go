package notify

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Conn is a live subscriber session. Send must not block: transports queue
// the frame or fail fast when the peer cannot keep up.
type Conn interface {
	ID() string
	Send(frame []byte) error
}

// Publisher delivers events to a channel.
type Publisher interface {
	Publish(ctx context.Context, ch Channel, ev Event)
}

var _ Publisher = (*Hub)(nil)

// Hub is the in-process subscription registry.
type Hub struct {
	mu       sync.RWMutex
	channels map[Channel]map[string]Conn
	members  map[string]map[Channel]struct{}

	delivered metric.Int64Counter
	dropped   metric.Int64Counter
}

// NewHub creates an empty Hub reporting delivery counters to mp.
func NewHub(mp metric.MeterProvider) (*Hub, error) {
	meter := mp.Meter("github.com/xenking/oolio-delivery/internal/notify")
	delivered, err := meter.Int64Counter("notify.events.delivered",
		metric.WithDescription("Frames handed to subscriber connections"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "delivered counter")
	}
	dropped, err := meter.Int64Counter("notify.events.dropped",
		metric.WithDescription("Frames a subscriber connection refused"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "dropped counter")
	}
	return &Hub{
		channels:  make(map[Channel]map[string]Conn),
		members:   make(map[string]map[Channel]struct{}),
		delivered: delivered,
		dropped:   dropped,
	}, nil
}

// Subscribe joins conn to ch. A connection may join any number of channels.
func (h *Hub) Subscribe(conn Conn, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[ch]
	if !ok {
		subs = make(map[string]Conn)
		h.channels[ch] = subs
	}
	subs[conn.ID()] = conn

	joined, ok := h.members[conn.ID()]
	if !ok {
		joined = make(map[Channel]struct{})
		h.members[conn.ID()] = joined
	}
	joined[ch] = struct{}{}
}

// Unsubscribe removes conn from ch only.
func (h *Hub) Unsubscribe(conn Conn, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(conn.ID(), ch)
}

// Remove drops conn from every channel it joined. Transports call it when the
// connection closes.
func (h *Hub) Remove(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.members[conn.ID()] {
		h.leave(conn.ID(), ch)
	}
}

// leave must be called with h.mu held.
func (h *Hub) leave(id string, ch Channel) {
	if subs, ok := h.channels[ch]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.channels, ch)
		}
	}
	if joined, ok := h.members[id]; ok {
		delete(joined, ch)
		if len(joined) == 0 {
			delete(h.members, id)
		}
	}
}

// Subscribers reports how many connections are currently in ch.
func (h *Hub) Subscribers(ch Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[ch])
}

// Publish sends ev to every connection currently subscribed to ch. Failed
// sends are counted and logged, never returned.
func (h *Hub) Publish(ctx context.Context, ch Channel, ev Event) {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.channels[ch]))
	for _, c := range h.channels[ch] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	frame := ev.Frame()
	attrs := metric.WithAttributes(
		attribute.String("event", ev.Name),
		attribute.Bool("staff", ch.Kind == KindStaff),
	)
	for _, c := range targets {
		if err := c.Send(frame); err != nil {
			h.dropped.Add(ctx, 1, attrs)
			zctx.From(ctx).Debug("Dropped notification",
				zap.String("conn", c.ID()),
				zap.Stringer("channel", ch),
				zap.String("event", ev.Name),
				zap.Error(err),
			)
			continue
		}
		h.delivered.Add(ctx, 1, attrs)
	}
}
