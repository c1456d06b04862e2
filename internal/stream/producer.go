package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/oolio-delivery/internal/domain/order"
)

var _ order.Journal = (*Producer)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config controls the Kafka producer.
type Config struct {
	Brokers  []string
	Topic    string
	Buffer   int
	Producer string
	// WriteTimeout bounds a single broker write.
	WriteTimeout time.Duration
}

// Producer queues lifecycle envelopes and writes them to Kafka from a single
// goroutine. Messages are keyed by order id so one order's events stay in
// partition order.
type Producer struct {
	w            messageWriter
	inbox        chan kafka.Message
	producer     string
	writeTimeout time.Duration
}

// NewProducer creates a Producer. Call Run to start delivery.
func NewProducer(cfg Config) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(w, cfg)
}

func newProducer(w messageWriter, cfg Config) *Producer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Producer{
		w:            w,
		inbox:        make(chan kafka.Message, cfg.Buffer),
		producer:     cfg.Producer,
		writeTimeout: cfg.WriteTimeout,
	}
}

// Append enqueues ev without blocking. When the queue is full the event is
// dropped and logged.
func (p *Producer) Append(ctx context.Context, ev order.LifecycleEvent) {
	lg := zctx.From(ctx)
	env, err := NewEnvelope(p.producer, ev)
	if err != nil {
		lg.Error("Build order envelope", zap.Error(err))
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		lg.Error("Marshal order envelope", zap.Error(err))
		return
	}

	msg := kafka.Message{
		Key:   []byte(ev.Order.ID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	select {
	case p.inbox <- msg:
	default:
		lg.Warn("Order stream queue full, dropping event",
			zap.String("order_id", ev.Order.ID),
			zap.String("event_type", ev.Type),
		)
	}
}

// Run writes queued messages until ctx is done, then flushes what is left
// and closes the writer.
func (p *Producer) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	for {
		select {
		case <-ctx.Done():
			p.flush(context.WithoutCancel(ctx))
			if err := p.w.Close(); err != nil {
				return errors.Wrap(err, "close kafka writer")
			}
			return nil
		case m := <-p.inbox:
			if err := p.write(ctx, m); err != nil {
				lg.Warn("Order stream write failed", zap.String("key", string(m.Key)), zap.Error(err))
			}
		}
	}
}

func (p *Producer) flush(ctx context.Context) {
	for {
		select {
		case m := <-p.inbox:
			if err := p.write(ctx, m); err != nil {
				zctx.From(ctx).Warn("Order stream flush failed", zap.String("key", string(m.Key)), zap.Error(err))
			}
		default:
			return
		}
	}
}

func (p *Producer) write(ctx context.Context, m kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	return p.w.WriteMessages(ctx, m)
}
