package notify

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ Publisher = (*RedisRelay)(nil)

// RedisRelay spreads events across API instances. Every publish is delivered
// to the local Hub first and then broadcast over a Redis pub/sub topic; other
// instances re-deliver it to their own subscribers. Messages carry the origin
// instance id so an instance never delivers its own event twice.
type RedisRelay struct {
	rdb    redis.UniversalClient
	topic  string
	origin string
	local  *Hub
}

// NewRedisRelay creates a relay publishing on topic.
func NewRedisRelay(rdb redis.UniversalClient, topic string, local *Hub) *RedisRelay {
	return &RedisRelay{
		rdb:    rdb,
		topic:  topic,
		origin: uuid.NewString(),
		local:  local,
	}
}

// Publish delivers ev locally and forwards it to peer instances. Redis
// failures are logged; local subscribers still get the event.
func (r *RedisRelay) Publish(ctx context.Context, ch Channel, ev Event) {
	r.local.Publish(ctx, ch, ev)

	msg := encodeRelayMessage(relayMessage{Origin: r.origin, Channel: ch, Event: ev})
	if err := r.rdb.Publish(ctx, r.topic, msg).Err(); err != nil {
		zctx.From(ctx).Warn("Relay publish failed",
			zap.String("topic", r.topic),
			zap.String("event", ev.Name),
			zap.Error(err),
		)
	}
}

// Run consumes the relay topic until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.topic)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe relay topic")
	}
	zctx.From(ctx).Info("Relay subscribed", zap.String("topic", r.topic), zap.String("origin", r.origin))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return errors.New("relay subscription closed")
			}
			r.deliver(ctx, m.Payload)
		}
	}
}

func (r *RedisRelay) deliver(ctx context.Context, payload string) {
	msg, err := decodeRelayMessage([]byte(payload))
	if err != nil {
		zctx.From(ctx).Warn("Skipping malformed relay message", zap.Error(err))
		return
	}
	if msg.Origin == r.origin {
		return
	}
	r.local.Publish(ctx, msg.Channel, msg.Event)
}

type relayMessage struct {
	Origin  string
	Channel Channel
	Event   Event
}

func encodeRelayMessage(m relayMessage) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("origin", func(e *jx.Encoder) { e.Str(m.Origin) })
		e.Field("channel", func(e *jx.Encoder) { e.Str(m.Channel.String()) })
		e.Field("event", func(e *jx.Encoder) { e.Str(m.Event.Name) })
		e.Field("data", func(e *jx.Encoder) { writeData(e, m.Event.Data) })
	})
	return e.Bytes()
}

func decodeRelayMessage(b []byte) (relayMessage, error) {
	var m relayMessage
	err := jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "origin":
			v, err := d.Str()
			m.Origin = v
			return err
		case "channel":
			v, err := d.Str()
			if err != nil {
				return err
			}
			m.Channel, err = ParseChannel(v)
			return err
		case "event":
			v, err := d.Str()
			m.Event.Name = v
			return err
		case "data":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			m.Event.Data = append([]byte(nil), raw...)
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return relayMessage{}, errors.Wrap(err, "decode relay message")
	}
	if m.Event.Name == "" || m.Channel.Kind == 0 {
		return relayMessage{}, errors.New("decode relay message: incomplete")
	}
	return m, nil
}
