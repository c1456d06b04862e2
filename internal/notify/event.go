package notify

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Event is a named notification. Data holds the encoded JSON payload.
type Event struct {
	Name string
	Data []byte
}

// NewEvent builds an Event whose payload object is written by fields.
func NewEvent(name string, fields func(e *jx.Encoder)) Event {
	var e jx.Encoder
	e.Obj(fields)
	return Event{Name: name, Data: e.Bytes()}
}

// Frame renders the wire frame sent to subscribers:
//
//	{"event":"orderUpdate","data":{...}}
func (ev Event) Frame() []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("event", func(e *jx.Encoder) { e.Str(ev.Name) })
		e.Field("data", func(e *jx.Encoder) { writeData(e, ev.Data) })
	})
	return e.Bytes()
}

// DecodeFrame parses a frame produced by Event.Frame.
func DecodeFrame(b []byte) (Event, error) {
	var ev Event
	err := jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			name, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "event")
			}
			ev.Name = name
		case "data":
			raw, err := d.Raw()
			if err != nil {
				return errors.Wrap(err, "data")
			}
			ev.Data = append([]byte(nil), raw...)
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return Event{}, errors.Wrap(err, "decode frame")
	}
	if ev.Name == "" {
		return Event{}, errors.New("decode frame: missing event name")
	}
	return ev, nil
}

func writeData(e *jx.Encoder, data []byte) {
	if len(data) == 0 {
		e.Null()
		return
	}
	e.Raw(data)
}
