// Package notify fans lifecycle events out to live subscriber connections.
//
// Subscribers join named channels: one shared staff channel and one channel
// per user. Delivery is fire-and-forget and at most once. Nothing is stored
// for subscribers that are not connected when an event is published.
package notify

import (
	"strings"

	"github.com/go-faster/errors"
)

// Kind distinguishes the staff broadcast channel from per-user channels.
type Kind uint8

const (
	KindStaff Kind = iota + 1
	KindUser
)

// Channel identifies a subscriber group. Key is the user id for KindUser and
// empty for KindStaff.
type Channel struct {
	Kind Kind
	Key  string
}

// Staff returns the shared staff channel.
func Staff() Channel {
	return Channel{Kind: KindStaff}
}

// User returns the channel of a single customer.
func User(id string) Channel {
	return Channel{Kind: KindUser, Key: id}
}

func (c Channel) String() string {
	switch c.Kind {
	case KindStaff:
		return "staff"
	case KindUser:
		return "user:" + c.Key
	default:
		return "unknown"
	}
}

// ParseChannel is the inverse of Channel.String.
func ParseChannel(s string) (Channel, error) {
	if s == "staff" {
		return Staff(), nil
	}
	if id, ok := strings.CutPrefix(s, "user:"); ok && id != "" {
		return User(id), nil
	}
	return Channel{}, errors.Errorf("unknown channel %q", s)
}
