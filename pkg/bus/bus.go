// Package bus carries relay-to-relay messages so several relay processes can
// serve the same room. Messages are opaque byte frames published on a
// per-room channel.
package bus

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("bus closed")

// Handler receives one message published on a subscribed channel. Handlers run
// on the bus's own goroutine, one message at a time per subscription.
type Handler func(msg []byte)

type Bus interface {
	Publish(ctx context.Context, channel string, msg []byte) error
	// Subscribe delivers every message published on channel to h until the
	// returned cancel func is called.
	Subscribe(ctx context.Context, channel string, h Handler) (cancel func(), err error)
	Close() error
}
