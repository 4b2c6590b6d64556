// Package pubsub fans published payloads out to every subscriber of a topic.
// The realtime hub subscribes one handler per client subscription; the chat
// use case publishes stored messages.
package pubsub

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("pubsub: broker closed")

// Handler receives a payload. It is called from the broker's delivery path
// and must not block for long.
type Handler func(payload []byte)

type Subscription interface {
	Unsubscribe() error
}

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) (Subscription, error)
	Close() error
}
