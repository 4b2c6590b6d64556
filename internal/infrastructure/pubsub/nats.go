package pubsub

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"adoptme/pkg/logger"
)

// NatsBroker relays topics over core NATS subjects so that every API replica
// delivers to the sockets it holds, whichever replica accepted the send.
type NatsBroker struct {
	nc     *nats.Conn
	prefix string
}

func NewNatsBroker(url, prefix string) (*NatsBroker, error) {
	nc, err := nats.Connect(url,
		nats.Name("adoptme-api"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS: connected to %s", nc.ConnectedUrl())
	return &NatsBroker{nc: nc, prefix: prefix}, nil
}

// Subject maps a destination such as /topic/chat/1_2 onto prefix.topic.chat.1_2.
func (b *NatsBroker) Subject(topic string) string {
	return SubjectFor(b.prefix, topic)
}

func SubjectFor(prefix, topic string) string {
	subject := strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}

func (b *NatsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := b.Subject(topic)
	if err := b.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to subject '%s': %w", subject, err)
	}
	return nil
}

func (b *NatsBroker) Subscribe(topic string, handler Handler) (Subscription, error) {
	subject := b.Subject(topic)
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject '%s': %w", subject, err)
	}
	return sub, nil
}

func (b *NatsBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
