package pubsub

import (
	"context"
	"sync"
)

// MemoryBroker delivers within a single process. Publish calls handlers
// synchronously, so each subscriber sees payloads in publish order.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]Handler
	nextID uint64
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics: make(map[string]map[uint64]Handler),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(b.topics[topic]))
	for _, h := range b.topics[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(topic string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	b.nextID++
	id := b.nextID
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]Handler)
	}
	b.topics[topic][id] = handler

	return &memorySubscription{broker: b, topic: topic, id: id}, nil
}

// Subscribers reports how many handlers are bound to topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.topics = make(map[string]map[uint64]Handler)
	return nil
}

type memorySubscription struct {
	broker *MemoryBroker
	topic  string
	id     uint64
	once   sync.Once
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()

		handlers := s.broker.topics[s.topic]
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.broker.topics, s.topic)
		}
	})
	return nil
}
