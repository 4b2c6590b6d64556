package chatclient

import (
	"sync"

	"adoptme/internal/domain/entity"
)

// Messages buffered per subscription before the reader waits on the consumer.
const streamBuffer = 64

// Subscription is the delivery stream of one conversation topic. Messages
// arrive on C in server order; C is closed when the subscription ends, and
// nothing is delivered after that.
type Subscription struct {
	conn  *Connection
	id    string
	topic string

	ch   chan entity.Message
	done chan struct{}
	once sync.Once

	// mu orders deliveries against closing ch.
	mu     sync.RWMutex
	closed bool
}

func newSubscription(conn *Connection, id, topic string) *Subscription {
	return &Subscription{
		conn:  conn,
		id:    id,
		topic: topic,
		ch:    make(chan entity.Message, streamBuffer),
		done:  make(chan struct{}),
	}
}

func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) Topic() string {
	return s.topic
}

// C is the single-consumer message stream.
func (s *Subscription) C() <-chan entity.Message {
	return s.ch
}

// Done is closed as soon as the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe ends the subscription and tells the server. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.conn.unsubscribe(s)
}

func (s *Subscription) deliver(message entity.Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- message:
		return true
	case <-s.done:
		return false
	}
}

func (s *Subscription) close() {
	s.once.Do(func() {
		// Release a deliver blocked on a full buffer before taking the lock.
		close(s.done)

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
