package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"adoptme/internal/domain/entity"
	"adoptme/internal/infrastructure/stomp"
)

var errTransportClosed = errors.New("transport closed")

// fakeServer answers STOMP frames in process. SEND frames are recorded and,
// when echo is on, broadcast to every subscriber of the pair's topic the way
// the real server does.
type fakeServer struct {
	mu           sync.Mutex
	transports   []*fakeTransport
	published    []entity.SendMessageInput
	nextID       int64
	dialErr      error
	rejectAuth   bool
	silent       bool
	rejectTopics map[string]bool
	echo         bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{echo: true, rejectTopics: make(map[string]bool)}
}

func (s *fakeServer) dialer() Dialer {
	return func(ctx context.Context, url string) (Transport, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.dialErr != nil {
			return nil, s.dialErr
		}
		t := &fakeTransport{
			server:        s,
			inbound:       make(chan []byte, 256),
			closed:        make(chan struct{}),
			subscriptions: make(map[string]string),
		}
		s.transports = append(s.transports, t)
		return t, nil
	}
}

func (s *fakeServer) manager(opts ...Option) *ConnectionManager {
	return NewConnectionManager("ws://chat.test/ws", append([]Option{WithDialer(s.dialer())}, opts...)...)
}

// LiveSubscriptions counts subscriptions on transports that are still open.
func (s *fakeServer) LiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.transports {
		t.mu.Lock()
		if !t.isClosed {
			n += len(t.subscriptions)
		}
		t.mu.Unlock()
	}
	return n
}

func (s *fakeServer) Published() []entity.SendMessageInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.SendMessageInput(nil), s.published...)
}

func (s *fakeServer) Transport(i int) *fakeTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transports[i]
}

func (s *fakeServer) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transports)
}

// Deliver sends message as a MESSAGE frame to every subscriber of topic.
func (s *fakeServer) Deliver(topic string, message entity.Message) {
	body, _ := json.Marshal(message)

	s.mu.Lock()
	transports := append([]*fakeTransport(nil), s.transports...)
	s.mu.Unlock()

	for _, t := range transports {
		t.mu.Lock()
		var ids []string
		for id, dest := range t.subscriptions {
			if dest == topic {
				ids = append(ids, id)
			}
		}
		t.mu.Unlock()

		for _, id := range ids {
			f := stomp.NewFrame(stomp.CommandMessage,
				stomp.HeaderDestination, topic,
				stomp.HeaderSubscription, id,
				stomp.HeaderMessageID, fmt.Sprintf("m-%d", message.ID),
				stomp.HeaderContentType, stomp.ContentTypeJSON,
			)
			f.Body = body
			t.push(f)
		}
	}
}

// Drop simulates the server going away.
func (s *fakeServer) Drop(i int) {
	s.Transport(i).Close()
}

func (s *fakeServer) handle(t *fakeTransport, f *stomp.Frame) {
	receipt := f.Header.Get(stomp.HeaderReceipt)

	switch f.Command {
	case stomp.CommandConnect:
		s.mu.Lock()
		reject, silent := s.rejectAuth, s.silent
		s.mu.Unlock()
		t.mu.Lock()
		t.auth = f.Header.Get(stomp.HeaderAuthorization)
		t.mu.Unlock()

		switch {
		case silent:
		case reject:
			t.push(stomp.ErrorFrame("authentication required", ""))
		default:
			t.push(stomp.NewFrame(stomp.CommandConnected, stomp.HeaderVersion, stomp.Version, stomp.HeaderSession, "fake-session"))
		}

	case stomp.CommandSubscribe:
		destination := f.Header.Get(stomp.HeaderDestination)
		s.mu.Lock()
		rejected := s.rejectTopics[destination]
		s.mu.Unlock()
		if rejected {
			t.push(stomp.ErrorFrame("not a participant of this conversation", receipt))
			return
		}

		t.mu.Lock()
		t.subscriptions[f.Header.Get(stomp.HeaderID)] = destination
		t.mu.Unlock()
		if receipt != "" {
			t.push(stomp.NewFrame(stomp.CommandReceipt, stomp.HeaderReceiptID, receipt))
		}

	case stomp.CommandUnsubscribe:
		t.mu.Lock()
		delete(t.subscriptions, f.Header.Get(stomp.HeaderID))
		t.mu.Unlock()

	case stomp.CommandSend:
		var input entity.SendMessageInput
		if err := json.Unmarshal(f.Body, &input); err != nil {
			t.push(stomp.ErrorFrame("message body must be a JSON envelope", receipt))
			return
		}

		s.mu.Lock()
		s.published = append(s.published, input)
		s.nextID++
		message := entity.Message{
			ID:         s.nextID,
			SenderID:   input.SenderID,
			ReceiverID: input.ReceiverID,
			Content:    input.Content,
			Timestamp:  time.Now().UTC(),
		}
		echo := s.echo
		s.mu.Unlock()

		if echo {
			s.Deliver(entity.ConversationTopic(message.ConversationKey()), message)
		}

	case stomp.CommandDisconnect:
		t.mu.Lock()
		t.disconnected = true
		t.mu.Unlock()
	}
}

type fakeTransport struct {
	server  *fakeServer
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu            sync.Mutex
	isClosed      bool
	disconnected  bool
	auth          string
	commands      []string
	subscriptions map[string]string
}

func (t *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case data := <-t.inbound:
		return websocket.TextMessage, data, nil
	case <-t.closed:
		return 0, nil, errTransportClosed
	}
}

func (t *fakeTransport) WriteMessage(messageType int, data []byte) error {
	select {
	case <-t.closed:
		return errTransportClosed
	default:
	}

	f, err := stomp.Decode(data)
	if err == stomp.ErrEmptyFrame {
		return nil
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.commands = append(t.commands, f.Command)
	t.mu.Unlock()

	t.server.handle(t, f)
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.isClosed = true
		t.mu.Unlock()
		close(t.closed)
	})
	return nil
}

func (t *fakeTransport) push(f *stomp.Frame) {
	data, err := stomp.Encode(f)
	if err != nil {
		panic(err)
	}
	select {
	case t.inbound <- data:
	case <-t.closed:
	}
}

func (t *fakeTransport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isClosed
}

func (t *fakeTransport) Auth() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.auth
}
