package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"adoptme/internal/domain/entity"
	"adoptme/internal/infrastructure/pubsub"
	"adoptme/internal/infrastructure/ratelimit"
	"adoptme/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from a peer.
	maxFrameSize = 64 * 1024

	// Outbound frames buffered per client before it counts as too slow.
	sendBufferSize = 256

	// Upper bound for handing a SEND to the message service.
	sendTimeout = 10 * time.Second
)

// MessageSender persists and routes a published envelope.
type MessageSender interface {
	SendMessage(ctx context.Context, input entity.SendMessageInput) (*entity.Message, error)
}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	VerifyToken(token string) (int64, error)
}

type Options struct {
	// RequireAuth rejects CONNECT frames without a valid token. Without it,
	// anonymous clients may connect and the token is only checked when sent.
	RequireAuth bool

	// Limiter throttles SUBSCRIBE frames per connection. Nil disables it.
	Limiter *ratelimit.RateLimiter
}

// Manager tracks live realtime clients and binds their subscriptions to the broker.
type Manager struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex

	broker   pubsub.Broker
	sender   MessageSender
	verifier TokenVerifier
	opts     Options
	done     chan struct{}
}

func NewManager(broker pubsub.Broker, sender MessageSender, verifier TokenVerifier, opts Options) *Manager {
	return &Manager{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broker:     broker,
		sender:     sender,
		verifier:   verifier,
		opts:       opts,
		done:       make(chan struct{}),
	}
}

// Start runs the registry loop until ctx is done, then closes every client.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.register:
				m.mutex.Lock()
				m.clients[client] = true
				m.mutex.Unlock()
				logger.Debug("WebSocket: client %s registered", client.ID)

			case client := <-m.unregister:
				m.mutex.Lock()
				delete(m.clients, client)
				m.mutex.Unlock()
				logger.Debug("WebSocket: client %s unregistered", client.ID)

			case <-ctx.Done():
				close(m.done)
				m.mutex.Lock()
				for client := range m.clients {
					client.shutdown()
				}
				m.clients = make(map[*Client]bool)
				m.mutex.Unlock()
				return
			}
		}
	}()
}

// ClientCount reports the number of registered connections.
func (m *Manager) ClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// Serve takes ownership of an upgraded connection and returns once its
// pumps are running.
func (m *Manager) Serve(conn *websocket.Conn) *Client {
	client := &Client{
		ID:            uuid.NewString(),
		conn:          conn,
		manager:       m,
		send:          make(chan outbound, sendBufferSize),
		subscriptions: make(map[string]pubsub.Subscription),
		done:          make(chan struct{}),
	}

	select {
	case m.register <- client:
	case <-m.done:
		conn.Close()
		return client
	}

	go client.writePump()
	go client.readPump()
	return client
}

func (m *Manager) remove(client *Client) {
	select {
	case m.unregister <- client:
	case <-m.done:
	}
}
