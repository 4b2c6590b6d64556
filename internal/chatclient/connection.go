package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"adoptme/internal/domain/entity"
	"adoptme/internal/infrastructure/stomp"
	"adoptme/pkg/errors"
	"adoptme/pkg/logger"
)

const (
	defaultHandshakeTimeout = 10 * time.Second

	// Maximum frame size accepted from the server.
	maxFrameSize = 64 * 1024
)

// Transport is one full-duplex message connection. *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a transport to the realtime endpoint.
type Dialer func(ctx context.Context, url string) (Transport, error)

// WebSocketDialer dials with d, or websocket.DefaultDialer when d is nil.
func WebSocketDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return func(ctx context.Context, url string) (Transport, error) {
		conn, _, err := d.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(maxFrameSize)
		return conn, nil
	}
}

// ConnectionManager owns at most one live connection to the messaging
// server. Opening a new connection tears the previous one down first, and
// each connection carries at most one subscription.
type ConnectionManager struct {
	url              string
	dial             Dialer
	token            string
	onError          func(error)
	handshakeTimeout time.Duration

	// lifecycle serializes Open, Subscribe and Close.
	lifecycle sync.Mutex

	mu   sync.Mutex
	conn *Connection
}

type Option func(*ConnectionManager)

func WithDialer(dial Dialer) Option {
	return func(m *ConnectionManager) {
		m.dial = dial
	}
}

// WithAuthToken sends token as a bearer credential in the CONNECT frame.
func WithAuthToken(token string) Option {
	return func(m *ConnectionManager) {
		m.token = token
	}
}

// WithErrorHandler receives transport failures of established connections,
// once per connection, and ERROR frames the server sends outside a request.
func WithErrorHandler(fn func(error)) Option {
	return func(m *ConnectionManager) {
		m.onError = fn
	}
}

// WithHandshakeTimeout bounds dial plus CONNECT. Zero leaves only the
// caller's context.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *ConnectionManager) {
		m.handshakeTimeout = d
	}
}

func NewConnectionManager(url string, opts ...Option) *ConnectionManager {
	m := &ConnectionManager{
		url:              url,
		dial:             WebSocketDialer(nil),
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open closes any current connection, then dials and completes the STOMP
// handshake. On failure nothing is left connected or subscribed.
func (m *ConnectionManager) Open(ctx context.Context) (*Connection, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.closeCurrent()

	if m.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.handshakeTimeout)
		defer cancel()
	}

	transport, err := m.dial(ctx, m.url)
	if err != nil {
		logger.Warn("[ChatClient] Failed to reach %s: %v", m.url, err)
		return nil, errors.Connection("failed to reach realtime server", err)
	}

	conn := &Connection{
		manager:   m,
		transport: transport,
		waiters:   make(map[string]chan *stomp.Frame),
		done:      make(chan struct{}),
	}
	if err := conn.handshake(ctx, m.token, hostOf(m.url)); err != nil {
		transport.Close()
		logger.Warn("[ChatClient] Handshake with %s failed: %v", m.url, err)
		return nil, err
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	go conn.readLoop()

	logger.Debug("[ChatClient] Connected to %s (session %s)", m.url, conn.session)
	return conn, nil
}

// Subscribe binds channelKey on the current connection, replacing its
// active subscription.
func (m *ConnectionManager) Subscribe(ctx context.Context, channelKey string) (*Subscription, error) {
	conn := m.Current()
	if conn == nil {
		return nil, errors.Connection("not connected", nil)
	}
	return conn.Subscribe(ctx, channelKey)
}

// Publish sends input over the current connection. It does nothing when
// no connection is established.
func (m *ConnectionManager) Publish(input entity.SendMessageInput) error {
	conn := m.Current()
	if conn == nil {
		return nil
	}
	return conn.Publish(input)
}

// Close unsubscribes, disconnects and releases the transport. Safe to call
// repeatedly and without a connection.
func (m *ConnectionManager) Close() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.closeCurrent()
}

// Current returns the live connection, or nil.
func (m *ConnectionManager) Current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *ConnectionManager) Connected() bool {
	return m.Current() != nil
}

// closeCurrent requires lifecycle to be held.
func (m *ConnectionManager) closeCurrent() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.shutdown()
	}
}

func (m *ConnectionManager) forget(conn *Connection) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

func (m *ConnectionManager) report(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}

// Connection is one established STOMP session.
type Connection struct {
	manager   *ConnectionManager
	transport Transport
	session   string

	writeMu sync.Mutex

	mu      sync.Mutex
	sub     *Subscription
	waiters map[string]chan *stomp.Frame
	nextID  uint64
	closed  bool
	done    chan struct{}
}

// Session is the server-assigned session id.
func (c *Connection) Session() string {
	return c.session
}

func (c *Connection) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Done is closed when the connection is closed or lost.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close releases the connection only while it is still the manager's
// current one, so a superseded owner cannot tear down its successor.
func (c *Connection) Close() {
	m := c.manager
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	current := m.conn == c
	if current {
		m.conn = nil
	}
	m.mu.Unlock()

	if current {
		c.shutdown()
	}
}

// Subscribe replaces the active subscription with one on channelKey's topic
// and returns after the server acknowledges it.
func (c *Connection) Subscribe(ctx context.Context, channelKey string) (*Subscription, error) {
	c.manager.lifecycle.Lock()
	defer c.manager.lifecycle.Unlock()

	if prev := c.activeSubscription(); prev != nil {
		c.unsubscribe(prev)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.Connection("connection is closed", nil)
	}
	c.nextID++
	sub := newSubscription(c, fmt.Sprintf("sub-%d", c.nextID), entity.ConversationTopic(channelKey))
	c.sub = sub
	c.mu.Unlock()

	reply, err := c.request(ctx, stomp.NewFrame(stomp.CommandSubscribe,
		stomp.HeaderID, sub.id,
		stomp.HeaderDestination, sub.topic,
	))
	if err == nil && reply.Command == stomp.CommandError {
		err = errors.Connection("subscription rejected: "+stomp.ErrorMessage(reply), nil)
	}
	if err != nil {
		c.mu.Lock()
		if c.sub == sub {
			c.sub = nil
		}
		c.mu.Unlock()
		sub.close()
		return nil, err
	}

	logger.Debug("[ChatClient] Subscribed to %s as %s", sub.topic, sub.id)
	return sub, nil
}

// Publish sends input to the shared send destination. A closed connection
// drops it silently.
func (c *Connection) Publish(input entity.SendMessageInput) error {
	if !c.Live() {
		return nil
	}

	body, err := json.Marshal(input)
	if err != nil {
		return errors.Internal("failed to encode message", err)
	}

	f := stomp.NewFrame(stomp.CommandSend,
		stomp.HeaderDestination, entity.SendDestination,
		stomp.HeaderContentType, stomp.ContentTypeJSON,
	)
	f.Body = body

	if err := c.write(f); err != nil {
		return errors.Connection("failed to publish message", err)
	}
	return nil
}

func (c *Connection) handshake(ctx context.Context, token, host string) error {
	connect := stomp.NewFrame(stomp.CommandConnect,
		stomp.HeaderAcceptVersion, stomp.Version,
		stomp.HeaderHost, host,
		"heart-beat", "0,0",
	)
	if token != "" {
		connect.Header.Set(stomp.HeaderAuthorization, "Bearer "+token)
	}
	if err := c.write(connect); err != nil {
		return errors.Connection("failed to send CONNECT", err)
	}

	type reply struct {
		frame *stomp.Frame
		err   error
	}
	replies := make(chan reply, 1)
	go func() {
		for {
			_, data, err := c.transport.ReadMessage()
			if err != nil {
				replies <- reply{err: err}
				return
			}
			f, err := stomp.Decode(data)
			if err == stomp.ErrEmptyFrame {
				continue
			}
			replies <- reply{frame: f, err: err}
			return
		}
	}()

	select {
	case r := <-replies:
		if r.err != nil {
			return errors.Connection("handshake failed", r.err)
		}
		switch r.frame.Command {
		case stomp.CommandConnected:
			c.session = r.frame.Header.Get(stomp.HeaderSession)
			return nil
		case stomp.CommandError:
			return errors.Connection("server rejected connection: "+stomp.ErrorMessage(r.frame), nil)
		default:
			return errors.Connection(fmt.Sprintf("unexpected %s frame during handshake", r.frame.Command), nil)
		}
	case <-ctx.Done():
		// Unblocks the pending read.
		c.transport.Close()
		return errors.Connection("handshake timed out", ctx.Err())
	}
}

func (c *Connection) readLoop() {
	for {
		_, data, err := c.transport.ReadMessage()
		if err != nil {
			c.lost(err)
			return
		}

		f, err := stomp.Decode(data)
		if err == stomp.ErrEmptyFrame {
			continue
		}
		if err != nil {
			logger.Warn("[ChatClient] Dropping malformed frame: %v", err)
			continue
		}

		switch f.Command {
		case stomp.CommandMessage:
			c.dispatch(f)
		case stomp.CommandReceipt:
			c.resolve(f.Header.Get(stomp.HeaderReceiptID), f)
		case stomp.CommandError:
			if id := f.Header.Get(stomp.HeaderReceiptID); id != "" && c.resolve(id, f) {
				continue
			}
			message := stomp.ErrorMessage(f)
			logger.Warn("[ChatClient] Server error: %s", message)
			c.manager.report(errors.BadRequest(message, nil))
		}
	}
}

func (c *Connection) dispatch(f *stomp.Frame) {
	sub := c.activeSubscription()
	if sub == nil || sub.id != f.Header.Get(stomp.HeaderSubscription) {
		return
	}

	var message entity.Message
	if err := json.Unmarshal(f.Body, &message); err != nil {
		logger.Warn("[ChatClient] Dropping undecodable message on %s: %v", sub.topic, err)
		return
	}
	sub.deliver(message)
}

// request sends f with a receipt header and waits for the matching RECEIPT
// or ERROR frame.
func (c *Connection) request(ctx context.Context, f *stomp.Frame) (*stomp.Frame, error) {
	c.mu.Lock()
	c.nextID++
	receipt := fmt.Sprintf("rcpt-%d", c.nextID)
	waiter := make(chan *stomp.Frame, 1)
	c.waiters[receipt] = waiter
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, receipt)
		c.mu.Unlock()
	}()

	f.Header.Set(stomp.HeaderReceipt, receipt)
	if err := c.write(f); err != nil {
		return nil, errors.Connection(fmt.Sprintf("failed to send %s", f.Command), err)
	}

	select {
	case reply := <-waiter:
		return reply, nil
	case <-c.done:
		return nil, errors.Connection("connection closed", nil)
	case <-ctx.Done():
		return nil, errors.Connection(fmt.Sprintf("%s was not acknowledged", f.Command), ctx.Err())
	}
}

func (c *Connection) resolve(receipt string, f *stomp.Frame) bool {
	c.mu.Lock()
	waiter, ok := c.waiters[receipt]
	delete(c.waiters, receipt)
	c.mu.Unlock()

	if ok {
		waiter <- f
	}
	return ok
}

func (c *Connection) activeSubscription() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

func (c *Connection) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	active := c.sub == sub
	if active {
		c.sub = nil
	}
	closed := c.closed
	c.mu.Unlock()

	sub.close()
	if active && !closed {
		c.writeQuietly(stomp.NewFrame(stomp.CommandUnsubscribe, stomp.HeaderID, sub.id))
	}
}

// shutdown tears the connection down in order: unsubscribe, DISCONNECT,
// release the transport.
func (c *Connection) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.close()
		c.writeQuietly(stomp.NewFrame(stomp.CommandUnsubscribe, stomp.HeaderID, sub.id))
	}
	c.writeQuietly(stomp.NewFrame(stomp.CommandDisconnect))

	close(c.done)
	c.transport.Close()
	logger.Debug("[ChatClient] Disconnected session %s", c.session)
}

// lost handles a transport failure the client did not initiate.
func (c *Connection) lost(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.close()
	}
	close(c.done)
	c.transport.Close()
	c.manager.forget(c)

	logger.Warn("[ChatClient] Connection lost: %v", err)
	c.manager.report(errors.Connection("realtime connection lost", err))
}

func (c *Connection) write(f *stomp.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) writeQuietly(f *stomp.Frame) {
	if err := c.write(f); err != nil {
		logger.Debug("[ChatClient] Failed to send %s: %v", f.Command, err)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}
