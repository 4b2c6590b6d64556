package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"adoptme/internal/domain/entity"
	"adoptme/internal/infrastructure/pubsub"
	"adoptme/internal/infrastructure/ratelimit"
	"adoptme/internal/infrastructure/stomp"
	"adoptme/pkg/errors"
	"adoptme/pkg/logger"
)

type outbound struct {
	data []byte
	// closeAfter ends the connection once data is written.
	closeAfter bool
}

// Client is one realtime connection speaking STOMP over WebSocket.
type Client struct {
	ID      string
	conn    *websocket.Conn
	manager *Manager
	send    chan outbound

	mu            sync.Mutex
	connected     bool
	failed        bool
	userID        int64
	subscriptions map[string]pubsub.Subscription

	closeOnce sync.Once
	done      chan struct{}
}

// UserID is the authenticated principal, or zero for anonymous clients.
func (c *Client) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// readPump reads frames until the peer goes away, then releases everything
// the client holds.
func (c *Client) readPump() {
	defer func() {
		c.releaseSubscriptions()
		c.manager.remove(c)
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket: read error for client %s: %v", c.ID, err)
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		f, err := stomp.Decode(data)
		if err == stomp.ErrEmptyFrame {
			continue
		}
		if err != nil {
			c.fail("malformed frame", "")
			continue
		}

		c.handleFrame(f)
	}
}

// writePump is the only goroutine writing to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case out := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				logger.Warn("WebSocket: write error for client %s: %v", c.ID, err)
				return
			}
			if out.closeAfter {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) handleFrame(f *stomp.Frame) {
	c.mu.Lock()
	connected, failed := c.connected, c.failed
	c.mu.Unlock()

	// Frames racing the close that follows a fatal ERROR are dropped.
	if failed {
		return
	}

	if !connected {
		if f.Command != stomp.CommandConnect && f.Command != stomp.CommandStomp {
			c.fail("expected CONNECT frame", f.Header.Get(stomp.HeaderReceipt))
			return
		}
		c.handleConnect(f)
		return
	}

	switch f.Command {
	case stomp.CommandSubscribe:
		c.handleSubscribe(f)
	case stomp.CommandUnsubscribe:
		c.handleUnsubscribe(f)
	case stomp.CommandSend:
		c.handleSend(f)
	case stomp.CommandDisconnect:
		c.handleDisconnect(f)
	case stomp.CommandConnect, stomp.CommandStomp:
		c.fail("already connected", f.Header.Get(stomp.HeaderReceipt))
	default:
		c.fail(fmt.Sprintf("unsupported command %q", f.Command), f.Header.Get(stomp.HeaderReceipt))
	}
}

func (c *Client) handleConnect(f *stomp.Frame) {
	if accept := f.Header.Get(stomp.HeaderAcceptVersion); accept != "" && !acceptsVersion(accept, stomp.Version) {
		c.fail("supported protocol version is "+stomp.Version, "")
		return
	}

	token := bearerToken(f.Header.Get(stomp.HeaderAuthorization))
	if token == "" {
		token = f.Header.Get(stomp.HeaderPasscode)
	}

	var userID int64
	switch {
	case token != "" && c.manager.verifier != nil:
		id, err := c.manager.verifier.VerifyToken(token)
		if err != nil {
			logger.Warn("WebSocket: client %s presented an invalid token: %v", c.ID, err)
			c.fail("invalid or expired token", "")
			return
		}
		userID = id
	case c.manager.opts.RequireAuth:
		c.fail("authentication required", "")
		return
	}

	c.mu.Lock()
	c.connected = true
	c.userID = userID
	c.mu.Unlock()

	logger.Info("WebSocket: client %s connected (user %d)", c.ID, userID)
	c.enqueue(stomp.NewFrame(stomp.CommandConnected,
		stomp.HeaderVersion, stomp.Version,
		stomp.HeaderSession, c.ID,
		stomp.HeaderServer, "adoptme/1.0",
		"heart-beat", "0,0",
	), false)
}

func (c *Client) handleSubscribe(f *stomp.Frame) {
	id := f.Header.Get(stomp.HeaderID)
	destination := f.Header.Get(stomp.HeaderDestination)
	receipt := f.Header.Get(stomp.HeaderReceipt)

	if id == "" {
		c.fail("SUBSCRIBE requires an id header", receipt)
		return
	}
	a, b, ok := entity.ParseConversationTopic(destination)
	if !ok {
		c.fail(fmt.Sprintf("unknown destination %q", destination), receipt)
		return
	}

	c.mu.Lock()
	userID := c.userID
	_, duplicate := c.subscriptions[id]
	c.mu.Unlock()

	if userID != 0 && userID != a && userID != b {
		c.fail("not a participant of this conversation", receipt)
		return
	}
	if duplicate {
		c.fail(fmt.Sprintf("subscription %q already exists", id), receipt)
		return
	}
	if limiter := c.manager.opts.Limiter; limiter != nil {
		if allowed, _ := limiter.Allow(c.ID, ratelimit.ActionSubscribe); !allowed {
			c.reportError("too many subscriptions, slow down", receipt)
			return
		}
	}

	sub, err := c.manager.broker.Subscribe(destination, func(payload []byte) {
		c.deliver(id, destination, payload)
	})
	if err != nil {
		logger.Error("WebSocket: failed to subscribe client %s to %s: %v", c.ID, destination, err)
		c.fail("subscription failed", receipt)
		return
	}

	c.mu.Lock()
	c.subscriptions[id] = sub
	c.mu.Unlock()

	logger.Debug("WebSocket: client %s subscribed to %s as %s", c.ID, destination, id)
	c.sendReceipt(receipt)
}

func (c *Client) handleUnsubscribe(f *stomp.Frame) {
	id := f.Header.Get(stomp.HeaderID)

	c.mu.Lock()
	sub, ok := c.subscriptions[id]
	delete(c.subscriptions, id)
	c.mu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
	c.sendReceipt(f.Header.Get(stomp.HeaderReceipt))
}

// handleSend forwards a published envelope. Application failures are
// reported with an ERROR frame but keep the connection open, so one rejected
// message does not cost the conversation its channel.
func (c *Client) handleSend(f *stomp.Frame) {
	receipt := f.Header.Get(stomp.HeaderReceipt)
	destination := f.Header.Get(stomp.HeaderDestination)
	if destination != entity.SendDestination {
		c.fail(fmt.Sprintf("unknown destination %q", destination), receipt)
		return
	}

	var input entity.SendMessageInput
	if err := json.Unmarshal(f.Body, &input); err != nil {
		c.reportError("message body must be a JSON envelope", receipt)
		return
	}

	if userID := c.UserID(); userID != 0 && input.SenderID != userID {
		c.reportError("senderId does not match the authenticated user", receipt)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if _, err := c.manager.sender.SendMessage(ctx, input); err != nil {
		message := "failed to send message"
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			message = appErr.Message
		}
		c.reportError(message, receipt)
		return
	}

	c.sendReceipt(receipt)
}

func (c *Client) handleDisconnect(f *stomp.Frame) {
	receipt := f.Header.Get(stomp.HeaderReceipt)
	if receipt != "" {
		c.enqueue(stomp.NewFrame(stomp.CommandReceipt, stomp.HeaderReceiptID, receipt), true)
		return
	}
	c.shutdown()
}

// deliver turns a broker payload into a MESSAGE frame for subscription id.
func (c *Client) deliver(id, destination string, payload []byte) {
	c.mu.Lock()
	_, active := c.subscriptions[id]
	c.mu.Unlock()
	if !active {
		return
	}

	f := stomp.NewFrame(stomp.CommandMessage,
		stomp.HeaderDestination, destination,
		stomp.HeaderSubscription, id,
		stomp.HeaderMessageID, uuid.NewString(),
		stomp.HeaderContentType, stomp.ContentTypeJSON,
	)
	f.Body = payload
	c.enqueue(f, false)
}

func (c *Client) sendReceipt(receipt string) {
	if receipt == "" {
		return
	}
	c.enqueue(stomp.NewFrame(stomp.CommandReceipt, stomp.HeaderReceiptID, receipt), false)
}

// reportError sends an ERROR frame and keeps the connection.
func (c *Client) reportError(message, receipt string) {
	logger.Warn("WebSocket: client %s: %s", c.ID, message)
	c.enqueue(stomp.ErrorFrame(message, receipt), false)
}

// fail sends an ERROR frame and closes the connection after it.
func (c *Client) fail(message, receipt string) {
	logger.Warn("WebSocket: closing client %s: %s", c.ID, message)
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
	c.enqueue(stomp.ErrorFrame(message, receipt), true)
}

func (c *Client) enqueue(f *stomp.Frame, closeAfter bool) {
	data, err := stomp.Encode(f)
	if err != nil {
		logger.Error("WebSocket: failed to encode %s for client %s: %v", f.Command, c.ID, err)
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- outbound{data: data, closeAfter: closeAfter}:
	case <-c.done:
	default:
		logger.Warn("WebSocket: client %s is too slow, dropping connection", c.ID)
		c.shutdown()
	}
}

func (c *Client) releaseSubscriptions() {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = make(map[string]pubsub.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func acceptsVersion(header, version string) bool {
	for _, v := range strings.Split(header, ",") {
		if strings.TrimSpace(v) == version {
			return true
		}
	}
	return false
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
