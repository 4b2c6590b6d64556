package chatclient

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"adoptme/internal/domain/entity"
	"adoptme/pkg/errors"
	"adoptme/pkg/logger"
)

const DefaultLoadTimeout = 10 * time.Second

type State int

const (
	StateLoading State = iota
	StateReady
	StateLoadFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadFailed:
		return "load_failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the view of one two-party conversation: stored history
// followed by realtime arrivals. A session loads once; retry by creating a
// new one.
type Session struct {
	currentUserID int64
	otherUserID   int64
	key           string

	history     HistoryFetcher
	conns       *ConnectionManager
	loadTimeout time.Duration

	mu         sync.Mutex
	state      State
	started    bool
	cancelLoad context.CancelFunc
	messages   []entity.Message
	err        error
	connErr    error
	conn       *Connection
	sub        *Subscription
	updates    chan struct{}
}

type SessionOption func(*Session)

// WithLoadTimeout bounds Load. Zero disables the bound.
func WithLoadTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.loadTimeout = d
	}
}

func NewSession(currentUserID, otherUserID int64, history HistoryFetcher, conns *ConnectionManager, opts ...SessionOption) (*Session, error) {
	if currentUserID <= 0 || otherUserID <= 0 {
		return nil, errors.Validation("both participants must be known users")
	}
	if currentUserID == otherUserID {
		return nil, errors.Validation("a conversation needs two different users")
	}

	s := &Session{
		currentUserID: currentUserID,
		otherUserID:   otherUserID,
		key:           entity.ConversationKey(currentUserID, otherUserID),
		history:       history,
		conns:         conns,
		loadTimeout:   DefaultLoadTimeout,
		state:         StateLoading,
		messages:      make([]entity.Message, 0),
		updates:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) Key() string {
	return s.key
}

func (s *Session) CurrentUserID() int64 {
	return s.currentUserID
}

func (s *Session) OtherUserID() int64 {
	return s.otherUserID
}

type loadResult struct {
	history    []entity.Message
	historyErr error
	connErr    error
}

// Load fetches history while connecting and subscribing. A history failure
// fails the session; a connection failure leaves it Ready without realtime
// delivery. Close during Load cancels both and releases the connection
// immediately; the late history is dropped.
func (s *Session) Load(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return errors.SessionClosed()
	}
	if s.started {
		s.mu.Unlock()
		return errors.BadRequest("conversation session already loaded", nil)
	}
	s.started = true
	s.cancelLoad = cancel
	s.mu.Unlock()

	if s.loadTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.loadTimeout)
		defer cancelTimeout()
	}

	return s.apply(s.fetch(ctx))
}

func (s *Session) fetch(ctx context.Context) loadResult {
	var r loadResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		history, err := s.fetchHistory(gctx)
		if err != nil {
			return errors.HistoryLoad("failed to load conversation history", err)
		}
		r.history = history
		return nil
	})
	g.Go(func() error {
		// Realtime is a separate failure domain; it never fails the group.
		conn, sub, err := s.connect(gctx)
		if err != nil {
			r.connErr = err
			return nil
		}
		if !s.adopt(conn, sub) {
			r.connErr = errors.SessionClosed()
		}
		return nil
	})
	r.historyErr = g.Wait()

	return r
}

// fetchHistory returns when ctx ends even if the fetcher ignores it; a late
// result is dropped.
func (s *Session) fetchHistory(ctx context.Context) ([]entity.Message, error) {
	type reply struct {
		history []entity.Message
		err     error
	}
	replies := make(chan reply, 1)
	go func() {
		history, err := s.history.Conversation(ctx, s.currentUserID, s.otherUserID)
		replies <- reply{history: history, err: err}
	}()

	select {
	case r := <-replies:
		return r.history, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) connect(ctx context.Context) (*Connection, *Subscription, error) {
	conn, err := s.conns.Open(ctx)
	if err != nil {
		return nil, nil, err
	}

	sub, err := conn.Subscribe(ctx, s.key)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, sub, nil
}

// adopt hands a fresh connection to the session so Close can release it
// while history is still loading. It releases them itself, and returns
// false, when the session is already closed.
func (s *Session) adopt(conn *Connection, sub *Subscription) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		release(conn, sub)
		return false
	}
	s.conn, s.sub = conn, sub
	s.mu.Unlock()
	return true
}

func (s *Session) apply(r loadResult) error {
	s.mu.Lock()
	s.cancelLoad = nil

	if s.state == StateClosed {
		s.mu.Unlock()
		logger.Debug("[ChatClient] %s: dropping load result of closed conversation %s", errors.CodeStaleCallback, s.key)
		return errors.SessionClosed()
	}

	if r.historyErr != nil {
		s.state = StateLoadFailed
		s.err = r.historyErr
		conn, sub := s.conn, s.sub
		s.conn, s.sub = nil, nil
		s.notify()
		s.mu.Unlock()

		logger.Warn("[ChatClient] Conversation %s failed to load: %v", s.key, r.historyErr)
		release(conn, sub)
		return r.historyErr
	}

	for i := range r.history {
		if r.history[i].BelongsTo(s.currentUserID, s.otherUserID) {
			s.messages = append(s.messages, r.history[i])
		}
	}
	s.state = StateReady

	if s.sub != nil {
		go s.pump(s.sub)
	} else {
		s.connErr = r.connErr
		logger.Warn("[ChatClient] Conversation %s is history-only: %v", s.key, r.connErr)
	}

	s.notify()
	s.mu.Unlock()
	return nil
}

// pump appends realtime arrivals until the stream closes.
func (s *Session) pump(sub *Subscription) {
	for message := range sub.C() {
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		if message.BelongsTo(s.currentUserID, s.otherUserID) {
			s.messages = append(s.messages, message)
			s.notify()
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed && s.sub == sub {
		s.conn = nil
		s.sub = nil
		s.connErr = errors.Connection("realtime delivery stopped", nil)
		s.notify()
	}
}

// Send publishes content from the current user to the other participant.
// Nothing is appended locally; the message shows up when the server
// delivers it on the conversation topic.
func (s *Session) Send(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.Validation("message content must not be empty")
	}
	if utf8.RuneCountInString(content) > entity.MaxMessageLength {
		return errors.Validation("message content is too long")
	}

	s.mu.Lock()
	state, conn, connErr := s.state, s.conn, s.connErr
	s.mu.Unlock()

	if state == StateClosed {
		return errors.SessionClosed()
	}
	if state != StateReady || conn == nil {
		return errors.Connection("realtime delivery is not available", connErr)
	}

	return conn.Publish(entity.SendMessageInput{
		SenderID:   s.currentUserID,
		ReceiverID: s.otherUserID,
		Content:    content,
	})
}

// Messages returns a snapshot of the displayed sequence.
func (s *Session) Messages() []entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the load failure, set in StateLoadFailed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ConnErr explains why a Ready session has no realtime delivery.
func (s *Session) ConnErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connErr
}

func (s *Session) Realtime() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady && s.conn != nil
}

// Updates signals state and message changes. Signals coalesce; read the
// current values after each one. The channel is closed by Close.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Close ends the session, its subscription and its connection, including
// ones opened by a load still in flight. That load's history is discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	conn, sub := s.conn, s.sub
	s.conn, s.sub = nil, nil
	cancel := s.cancelLoad
	s.cancelLoad = nil
	close(s.updates)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	release(conn, sub)
}

// notify requires mu and a session that is not closed.
func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func release(conn *Connection, sub *Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
	if conn != nil {
		conn.Close()
	}
}
