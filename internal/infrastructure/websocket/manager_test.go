package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adoptme/internal/adapter/repository"
	"adoptme/internal/domain/entity"
	"adoptme/internal/infrastructure/auth"
	"adoptme/internal/infrastructure/database"
	"adoptme/internal/infrastructure/pubsub"
	"adoptme/internal/infrastructure/ratelimit"
	"adoptme/internal/infrastructure/stomp"
	"adoptme/internal/usecase"
)

type hubFixture struct {
	manager *Manager
	broker  *pubsub.MemoryBroker
	tokens  *auth.TokenService
	url     string
}

func newHubFixture(t *testing.T, opts Options) *hubFixture {
	t.Helper()

	db, err := database.OpenSQLite(database.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	users := repository.NewGormUserRepository(db)
	ctx := context.Background()
	require.NoError(t, users.Upsert(ctx, &entity.User{ID: 1, Name: "Ada"}))
	require.NoError(t, users.Upsert(ctx, &entity.User{ID: 2, Name: "Bo"}))
	require.NoError(t, users.Upsert(ctx, &entity.User{ID: 3, Name: "Cy"}))

	broker := pubsub.NewMemoryBroker()
	tokens := auth.NewTokenService("test-secret")
	chat := usecase.NewChatUseCase(repository.NewGormMessageRepository(db), users, broker, nil)

	managerCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	manager := NewManager(broker, chat, tokens, opts)
	manager.Start(managerCtx)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		manager.Serve(conn)
	}))
	t.Cleanup(server.Close)

	return &hubFixture{
		manager: manager,
		broker:  broker,
		tokens:  tokens,
		url:     "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *hubFixture) token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := f.tokens.GenerateToken(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func writeFrame(t *testing.T, conn *websocket.Conn, f *stomp.Frame) {
	t.Helper()
	data, err := stomp.Encode(f)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) *stomp.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		f, err := stomp.Decode(data)
		if err == stomp.ErrEmptyFrame {
			continue
		}
		require.NoError(t, err)
		return f
	}
}

func connect(t *testing.T, conn *websocket.Conn, token string) *stomp.Frame {
	t.Helper()
	f := stomp.NewFrame(stomp.CommandConnect, stomp.HeaderAcceptVersion, "1.1,1.2", stomp.HeaderHost, "localhost")
	if token != "" {
		f.Header.Set(stomp.HeaderAuthorization, "Bearer "+token)
	}
	writeFrame(t, conn, f)
	return readFrame(t, conn)
}

func subscribe(t *testing.T, conn *websocket.Conn, id, destination string) *stomp.Frame {
	t.Helper()
	writeFrame(t, conn, stomp.NewFrame(stomp.CommandSubscribe,
		stomp.HeaderID, id,
		stomp.HeaderDestination, destination,
		stomp.HeaderReceipt, "sub-"+id,
	))
	return readFrame(t, conn)
}

func sendFrame(body string, receipt string) *stomp.Frame {
	f := stomp.NewFrame(stomp.CommandSend,
		stomp.HeaderDestination, entity.SendDestination,
		stomp.HeaderContentType, stomp.ContentTypeJSON,
		stomp.HeaderReceipt, receipt,
	)
	f.Body = []byte(body)
	return f
}

func TestConnectReturnsSession(t *testing.T) {
	f := newHubFixture(t, Options{})
	conn := f.dial(t)

	connected := connect(t, conn, "")
	assert.Equal(t, stomp.CommandConnected, connected.Command)
	assert.Equal(t, stomp.Version, connected.Header.Get(stomp.HeaderVersion))
	assert.NotEmpty(t, connected.Header.Get(stomp.HeaderSession))

	assert.Eventually(t, func() bool { return f.manager.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestBothParticipantsReceiveOneCopy(t *testing.T) {
	f := newHubFixture(t, Options{})

	sender := f.dial(t)
	require.Equal(t, stomp.CommandConnected, connect(t, sender, f.token(t, 1)).Command)
	receipt := subscribe(t, sender, "s1", "/topic/chat/1_2")
	require.Equal(t, stomp.CommandReceipt, receipt.Command)
	assert.Equal(t, "sub-s1", receipt.Header.Get(stomp.HeaderReceiptID))

	receiver := f.dial(t)
	require.Equal(t, stomp.CommandConnected, connect(t, receiver, f.token(t, 2)).Command)
	require.Equal(t, stomp.CommandReceipt, subscribe(t, receiver, "r1", "/topic/chat/1_2").Command)

	writeFrame(t, sender, sendFrame(`{"senderId":1,"receiverId":2,"content":"hello"}`, "send-1"))

	for _, conn := range []*websocket.Conn{sender, receiver} {
		msg := readFrame(t, conn)
		require.Equal(t, stomp.CommandMessage, msg.Command)
		assert.Equal(t, "/topic/chat/1_2", msg.Header.Get(stomp.HeaderDestination))
		assert.Equal(t, stomp.ContentTypeJSON, msg.Header.Get(stomp.HeaderContentType))
		assert.NotEmpty(t, msg.Header.Get(stomp.HeaderMessageID))

		var m entity.Message
		require.NoError(t, json.Unmarshal(msg.Body, &m))
		assert.Equal(t, int64(1), m.SenderID)
		assert.Equal(t, int64(2), m.ReceiverID)
		assert.Equal(t, "hello", m.Content)
		assert.NotZero(t, m.ID)
	}

	sendReceipt := readFrame(t, sender)
	assert.Equal(t, stomp.CommandReceipt, sendReceipt.Command)
	assert.Equal(t, "send-1", sendReceipt.Header.Get(stomp.HeaderReceiptID))

	// The sender got exactly one MESSAGE: the next frame is a fresh receipt.
	require.Equal(t, stomp.CommandReceipt, subscribe(t, sender, "s2", "/topic/chat/1_3").Command)
}

func TestSubscribeRejectsNonParticipant(t *testing.T) {
	f := newHubFixture(t, Options{})
	conn := f.dial(t)
	require.Equal(t, stomp.CommandConnected, connect(t, conn, f.token(t, 3)).Command)

	errFrame := subscribe(t, conn, "s1", "/topic/chat/1_2")
	assert.Equal(t, stomp.CommandError, errFrame.Command)
	assert.Equal(t, "sub-s1", errFrame.Header.Get(stomp.HeaderReceiptID))
	assert.Equal(t, 0, f.broker.Subscribers("/topic/chat/1_2"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestSubscribeRejectsUnknownDestination(t *testing.T) {
	f := newHubFixture(t, Options{})

	for _, destination := range []string{"/topic/other", "/topic/chat/2_1", "/topic/chat/1_1"} {
		t.Run(destination, func(t *testing.T) {
			conn := f.dial(t)
			require.Equal(t, stomp.CommandConnected, connect(t, conn, "").Command)
			assert.Equal(t, stomp.CommandError, subscribe(t, conn, "s1", destination).Command)
		})
	}
}

func TestConnectRequiresAuthWhenConfigured(t *testing.T) {
	f := newHubFixture(t, Options{RequireAuth: true})

	anonymous := f.dial(t)
	errFrame := connect(t, anonymous, "")
	assert.Equal(t, stomp.CommandError, errFrame.Command)
	assert.Equal(t, "authentication required", errFrame.Header.Get(stomp.HeaderMessage))

	invalid := f.dial(t)
	assert.Equal(t, stomp.CommandError, connect(t, invalid, "not-a-token").Command)

	valid := f.dial(t)
	assert.Equal(t, stomp.CommandConnected, connect(t, valid, f.token(t, 1)).Command)
}

func TestConnectAcceptsPasscodeToken(t *testing.T) {
	f := newHubFixture(t, Options{RequireAuth: true})
	conn := f.dial(t)

	writeFrame(t, conn, stomp.NewFrame(stomp.CommandStomp,
		stomp.HeaderAcceptVersion, "1.2",
		stomp.HeaderPasscode, f.token(t, 2),
	))
	assert.Equal(t, stomp.CommandConnected, readFrame(t, conn).Command)
}

func TestFramesBeforeConnectAreRejected(t *testing.T) {
	f := newHubFixture(t, Options{})
	conn := f.dial(t)

	writeFrame(t, conn, sendFrame(`{"senderId":1,"receiverId":2,"content":"hi"}`, "r"))
	assert.Equal(t, stomp.CommandError, readFrame(t, conn).Command)
}

func TestSendErrorsKeepConnection(t *testing.T) {
	f := newHubFixture(t, Options{})
	conn := f.dial(t)
	require.Equal(t, stomp.CommandConnected, connect(t, conn, f.token(t, 1)).Command)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"impersonation", `{"senderId":2,"receiverId":1,"content":"hi"}`, "senderId does not match the authenticated user"},
		{"blank content", `{"senderId":1,"receiverId":2,"content":"   "}`, "content must not be empty"},
		{"unknown receiver", `{"senderId":1,"receiverId":99,"content":"hi"}`, "Receiver not found"},
		{"not json", `hello`, "message body must be a JSON envelope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeFrame(t, conn, sendFrame(tt.body, tt.name))
			errFrame := readFrame(t, conn)
			assert.Equal(t, stomp.CommandError, errFrame.Command)
			assert.Equal(t, tt.message, errFrame.Header.Get(stomp.HeaderMessage))
			assert.Equal(t, tt.name, errFrame.Header.Get(stomp.HeaderReceiptID))
		})
	}

	assert.Equal(t, stomp.CommandReceipt, subscribe(t, conn, "s1", "/topic/chat/1_2").Command)
}

func TestUnsubscribeAndDisconnectReleaseBroker(t *testing.T) {
	f := newHubFixture(t, Options{})
	conn := f.dial(t)
	require.Equal(t, stomp.CommandConnected, connect(t, conn, "").Command)

	require.Equal(t, stomp.CommandReceipt, subscribe(t, conn, "s1", "/topic/chat/1_2").Command)
	require.Equal(t, stomp.CommandReceipt, subscribe(t, conn, "s2", "/topic/chat/2_3").Command)
	assert.Equal(t, 1, f.broker.Subscribers("/topic/chat/1_2"))

	writeFrame(t, conn, stomp.NewFrame(stomp.CommandUnsubscribe, stomp.HeaderID, "s1", stomp.HeaderReceipt, "u1"))
	assert.Equal(t, "u1", readFrame(t, conn).Header.Get(stomp.HeaderReceiptID))
	assert.Equal(t, 0, f.broker.Subscribers("/topic/chat/1_2"))

	writeFrame(t, conn, stomp.NewFrame(stomp.CommandDisconnect, stomp.HeaderReceipt, "bye"))
	receipt := readFrame(t, conn)
	assert.Equal(t, stomp.CommandReceipt, receipt.Command)
	assert.Equal(t, "bye", receipt.Header.Get(stomp.HeaderReceiptID))

	assert.Eventually(t, func() bool {
		return f.broker.Subscribers("/topic/chat/2_3") == 0 && f.manager.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeRateLimited(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Limit{
		ratelimit.ActionSubscribe: {Burst: 1, RefillTime: time.Hour},
	})
	f := newHubFixture(t, Options{Limiter: limiter})
	conn := f.dial(t)
	require.Equal(t, stomp.CommandConnected, connect(t, conn, "").Command)

	assert.Equal(t, stomp.CommandReceipt, subscribe(t, conn, "s1", "/topic/chat/1_2").Command)
	assert.Equal(t, stomp.CommandError, subscribe(t, conn, "s2", "/topic/chat/1_3").Command)
}
