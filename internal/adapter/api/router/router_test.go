package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adoptme/internal/adapter/api"
	"adoptme/internal/adapter/api/handler"
	"adoptme/internal/adapter/api/middleware"
	"adoptme/internal/adapter/repository"
	"adoptme/internal/domain/entity"
	"adoptme/internal/infrastructure/auth"
	"adoptme/internal/infrastructure/database"
	"adoptme/internal/infrastructure/pubsub"
	"adoptme/internal/infrastructure/ratelimit"
	ws "adoptme/internal/infrastructure/websocket"
	"adoptme/internal/usecase"
	"adoptme/pkg/response"
)

type apiFixture struct {
	e      *echo.Echo
	chat   *usecase.ChatUseCase
	tokens *auth.TokenService
}

func newAPIFixture(t *testing.T, environment string, limiter *ratelimit.RateLimiter) *apiFixture {
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
	manager := ws.NewManager(broker, chat, tokens, ws.Options{})
	manager.Start(managerCtx)

	e := echo.New()
	e.Validator = api.NewValidator()

	handler.SetupHealthHandler(manager)
	handler.SetupDevTokenHandler(tokens, users)
	Setup(e, environment,
		handler.NewChatHandler(chat),
		handler.NewWebSocketHandler(manager, []string{"*"}),
		middleware.NewAuthMiddleware(tokens),
		limiter,
	)

	return &apiFixture{e: e, chat: chat, tokens: tokens}
}

func (f *apiFixture) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func (f *apiFixture) send(t *testing.T, from, to int64, content string) {
	t.Helper()
	_, err := f.chat.SendMessage(context.Background(), entity.SendMessageInput{SenderID: from, ReceiverID: to, Content: content})
	require.NoError(t, err)
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t, "production", nil)

	rec := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Server is running")
	assert.Contains(t, rec.Body.String(), `"realtimeClients":0`)
}

func TestGetConversation(t *testing.T) {
	f := newAPIFixture(t, "production", nil)
	f.send(t, 1, 2, "first")
	f.send(t, 2, 1, "second")
	f.send(t, 1, 3, "elsewhere")

	rec := f.do(t, http.MethodGet, "/api/chat/conversation?user1=2&user2=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	var messages []entity.Message
	require.NoError(t, json.Unmarshal(env.Data, &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
}

func TestGetConversationEmpty(t *testing.T) {
	f := newAPIFixture(t, "production", nil)

	rec := f.do(t, http.MethodGet, "/api/chat/conversation?user1=1&user2=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", string(decodeEnvelope(t, rec).Data))
}

func TestGetConversationRejectsBadIDs(t *testing.T) {
	f := newAPIFixture(t, "production", nil)

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"missing", "", "VALIDATION_ERROR"},
		{"zero", "?user1=0&user2=2", "VALIDATION_ERROR"},
		{"not numeric", "?user1=abc&user2=2", "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/chat/conversation"+tt.query, "", "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestGetInbox(t *testing.T) {
	f := newAPIFixture(t, "production", nil)
	f.send(t, 1, 2, "to bo")
	f.send(t, 3, 1, "from cy")

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/chat/inbox", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/chat/inbox", "garbage", "").Code)

	token, err := f.tokens.GenerateToken(1, time.Hour)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/chat/inbox", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var inbox []entity.ConversationSummary
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &inbox))
	require.Len(t, inbox, 2)
	assert.Equal(t, int64(3), inbox[0].OtherUserID)
	assert.Equal(t, "Cy", inbox[0].OtherUserName)
	assert.Equal(t, "from cy", inbox[0].LastMessage)
	assert.Equal(t, int64(2), inbox[1].OtherUserID)
}

func TestGetInboxPaged(t *testing.T) {
	f := newAPIFixture(t, "production", nil)
	f.send(t, 1, 2, "to bo")
	f.send(t, 3, 1, "from cy")

	token, err := f.tokens.GenerateToken(1, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		query string
		want  []int64
	}{
		{"?limit=1", []int64{3}},
		{"?page=2&limit=1", []int64{2}},
		{"?page=3&limit=1", []int64{}},
		{"?page=1", []int64{3, 2}},
		{"?page=4611686018427387904", []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/chat/inbox"+tt.query, token, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var inbox []entity.ConversationSummary
			require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &inbox))
			got := make([]int64, 0, len(inbox))
			for _, s := range inbox {
				got = append(got, s.OtherUserID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChatRoutesRateLimited(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Limit{
		ratelimit.ActionAPIRequest: {Burst: 2, RefillTime: time.Hour},
	})
	f := newAPIFixture(t, "production", limiter)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/chat/conversation?user1=1&user2=2", "", "").Code)
	}

	rec := f.do(t, http.MethodGet, "/api/chat/conversation?user1=1&user2=2", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health is outside the limited group.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", "").Code)
}

func TestDevRoutes(t *testing.T) {
	prod := newAPIFixture(t, "production", nil)
	assert.Equal(t, http.StatusNotFound, prod.do(t, http.MethodGet, "/_dev/token/1", "", "").Code)

	dev := newAPIFixture(t, "development", nil)

	rec := dev.do(t, http.MethodPost, "/_dev/users", "", `{"id":9,"name":"Nia"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = dev.do(t, http.MethodGet, "/_dev/token/9", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	id, err := dev.tokens.VerifyToken(data.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	assert.Equal(t, http.StatusNotFound, dev.do(t, http.MethodGet, "/_dev/token/404", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, dev.do(t, http.MethodGet, "/_dev/token/abc", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, dev.do(t, http.MethodPost, "/_dev/users", "", `{"id":0}`).Code)
}
