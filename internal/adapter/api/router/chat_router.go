package router

import (
	"github.com/labstack/echo/v4"

	"adoptme/internal/adapter/api/handler"
	"adoptme/internal/adapter/api/middleware"
	"adoptme/internal/infrastructure/ratelimit"
)

// SetupChatRouter sets up the chat history and inbox routes
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	chatGroup := e.Group("/api/chat")
	if limiter != nil {
		chatGroup.Use(middleware.RateLimit(limiter))
	}

	chatGroup.GET("/conversation", chatHandler.GetConversation)                // GET /api/chat/conversation?user1=&user2=
	chatGroup.GET("/inbox", chatHandler.GetInbox, authMiddleware.Authenticate) // GET /api/chat/inbox
}
