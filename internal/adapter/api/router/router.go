package router

import (
	"adoptme/internal/adapter/api/handler"
	"adoptme/internal/adapter/api/middleware"
	"adoptme/internal/infrastructure/ratelimit"

	"github.com/labstack/echo/v4"
)

// Setup registers every route. Health and dev handlers must be set up first.
func Setup(
	e *echo.Echo,
	environment string,
	chatHandler *handler.ChatHandler,
	wsHandler *handler.WebSocketHandler,
	authMiddleware *middleware.AuthMiddleware,
	limiter *ratelimit.RateLimiter,
) {
	SetupHealthRouter(e)
	SetupChatRouter(e, chatHandler, authMiddleware, limiter)
	SetupWebSocketRouter(e, wsHandler)
	SetupDevRouter(e, environment)
}
