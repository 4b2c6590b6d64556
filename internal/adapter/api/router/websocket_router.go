package router

import (
	"github.com/labstack/echo/v4"

	"adoptme/internal/adapter/api/handler"
)

// SetupWebSocketRouter sets up the realtime endpoint. Auth is carried in the
// STOMP CONNECT frame, not the upgrade request.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	e.GET("/ws", wsHandler.HandleWebSocket)
}
