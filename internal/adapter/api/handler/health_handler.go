package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ClientCounter reports live realtime connections.
type ClientCounter interface {
	ClientCount() int
}

type HealthHandler struct {
	realtime ClientCounter
}

var healthHandler *HealthHandler

func NewHealthHandler(realtime ClientCounter) *HealthHandler {
	return &HealthHandler{
		realtime: realtime,
	}
}

func SetupHealthHandler(realtime ClientCounter) {
	healthHandler = NewHealthHandler(realtime)
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          "Server is running",
		"time":            time.Now().Format(time.RFC3339),
		"realtimeClients": h.realtime.ClientCount(),
	})
}
