package router

import (
	"adoptme/internal/adapter/api/handler"

	"github.com/labstack/echo/v4"
)

func SetupDevRouter(e *echo.Echo, environment string) {
	if environment != "development" {
		return
	}
	devTokenHandler := handler.GetDevTokenHandler()

	e.GET("/_dev/token/:id", devTokenHandler.GenerateUserToken)
	e.POST("/_dev/users", devTokenHandler.UpsertUser)
}
