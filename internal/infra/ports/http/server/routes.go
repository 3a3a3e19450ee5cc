package server

import (
	"github.com/labstack/echo/v4"

	"github.com/qrave1/parley/internal/infra/ports/http/handlers"
	"github.com/qrave1/parley/internal/infra/ports/http/middleware"
)

func New(wsHandler *handlers.WebSocketHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	api := e.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			// Аутентификация происходит в самом шлюзе: токен из заголовка, query или cookie
			v1.GET("/ws", wsHandler.Handle)
		}
	}

	return e
}
