package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/datallboy/gocdse/internal/api/controllers"
	"github.com/datallboy/gocdse/internal/app"
	"github.com/datallboy/gocdse/internal/engine"
)

func RegisterRoutes(e *echo.Echo, app *app.Context, batch *engine.Batch) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	queueCtrl := &controllers.QueueController{App: app, Batch: batch}
	productCtrl := &controllers.ProductController{App: app}

	e.GET("/api/status", queueCtrl.HandleStatus)
	e.GET("/api/queue", queueCtrl.HandleList)
	e.GET("/api/queue/:id", queueCtrl.HandleGet)
	e.POST("/api/queue/:id/cancel", queueCtrl.HandleCancel)

	e.GET("/api/products", productCtrl.HandleList)
}
