package routes

import (
	"talentmail/internal/handlers"

	"github.com/labstack/echo/v4"
)

// 📊 RegisterTrackingRoutes registers the public redirect endpoint used by
// every tracked link and open pixel
func RegisterTrackingRoutes(e *echo.Echo, h *handlers.TrackingHandler, limiter echo.MiddlewareFunc) {
	// Public, no auth: mail clients follow these links
	e.GET("/redirect/:id", h.Redirect, limiter)
}
