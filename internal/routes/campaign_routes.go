package routes

import (
	"talentmail/internal/handlers"

	"github.com/labstack/echo/v4"
)

// RegisterCampaignRoutes expects an authenticated group
func RegisterCampaignRoutes(g *echo.Group, h *handlers.CampaignHandler) {
	campaigns := g.Group("/campaigns")

	campaigns.POST("", h.Create)
	campaigns.GET("/:id", h.Get)

	// 🚀 dispatch now; 202 when queued
	campaigns.POST("/:id/send", h.Send)

	campaigns.GET("/:id/blasts", h.ListBlasts)
	campaigns.GET("/:id/blasts/export", h.ExportBlasts)
}
