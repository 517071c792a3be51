package routes

import (
	"talentmail/internal/handlers"

	"github.com/labstack/echo/v4"
)

// RegisterMailboxRoutes registers credential management and conversation
// import on an authenticated group
func RegisterMailboxRoutes(g *echo.Group, creds *handlers.CredentialsHandler, conversations *handlers.ConversationHandler) {
	credentials := g.Group("/email-credentials")
	credentials.POST("", creds.Create)
	credentials.GET("", creds.List)
	credentials.POST("/:id/test", creds.SendTest)

	g.POST("/conversations/import", conversations.Import)
}

// 📬 RegisterNotificationRoutes registers the SNS endpoint. SNS cannot send a
// session token, so it lives outside the authenticated group.
func RegisterNotificationRoutes(e *echo.Echo, h *handlers.NotificationHandler) {
	e.POST("/api/v1/ses/notifications", h.Receive)
}
