package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ConversationSync queues mailbox imports
type ConversationSync interface {
	ImportAll(ctx context.Context) (int, error)
}

type ConversationHandler struct {
	sync ConversationSync
}

func NewConversationHandler(sync ConversationSync) *ConversationHandler {
	return &ConversationHandler{sync: sync}
}

// 📥 Import handles POST /api/v1/conversations/import
func (h *ConversationHandler) Import(c echo.Context) error {
	queued, err := h.sync.ImportAll(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]int{"queued": queued})
}
