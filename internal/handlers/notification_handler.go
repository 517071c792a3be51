package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"talentmail/internal/services"
)

// maxNotificationSize bounds SNS bodies; SES bounce messages are a few KB
const maxNotificationSize = 256 << 10

// NotificationSink consumes SNS deliveries from the mail provider
type NotificationSink interface {
	HandleSNS(ctx context.Context, body []byte) error
}

type NotificationHandler struct {
	sink NotificationSink
}

func NewNotificationHandler(sink NotificationSink) *NotificationHandler {
	return &NotificationHandler{sink: sink}
}

// 📬 Receive handles POST /api/v1/ses/notifications
func (h *NotificationHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxNotificationSize))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty notification")
	}

	if err := h.sink.HandleSNS(c.Request().Context(), body); err != nil {
		// acknowledged so SNS stops redelivering mail we never sent
		if errors.Is(err, services.ErrUnknownMessage) {
			log.Warn("ignoring notification: %v", err)
			return c.NoContent(http.StatusOK)
		}
		return httpError(err)
	}
	return c.NoContent(http.StatusOK)
}
