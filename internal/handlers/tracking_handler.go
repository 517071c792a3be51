package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"talentmail/internal/services"
	"talentmail/internal/utils"
	"talentmail/internal/utils/logger"
)

var trackingLog = logger.New("TRACKING_HANDLER")

// Tracker records redirect hits
type Tracker interface {
	Hit(ctx context.Context, conversionID string, meta services.HitMeta) (*services.HitResult, error)
}

// 🔍 TrackingHandler serves tracked links and the open pixel
type TrackingHandler struct {
	tracker Tracker
	pixel   []byte
}

func NewTrackingHandler(tracker Tracker) *TrackingHandler {
	return &TrackingHandler{tracker: tracker, pixel: utils.TransparentGIF()}
}

// 🔗 Redirect handles GET /redirect/:id
func (h *TrackingHandler) Redirect(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing id parameter")
	}

	res, err := h.tracker.Hit(c.Request().Context(), id, services.HitMeta{
		IPAddress: utils.GetIPAddress(c.Request()),
		UserAgent: c.Request().UserAgent(),
		Query:     c.QueryParams(),
	})
	if err != nil {
		return httpError(err)
	}
	if res.First {
		trackingLog.Debug("first hit on %s", id)
	}

	if res.Pixel {
		c.Response().Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Response().Header().Set("Pragma", "no-cache")
		c.Response().Header().Set("Expires", "0")
		return c.Blob(http.StatusOK, "image/gif", h.pixel)
	}
	return c.Redirect(http.StatusFound, res.Location)
}
