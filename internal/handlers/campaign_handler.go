package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"talentmail/internal/api/middleware"
	"talentmail/internal/models"
	"talentmail/internal/services"
)

// CampaignAPI is the campaign surface the HTTP layer needs
type CampaignAPI interface {
	Create(ctx context.Context, userID string, req services.CreateCampaignRequest) (*models.Campaign, error)
	Get(ctx context.Context, userID, campaignID string) (*models.Campaign, error)
	Send(ctx context.Context, userID, campaignID string, opts services.DispatchOptions) (*services.SendResult, error)
	ListBlasts(ctx context.Context, userID, campaignID string, page, limit int) ([]models.Blast, int64, error)
	ExportBlasts(ctx context.Context, userID, campaignID, format string) ([]byte, string, error)
}

type CampaignHandler struct {
	campaigns CampaignAPI
}

func NewCampaignHandler(campaigns CampaignAPI) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns}
}

// 📝 Create handles POST /api/v1/campaigns
func (h *CampaignHandler) Create(c echo.Context) error {
	var req services.CreateCampaignRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	campaign, err := h.campaigns.Create(c.Request().Context(), middleware.GetUserID(c), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, campaign)
}

func (h *CampaignHandler) Get(c echo.Context) error {
	campaign, err := h.campaigns.Get(c.Request().Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, campaign)
}

// 🚀 Send handles POST /api/v1/campaigns/:id/send. Email-client campaigns
// answer 200 with their previews, everything else is queued and answers 202.
func (h *CampaignHandler) Send(c echo.Context) error {
	var opts services.DispatchOptions
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&opts); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	res, err := h.campaigns.Send(c.Request().Context(), middleware.GetUserID(c), c.Param("id"), opts)
	if err != nil {
		return httpError(err)
	}
	if res.Queued {
		return c.JSON(http.StatusAccepted, res)
	}
	return c.JSON(http.StatusOK, res)
}

// ListBlasts handles GET /api/v1/campaigns/:id/blasts
func (h *CampaignHandler) ListBlasts(c echo.Context) error {
	page, limit := pageParams(c)
	blasts, total, err := h.campaigns.ListBlasts(c.Request().Context(), middleware.GetUserID(c), c.Param("id"), page, limit)
	if err != nil {
		return httpError(err)
	}
	return paginated(c, blasts, total, page, limit)
}

// 📤 ExportBlasts handles GET /api/v1/campaigns/:id/blasts/export?format=csv|xlsx
func (h *CampaignHandler) ExportBlasts(c echo.Context) error {
	format := strings.ToLower(c.QueryParam("format"))
	if format == "" {
		format = "csv"
	}

	data, contentType, err := h.campaigns.ExportBlasts(c.Request().Context(), middleware.GetUserID(c), c.Param("id"), format)
	if err != nil {
		return httpError(err)
	}

	filename := fmt.Sprintf("campaign-%s-blasts.%s", c.Param("id"), format)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, contentType, data)
}
