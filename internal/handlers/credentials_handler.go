package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"talentmail/internal/api/middleware"
	"talentmail/internal/models"
	"talentmail/internal/services"
)

// CredentialStore manages a user's mailbox credentials
type CredentialStore interface {
	Create(ctx context.Context, userID string, req services.CreateCredentialsRequest) (*models.EmailClientCredentials, error)
	List(ctx context.Context, userID string) ([]models.EmailClientCredentials, error)
	SendTest(ctx context.Context, userID, id string, req services.SendTestRequest) error
}

type CredentialsHandler struct {
	credentials CredentialStore
}

func NewCredentialsHandler(credentials CredentialStore) *CredentialsHandler {
	return &CredentialsHandler{credentials: credentials}
}

// 🔐 Create handles POST /api/v1/email-credentials. The mailbox is
// contacted before anything is stored.
func (h *CredentialsHandler) Create(c echo.Context) error {
	var req services.CreateCredentialsRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	record, err := h.credentials.Create(c.Request().Context(), middleware.GetUserID(c), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, record)
}

func (h *CredentialsHandler) List(c echo.Context) error {
	records, err := h.credentials.List(c.Request().Context(), middleware.GetUserID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, records)
}

// SendTest handles POST /api/v1/email-credentials/:id/test
func (h *CredentialsHandler) SendTest(c echo.Context) error {
	var req services.SendTestRequest
	if c.Request().ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}

	if err := h.credentials.SendTest(c.Request().Context(), middleware.GetUserID(c), c.Param("id"), req); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"sent": true})
}
