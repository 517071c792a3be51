package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"talentmail/internal/services"
	"talentmail/internal/utils/logger"
)

var log = logger.New("HANDLERS")

// RequestValidator plugs validator/v10 into echo's c.Validate
type RequestValidator struct {
	validate *validator.Validate
}

func NewValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

func (v *RequestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// bind decodes and validates a JSON body
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(req)
}

// httpError maps service errors onto API status codes
func httpError(err error) error {
	switch {
	case services.IsUsage(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case services.IsUnavailable(err):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		log.Error("request failed", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// pageParams reads page and limit, defaulting to the first page of 10
func pageParams(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func paginated(c echo.Context, data interface{}, total int64, page, limit int) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  data,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}
