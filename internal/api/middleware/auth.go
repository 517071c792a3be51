package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"talentmail/internal/utils"
)

const (
	userIDKey   = "userID"
	domainIDKey = "domainID"
	emailKey    = "email"
)

type AuthMiddleware struct {
	jwtSecret string
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// Middleware requires a Bearer session token and stores its claims on the context
func (m *AuthMiddleware) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := utils.ParseSessionToken(m.jwtSecret, tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}

			c.Set(userIDKey, claims.UserID)
			c.Set(domainIDKey, claims.DomainID)
			c.Set(emailKey, claims.Email)

			return next(c)
		}
	}
}

func GetUserID(c echo.Context) string {
	if id, ok := c.Get(userIDKey).(string); ok {
		return id
	}
	return ""
}

func GetDomainID(c echo.Context) string {
	if id, ok := c.Get(domainIDKey).(string); ok {
		return id
	}
	return ""
}
