package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"talentmail/internal/api/middleware"
	"talentmail/internal/config"
	"talentmail/internal/handlers"
)

// Handlers groups everything the HTTP surface serves
type Handlers struct {
	Campaigns     *handlers.CampaignHandler
	Tracking      *handlers.TrackingHandler
	Notifications *handlers.NotificationHandler
	Conversations *handlers.ConversationHandler
	Credentials   *handlers.CredentialsHandler
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

type Server struct {
	echo     *echo.Echo
	config   *config.Config
	handlers Handlers
	// counter backs the API rate limit; nil disables it
	counter middleware.Counter
	checks  map[string]HealthCheck
}

// NewServer builds the echo instance and registers every route
func NewServer(cfg *config.Config, h Handlers, counter middleware.Counter, checks map[string]HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewValidator()

	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	s := &Server{
		echo:     e,
		config:   cfg,
		handlers: h,
		counter:  counter,
		checks:   checks,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// 💓 healthCheck answers 503 when any dependency check fails
func (s *Server) healthCheck(c echo.Context) error {
	status := map[string]string{}
	healthy := true
	for name, check := range s.checks {
		if err := check(c.Request().Context()); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{"status": "unhealthy", "checks": status})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok", "checks": status})
}
