package api

import (
	"time"

	"talentmail/internal/api/middleware"
	"talentmail/internal/routes"

	"golang.org/x/time/rate"
)

const (
	// per client IP on the public redirect endpoint
	trackingRate  = rate.Limit(20)
	trackingBurst = 40

	apiLimit  = 300
	apiWindow = time.Minute
)

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.healthCheck)

	// Public endpoints
	routes.RegisterTrackingRoutes(s.echo, s.handlers.Tracking, middleware.IPRateLimiter(trackingRate, trackingBurst))
	routes.RegisterNotificationRoutes(s.echo, s.handlers.Notifications)

	// API v1 group
	api := s.echo.Group("/api/v1")
	auth := middleware.NewAuthMiddleware(s.config.JWT.Secret)
	api.Use(auth.Middleware())
	api.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		Counter: s.counter,
		Limit:   apiLimit,
		Window:  apiWindow,
	}))

	routes.RegisterCampaignRoutes(api, s.handlers.Campaigns)
	routes.RegisterMailboxRoutes(api, s.handlers.Credentials, s.handlers.Conversations)
}
