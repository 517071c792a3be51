package tasks

import (
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"talentmail/internal/config"
)

var queuePriorities = map[string]int{
	QueueCritical: 6, // High priority
	QueueDefault:  3, // Medium priority
	QueueLow:      1, // Low priority
}

// Server handles task processing
type Server struct {
	server      *asynq.Server
	handler     *TaskHandler
	logger      *zap.Logger
	concurrency int
}

// NewServer creates a new task processing server
func NewServer(cfg *config.Config, handler *TaskHandler, logger *zap.Logger) *Server {
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	server := asynq.NewServer(
		RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues:      queuePriorities,
			// Enable strict priority, meaning higher priority queues are processed first
			StrictPriority: true,
			Logger:         logger.Sugar(),
		},
	)

	return &Server{
		server:      server,
		handler:     handler,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Mux routes every task type to its handler
func (s *Server) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeCampaignDispatch, s.handler.HandleCampaignDispatch)
	mux.HandleFunc(TaskTypeCampaignSchedule, s.handler.HandleCampaignSchedule)
	mux.HandleFunc(TaskTypeConversationImport, s.handler.HandleConversationImport)
	mux.HandleFunc(TaskTypeConversationSync, s.handler.HandleConversationSync)
	return mux
}

// Start starts the task processing server
func (s *Server) Start() error {
	s.logger.Info("starting task processing server",
		zap.Int("concurrency", s.concurrency),
		zap.Any("queues", queuePriorities),
	)

	if err := s.server.Start(s.Mux()); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the task processing server
func (s *Server) Shutdown() {
	s.logger.Info("shutting down task processing server")
	s.server.Shutdown()
}
