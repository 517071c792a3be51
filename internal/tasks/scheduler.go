package tasks

import (
	"fmt"

	"github.com/hibiken/asynq"

	"talentmail/internal/config"
	"talentmail/internal/utils/logger"
)

// Scheduler handles periodic task scheduling
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *logger.Logger
}

// NewScheduler creates a new task scheduler
func NewScheduler(cfg config.RedisConfig, logger *logger.Logger) *Scheduler {
	scheduler := asynq.NewScheduler(RedisOpt(cfg), &asynq.SchedulerOpts{})

	return &Scheduler{
		scheduler: scheduler,
		logger:    logger,
	}
}

// Start registers the periodic tasks and runs the scheduler in the background
func (s *Scheduler) Start() error {
	if err := s.registerTasks(); err != nil {
		return fmt.Errorf("failed to register tasks: %w", err)
	}

	s.logger.Info("starting task scheduler")
	return s.scheduler.Start()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.scheduler.Shutdown()
	s.logger.Info("task scheduler stopped")
}

// registerTasks registers all periodic tasks
func (s *Scheduler) registerTasks() error {
	// Campaign scheduling (every minute)
	entryID, err := s.scheduler.Register("*/1 * * * *", asynq.NewTask(
		TaskTypeCampaignSchedule,
		nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(RetryMin),
		asynq.Timeout(TimeoutShort),
	))
	if err != nil {
		return fmt.Errorf("failed to register campaign scheduler: %w", err)
	}
	s.logger.Debug("registered campaign scheduler %s", entryID)

	// Conversation sync (every 15 minutes)
	entryID, err = s.scheduler.Register("*/15 * * * *", asynq.NewTask(
		TaskTypeConversationSync,
		nil,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(RetryNone),
		asynq.Timeout(TimeoutMedium),
	))
	if err != nil {
		return fmt.Errorf("failed to register conversation sync scheduler: %w", err)
	}
	s.logger.Debug("registered conversation sync scheduler %s", entryID)

	s.logger.Info("registered all periodic tasks")
	return nil
}
