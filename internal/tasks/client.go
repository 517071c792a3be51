package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"talentmail/internal/config"
	"talentmail/internal/utils/logger"
)

// TaskClient enqueues background work onto asynq
type TaskClient struct {
	client *asynq.Client
	logger *logger.Logger
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewTaskClient creates a new TaskClient with the given Redis configuration
func NewTaskClient(cfg config.RedisConfig) *TaskClient {
	return &TaskClient{
		client: asynq.NewClient(RedisOpt(cfg)),
		logger: logger.New("TASKS"),
	}
}

// Close closes the underlying asynq client
func (c *TaskClient) Close() error {
	return c.client.Close()
}

// EnqueueCampaignDispatch queues one blast of a campaign. Scheduled runs get a
// deterministic task id so a run is never queued twice.
func (c *TaskClient) EnqueueCampaignDispatch(ctx context.Context, task CampaignDispatchTask) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal campaign task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueCritical),
		asynq.Timeout(TimeoutLong),
		// a dispatch that fails half way must not resend to the first half
		asynq.MaxRetry(RetryNone),
	}
	if !task.ScheduledFor.IsZero() {
		opts = append(opts, asynq.TaskID(fmt.Sprintf("dispatch:%s:%d", task.CampaignID, task.ScheduledFor.Unix())))
	}

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeCampaignDispatch, payload), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			c.logger.Warn("campaign %s already queued for %s", task.CampaignID, task.ScheduledFor)
			return "", nil
		}
		return "", fmt.Errorf("failed to enqueue campaign task: %w", err)
	}

	c.logger.Success("✅ Enqueued campaign dispatch [ID: %s] [Queue: %s] for campaign %s", info.ID, info.Queue, task.CampaignID)
	return info.ID, nil
}

// EnqueueConversationImport queues one credential's mailbox import. Imports are never retried.
func (c *TaskClient) EnqueueConversationImport(ctx context.Context, task ConversationImportTask) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation import task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx,
		asynq.NewTask(TaskTypeConversationImport, payload),
		asynq.Queue(QueueLow),
		asynq.Timeout(TimeoutMedium),
		asynq.MaxRetry(RetryNone),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue conversation import task: %w", err)
	}

	c.logger.Info("Enqueued conversation import task [%s] in queue %s for credentials %s",
		info.ID, info.Queue, task.CredentialsID)
	return info.ID, nil
}
