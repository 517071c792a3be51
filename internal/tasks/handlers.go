package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// CampaignDispatcher runs one blast of a campaign
type CampaignDispatcher interface {
	DispatchCampaign(ctx context.Context, campaignID string, newOnly bool, listIDs []string) (int, error)
}

// CampaignScheduler enqueues the campaigns that are due
type CampaignScheduler interface {
	EnqueueDue(ctx context.Context) (int, error)
}

// ConversationImporter pulls candidate replies out of user mailboxes
type ConversationImporter interface {
	ImportAll(ctx context.Context) (int, error)
	ImportCredentials(ctx context.Context, credentialsID string) (int, error)
}

// Handlers are the services a TaskHandler delegates to
type Handlers struct {
	Dispatcher CampaignDispatcher
	Scheduler  CampaignScheduler
	Importer   ConversationImporter
	// Permanent reports errors that will fail the same way on every retry
	Permanent func(error) bool
}

// TaskHandler decodes task payloads and hands them to the services
type TaskHandler struct {
	handlers Handlers
	logger   *zap.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(handlers Handlers, logger *zap.Logger) *TaskHandler {
	if handlers.Permanent == nil {
		handlers.Permanent = func(error) bool { return false }
	}
	return &TaskHandler{
		handlers: handlers,
		logger:   logger,
	}
}

func (h *TaskHandler) fail(msg string, err error) error {
	if h.handlers.Permanent(err) {
		return fmt.Errorf("%s: %v: %w", msg, err, asynq.SkipRetry)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// HandleCampaignDispatch runs one blast
func (h *TaskHandler) HandleCampaignDispatch(ctx context.Context, t *asynq.Task) error {
	var task CampaignDispatchTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal campaign task: %w", asynq.SkipRetry)
	}

	h.logger.Info("processing campaign dispatch",
		zap.String("campaign_id", task.CampaignID),
		zap.Bool("new_only", task.NewOnly),
		zap.Strings("list_ids", task.ListIDs),
	)

	sent, err := h.handlers.Dispatcher.DispatchCampaign(ctx, task.CampaignID, task.NewOnly, task.ListIDs)
	if err != nil {
		h.logger.Error("campaign dispatch failed",
			zap.String("campaign_id", task.CampaignID),
			zap.Error(err),
		)
		return h.fail("failed to dispatch campaign", err)
	}

	h.logger.Info("campaign dispatched",
		zap.String("campaign_id", task.CampaignID),
		zap.Int("sent", sent),
	)
	return nil
}

// HandleCampaignSchedule enqueues every due campaign
func (h *TaskHandler) HandleCampaignSchedule(ctx context.Context, t *asynq.Task) error {
	n, err := h.handlers.Scheduler.EnqueueDue(ctx)
	if err != nil {
		return h.fail("failed to schedule campaigns", err)
	}
	if n > 0 {
		h.logger.Info("scheduled due campaigns", zap.Int("count", n))
	}
	return nil
}

// HandleConversationImport imports one credential's mailbox. Failures are logged and not retried.
func (h *TaskHandler) HandleConversationImport(ctx context.Context, t *asynq.Task) error {
	var task ConversationImportTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal conversation import task: %w", asynq.SkipRetry)
	}

	imported, err := h.handlers.Importer.ImportCredentials(ctx, task.CredentialsID)
	if err != nil {
		h.logger.Error("conversation import failed",
			zap.String("credentials_id", task.CredentialsID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to import conversations: %v: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("conversations imported",
		zap.String("credentials_id", task.CredentialsID),
		zap.Int("imported", imported),
	)
	return nil
}

// HandleConversationSync fans out one import task per incoming credential
func (h *TaskHandler) HandleConversationSync(ctx context.Context, t *asynq.Task) error {
	n, err := h.handlers.Importer.ImportAll(ctx)
	if err != nil {
		return h.fail("failed to start conversation sync", err)
	}
	h.logger.Info("conversation sync queued", zap.Int("credentials", n))
	return nil
}
