package tasks

import "time"

// Task Types
const (
	// Campaign related tasks
	TaskTypeCampaignDispatch = "campaign:dispatch"
	TaskTypeCampaignSchedule = "campaign:schedule"

	// Conversation related tasks
	TaskTypeConversationImport = "conversation:import"
	TaskTypeConversationSync   = "conversation:sync"
)

// Task Queues
const (
	QueueCritical = "critical" // For time-sensitive tasks like blast dispatch
	QueueDefault  = "default"  // For regular tasks
	QueueLow      = "low"      // For background tasks like mailbox imports
)

// Task Timeouts
const (
	TimeoutShort  = 1 * time.Minute
	TimeoutMedium = 5 * time.Minute
	TimeoutLong   = 30 * time.Minute
)

// Task Retry Settings
const (
	RetryMin  = 1
	RetryNone = 0
)

// Task Payloads
type CampaignDispatchTask struct {
	CampaignID string   `json:"campaign_id"`
	NewOnly    bool     `json:"new_only"`
	ListIDs    []string `json:"list_ids,omitempty"`
	// ScheduledFor is set for runs enqueued by the scheduler and keys deduplication
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`
}

type ConversationImportTask struct {
	CredentialsID string `json:"credentials_id"`
}
