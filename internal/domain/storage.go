package domain

import (
	"context"
	"time"
)

// TaskListFilter narrows ListTasks. Status nil means any status.
type TaskListFilter struct {
	ClientID string
	Status   *TaskStatus
	Limit    int
	Offset   int
}

// TaskStore is the persistence contract the scheduler runs against. The
// scheduler treats it as an opaque transactional task queue.
type TaskStore interface {
	Ping(ctx context.Context) error
	CreateTask(ctx context.Context, task *ScheduledTask) error
	GetTaskByID(ctx context.Context, id string) (*ScheduledTask, error)
	UpdateTask(ctx context.Context, task *ScheduledTask) error
	// ListDueTasks returns PENDING tasks with scheduled_at <= now, oldest
	// first, limited to n.
	ListDueTasks(ctx context.Context, now time.Time, n int) ([]*ScheduledTask, error)
	// ListTasks returns tasks ordered by scheduled_at descending.
	ListTasks(ctx context.Context, filter TaskListFilter) ([]*ScheduledTask, error)
	// ResetStaleInProgress sweeps tasks stuck IN_PROGRESS since before the
	// cutoff: past their execution window they become FAILED, otherwise they
	// return to PENDING. Returns the number of tasks touched.
	ResetStaleInProgress(ctx context.Context, cutoff time.Time) (int, error)
}

// CampaignStore is the persistence contract for DM campaigns, their
// messages, and engagement metrics.
type CampaignStore interface {
	GetCampaignByID(ctx context.Context, id string) (*DMCampaign, error)
	CreateMessage(ctx context.Context, msg *DMMessage) error
	GetMessageByID(ctx context.Context, id string) (*DMMessage, error)
	UpdateMessage(ctx context.Context, msg *DMMessage) error
	IncrementSentMessages(ctx context.Context, campaignID string) error
	IncrementEngagement(ctx context.Context, campaignID, platformID string, kind EngagementKind) error
}

// PlatformStore resolves platform integration records.
type PlatformStore interface {
	GetPlatformByID(ctx context.Context, id string) (*Platform, error)
}
