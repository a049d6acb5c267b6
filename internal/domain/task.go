package domain

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

const (
	// DefaultExecutionWindowSeconds is how long after ScheduledAt a task may
	// still be started before it is force-failed.
	DefaultExecutionWindowSeconds = 300
	DefaultMaxRetries             = 3
	DefaultMaxConcurrent          = 5
	DefaultListLimit              = 50
)

// ScheduledTask is a single unit of deferred platform work (a post, a DM, a
// pricing update). It is created by callers, mutated only by the scheduler,
// and never deleted: cancellation is a status transition.
type ScheduledTask struct {
	ID              string         `json:"id"`
	ClientID        string         `json:"client_id"`
	PlatformID      string         `json:"platform_id"`
	TaskType        string         `json:"task_type"`
	Payload         map[string]any `json:"payload"`
	ScheduledAt     time.Time      `json:"scheduled_at"`
	ExecutionWindow int            `json:"execution_window"` // seconds
	Status          TaskStatus     `json:"status"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	LastRetryAt     *time.Time     `json:"last_retry_at,omitempty"`
	ExecutedAt      *time.Time     `json:"executed_at,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ResultLog       map[string]any `json:"result_log,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// WindowEnd is the deadline by which execution must have started.
func (t *ScheduledTask) WindowEnd() time.Time {
	return t.ScheduledAt.Add(time.Duration(t.ExecutionWindow) * time.Second)
}

// TaskSpec is the caller-supplied description of a task to schedule.
// Zero values for ExecutionWindow and MaxRetries select the defaults.
type TaskSpec struct {
	ClientID        string
	PlatformID      string
	TaskType        string
	Payload         map[string]any
	ScheduledAt     time.Time
	ExecutionWindow int
	MaxRetries      int
}
