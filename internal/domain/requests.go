package domain

import "time"

type RouterRequestScheduleTask struct {
	ClientID        string         `json:"client_id" binding:"required"`
	PlatformID      string         `json:"platform_id" binding:"required"`
	TaskType        string         `json:"task_type" binding:"required,validate_task_type"`
	Payload         map[string]any `json:"payload" binding:"required,validate_payload"`
	ScheduledAt     time.Time      `json:"scheduled_at" binding:"required"`
	ExecutionWindow int            `json:"execution_window" binding:"omitempty,min=1"`
	MaxRetries      int            `json:"max_retries" binding:"omitempty,min=0"`
}

type RouterRequestRescheduleTask struct {
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}

type RouterRequestScheduleDM struct {
	Target          MessageTarget     `json:"target" binding:"required"`
	ScheduledDate   *time.Time        `json:"scheduled_date"`
	Personalization map[string]string `json:"personalization"`
}
