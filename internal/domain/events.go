package domain

import "time"

// Event names emitted by the scheduler core and the DM dispatcher. These are
// one-way notifications for external logging/monitoring consumers.
const (
	EventPollingStarted    = "polling:started"
	EventPollingStopped    = "polling:stopped"
	EventPollingError      = "polling:error"
	EventTasksPolled       = "tasks:polled"
	EventTaskExecuting     = "task:executing"
	EventTaskExecuted      = "task:executed"
	EventTaskError         = "task:error"
	EventTaskWindowExpired = "task:window-expired"
	EventTaskScheduled     = "task:scheduled"
	EventTaskCancelled     = "task:cancelled"
	EventTaskRescheduled   = "task:rescheduled"
	EventDMScheduled       = "dm:scheduled"
	EventDMSent            = "dm:sent"
	EventDMFailed          = "dm:failed"
	EventDMEngagement      = "dm:engagement"
)

// Event is a fire-and-forget notification. Fields carries event-specific
// details (task id, retry counters, poll counts).
type Event struct {
	Name   string         `json:"name"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// EventSink receives emitted events. Implementations must not block; slow
// consumers should hand off internally.
type EventSink interface {
	Notify(ev Event)
}
