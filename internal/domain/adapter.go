package domain

import "context"

// ExecutionResult is what an adapter reports back for a task execution.
// Success=false with no Go error is a terminal failure; a returned Go error
// is treated as transient and drives the retry state machine.
type ExecutionResult struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// SendResult is what an adapter reports back for a direct-message send.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DirectMessage is the payload handed to an adapter's SendDirectMessage.
type DirectMessage struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message"`
	ImageURL string `json:"image_url,omitempty"`
}

// ExecutionAdapter performs the actual external action for one platform
// type. Concrete adapters live outside this core; the scheduler and
// dispatcher only depend on this contract.
type ExecutionAdapter interface {
	ExecuteTask(ctx context.Context, payload map[string]any) (*ExecutionResult, error)
	SendDirectMessage(ctx context.Context, dm DirectMessage) (*SendResult, error)
}

// AdapterResolver maps a platform id to the adapter able to act on it.
type AdapterResolver interface {
	Resolve(ctx context.Context, platformID string) (ExecutionAdapter, error)
}
