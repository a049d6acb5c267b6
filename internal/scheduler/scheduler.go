// Package scheduler contains the scheduled-task execution core: a polling
// loop that claims due tasks from storage, enforces per-task execution
// windows, bounds concurrency with an in-flight set, retries thrown failures
// with bookkeeping, and dispatches to per-platform execution adapters.
//
// The in-flight set is the only guard against double-claiming a task, and it
// lives in process memory, not in storage. A second worker instance polling
// the same store can therefore claim a task this instance already holds:
// single-writer deployment is a hard assumption. Multi-instance deployments
// must wire a DistributedLock (Redis SetNX) via WithDistributedLock.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/errval"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/events"
)

const claimLockTTL = 30 * time.Second

type Scheduler struct {
	store    domain.TaskStore
	adapters domain.AdapterResolver
	bus      *events.Bus
	locker   domain.DistributedLock

	maxConcurrent int
	now           func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	polling  bool
	stopCh   chan struct{}

	wg sync.WaitGroup
}

type Option func(*Scheduler)

// WithMaxConcurrent overrides the in-flight execution cap (default 5).
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithDistributedLock enables storage-level claim locking across worker
// instances. Without it the scheduler relies solely on its in-memory
// in-flight set.
func WithDistributedLock(l domain.DistributedLock) Option {
	return func(s *Scheduler) { s.locker = l }
}

func New(store domain.TaskStore, adapters domain.AdapterResolver, bus *events.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:         store,
		adapters:      adapters,
		bus:           bus,
		maxConcurrent: domain.DefaultMaxConcurrent,
		now:           time.Now,
		inFlight:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartPolling begins claiming due tasks: one poll immediately, then one per
// interval. Idempotent; a second call while polling only logs.
func (s *Scheduler) StartPolling(interval time.Duration) {
	s.mu.Lock()
	if s.polling {
		s.mu.Unlock()
		slog.Info("scheduler is already polling, ignoring start request")
		return
	}
	s.polling = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.bus.Emit(domain.EventPollingStarted, map[string]any{"interval_ms": interval.Milliseconds()})
	slog.Info("scheduler polling started", "interval", interval)

	go func() {
		s.poll(context.Background())

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.poll(context.Background())
			}
		}
	}()
}

// StopPolling halts the poll timer. In-flight executions are not cancelled;
// they run to completion. Idempotent.
func (s *Scheduler) StopPolling() {
	s.mu.Lock()
	if !s.polling {
		s.mu.Unlock()
		slog.Info("scheduler is not polling, ignoring stop request")
		return
	}
	s.polling = false
	close(s.stopCh)
	s.mu.Unlock()

	s.bus.Emit(domain.EventPollingStopped, nil)
	slog.Info("scheduler polling stopped")
}

func (s *Scheduler) IsPolling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polling
}

// CurrentExecutionCount is the size of the in-flight task set.
func (s *Scheduler) CurrentExecutionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Shutdown stops polling and waits for in-flight executions until ctx
// expires. Executions still running after that are abandoned: their storage
// rows may stay IN_PROGRESS until the recovery sweep resets them.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.StopPolling()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Error("shutdown grace period elapsed with executions still in flight", "in_flight", s.CurrentExecutionCount())
		return ctx.Err()
	}
}

// ScheduleTask validates and persists a new PENDING task. ScheduledAt must
// be strictly in the future.
func (s *Scheduler) ScheduleTask(ctx context.Context, spec domain.TaskSpec) (string, error) {
	now := s.now().UTC()
	if !spec.ScheduledAt.After(now) {
		return "", fmt.Errorf("scheduled_at must be in the future: %w", errval.ErrValidation)
	}

	window := spec.ExecutionWindow
	if window <= 0 {
		window = domain.DefaultExecutionWindowSeconds
	}
	maxRetries := spec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	task := &domain.ScheduledTask{
		ID:              uuid.NewString(),
		ClientID:        spec.ClientID,
		PlatformID:      spec.PlatformID,
		TaskType:        spec.TaskType,
		Payload:         spec.Payload,
		ScheduledAt:     spec.ScheduledAt.UTC(),
		ExecutionWindow: window,
		Status:          domain.TaskPending,
		RetryCount:      0,
		MaxRetries:      maxRetries,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to persist scheduled task", "error", err)
		return "", errval.ErrInternal
	}

	s.bus.Emit(domain.EventTaskScheduled, map[string]any{
		"task_id":      task.ID,
		"task_type":    task.TaskType,
		"scheduled_at": task.ScheduledAt,
	})
	slog.InfoContext(ctx, "task scheduled", "task_id", task.ID, "task_type", task.TaskType, "scheduled_at", task.ScheduledAt)
	return task.ID, nil
}

// CancelTask marks a PENDING task CANCELLED. Tasks in any other status
// cannot be cancelled; an IN_PROGRESS execution is never interrupted.
func (s *Scheduler) CancelTask(ctx context.Context, taskID string) error {
	task, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskPending {
		return fmt.Errorf("cannot cancel task in status %s: %w", task.Status, errval.ErrInvalidState)
	}

	task.Status = domain.TaskCancelled
	task.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTask(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to cancel task", "task_id", taskID, "error", err)
		return errval.ErrInternal
	}

	s.bus.Emit(domain.EventTaskCancelled, map[string]any{"task_id": taskID})
	slog.InfoContext(ctx, "task cancelled", "task_id", taskID)
	return nil
}

// RescheduleTask moves a PENDING or FAILED task to a new future time,
// resetting its retry bookkeeping.
func (s *Scheduler) RescheduleTask(ctx context.Context, taskID string, newScheduledAt time.Time) error {
	now := s.now().UTC()
	if !newScheduledAt.After(now) {
		return fmt.Errorf("scheduled_at must be in the future: %w", errval.ErrValidation)
	}

	task, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskPending && task.Status != domain.TaskFailed {
		return fmt.Errorf("cannot reschedule task in status %s: %w", task.Status, errval.ErrInvalidState)
	}

	task.Status = domain.TaskPending
	task.ScheduledAt = newScheduledAt.UTC()
	task.RetryCount = 0
	task.ErrorMessage = ""
	task.UpdatedAt = now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to reschedule task", "task_id", taskID, "error", err)
		return errval.ErrInternal
	}

	s.bus.Emit(domain.EventTaskRescheduled, map[string]any{"task_id": taskID, "scheduled_at": task.ScheduledAt})
	slog.InfoContext(ctx, "task rescheduled", "task_id", taskID, "scheduled_at", task.ScheduledAt)
	return nil
}

// ListTasks returns a client's tasks ordered by scheduled_at descending.
func (s *Scheduler) ListTasks(ctx context.Context, clientID string, status *domain.TaskStatus, limit, offset int) ([]*domain.ScheduledTask, error) {
	if limit <= 0 {
		limit = domain.DefaultListLimit
	}
	return s.store.ListTasks(ctx, domain.TaskListFilter{
		ClientID: clientID,
		Status:   status,
		Limit:    limit,
		Offset:   offset,
	})
}

// poll runs one claim cycle. If the in-flight set is at capacity the whole
// tick is skipped, no partial claiming.
func (s *Scheduler) poll(ctx context.Context) {
	s.mu.Lock()
	free := s.maxConcurrent - len(s.inFlight)
	s.mu.Unlock()
	if free <= 0 {
		slog.Debug("max concurrent executions reached, skipping poll tick")
		return
	}

	due, err := s.store.ListDueTasks(ctx, s.now().UTC(), free)
	if err != nil {
		slog.ErrorContext(ctx, "poll query failed", "error", err)
		s.bus.Emit(domain.EventPollingError, map[string]any{"error": err.Error()})
		return
	}
	if len(due) == 0 {
		slog.Debug("no eligible tasks this tick")
		return
	}

	claimed := []string{}
	for _, task := range due {
		// Claim in memory before the goroutine starts so the next tick
		// cannot re-select the task while storage still says PENDING.
		s.mu.Lock()
		if _, active := s.inFlight[task.ID]; active {
			s.mu.Unlock()
			continue
		}
		s.inFlight[task.ID] = struct{}{}
		s.mu.Unlock()

		claimed = append(claimed, task.ID)
		s.wg.Add(1)
		go s.executeTask(ctx, task.ID)
	}

	if len(claimed) > 0 {
		s.bus.Emit(domain.EventTasksPolled, map[string]any{"count": len(claimed), "task_ids": claimed})
		slog.InfoContext(ctx, "claimed due tasks", "count", len(claimed))
	}
}

// executeTask runs one claimed task end to end. Nothing is synchronously
// waiting on it, so every failure is absorbed into task state and events.
func (s *Scheduler) executeTask(ctx context.Context, taskID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, taskID)
		s.mu.Unlock()
	}()

	if s.locker != nil {
		lockKey := "task:claim:" + taskID
		locked, err := s.locker.Lock(lockKey, claimLockTTL)
		if err != nil {
			slog.ErrorContext(ctx, "claim lock error", "task_id", taskID, "error", err)
			return
		}
		if !locked {
			slog.Info("task is claimed by another worker instance, skipping", "task_id", taskID)
			return
		}
		defer func() {
			if err := s.locker.Unlock(lockKey); err != nil {
				slog.Error("failed to release claim lock", "task_id", taskID, "error", err)
			}
		}()
	}

	task, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		slog.ErrorContext(ctx, "claimed task could not be re-fetched", "task_id", taskID, "error", err)
		return
	}
	// Re-check after the in-memory claim: another actor may have cancelled
	// or picked up the task between the poll query and now.
	if task.Status != domain.TaskPending {
		slog.Info("task no longer pending, aborting execution", "task_id", taskID, "status", task.Status)
		return
	}

	now := s.now().UTC()
	if now.After(task.WindowEnd()) {
		s.failExpired(ctx, task, now)
		return
	}

	task.Status = domain.TaskInProgress
	task.UpdatedAt = now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to mark task in progress", "task_id", taskID, "error", err)
		return
	}

	s.bus.Emit(domain.EventTaskExecuting, map[string]any{"task_id": taskID, "task_type": task.TaskType})

	result, execErr := s.invokeAdapter(ctx, task)

	switch {
	case execErr != nil:
		s.handleThrownError(ctx, task, execErr)
	case result != nil && result.Success:
		s.completeTask(ctx, task, result)
	default:
		s.failFromResult(ctx, task, result)
	}
}

// invokeAdapter resolves and calls the platform adapter. A panic inside the
// adapter is converted into an error so it lands on the retry path instead
// of tearing down the worker.
func (s *Scheduler) invokeAdapter(ctx context.Context, task *domain.ScheduledTask) (result *domain.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("adapter panicked: %v", r)
		}
	}()

	adapter, err := s.adapters.Resolve(ctx, task.PlatformID)
	if err != nil {
		return nil, err
	}

	payload := make(map[string]any, len(task.Payload)+3)
	for k, v := range task.Payload {
		payload[k] = v
	}
	payload["taskType"] = task.TaskType
	payload["platformId"] = task.PlatformID
	payload["clientId"] = task.ClientID

	return adapter.ExecuteTask(ctx, payload)
}

// failExpired terminally fails a task whose execution window elapsed before
// it was started. Window expiry never consumes a retry.
func (s *Scheduler) failExpired(ctx context.Context, task *domain.ScheduledTask, now time.Time) {
	task.Status = domain.TaskFailed
	task.ErrorMessage = fmt.Sprintf("Execution window expired: scheduled for %s with a %ds window", task.ScheduledAt.Format(time.RFC3339), task.ExecutionWindow)
	task.ExecutedAt = &now
	task.UpdatedAt = now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to record window expiry", "task_id", task.ID, "error", err)
		return
	}

	s.bus.Emit(domain.EventTaskWindowExpired, map[string]any{
		"task_id":      task.ID,
		"scheduled_at": task.ScheduledAt,
		"window_end":   task.WindowEnd(),
	})
	slog.Info("task execution window expired", "task_id", task.ID, "scheduled_at", task.ScheduledAt)
}

func (s *Scheduler) completeTask(ctx context.Context, task *domain.ScheduledTask, result *domain.ExecutionResult) {
	now := s.now().UTC()
	task.Status = domain.TaskCompleted
	task.ResultLog = result.Fields
	task.ErrorMessage = ""
	task.ExecutedAt = &now
	task.UpdatedAt = now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to record task completion", "task_id", task.ID, "error", err)
		return
	}

	s.bus.Emit(domain.EventTaskExecuted, map[string]any{"task_id": task.ID, "success": true})
	slog.Info("task executed", "task_id", task.ID, "task_type", task.TaskType)
}

// failFromResult handles an adapter that reported failure without returning
// an error. This path is terminal and does not touch the retry counter: only
// returned errors re-queue a task.
func (s *Scheduler) failFromResult(ctx context.Context, task *domain.ScheduledTask, result *domain.ExecutionResult) {
	now := s.now().UTC()
	errMsg := "adapter reported failure"
	if result != nil && result.Error != "" {
		errMsg = result.Error
	}

	task.Status = domain.TaskFailed
	task.ErrorMessage = errMsg
	task.ExecutedAt = &now
	task.UpdatedAt = now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to record task failure", "task_id", task.ID, "error", err)
		return
	}

	s.bus.Emit(domain.EventTaskExecuted, map[string]any{"task_id": task.ID, "success": false, "error": errMsg})
	slog.Error("task execution failed", "task_id", task.ID, "error", errMsg)
}

// handleThrownError drives the retry state machine: the task goes back to
// PENDING while retries remain, otherwise it fails terminally.
func (s *Scheduler) handleThrownError(ctx context.Context, task *domain.ScheduledTask, execErr error) {
	now := s.now().UTC()

	// Re-fetch so concurrent bookkeeping (e.g. an operator reschedule) is
	// not clobbered by our stale copy.
	fresh, err := s.store.GetTaskByID(ctx, task.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to re-fetch task for retry bookkeeping", "task_id", task.ID, "error", err)
		return
	}

	newRetryCount := fresh.RetryCount + 1
	willRetry := newRetryCount < fresh.MaxRetries

	fresh.RetryCount = newRetryCount
	fresh.ErrorMessage = execErr.Error()
	fresh.LastRetryAt = &now
	fresh.UpdatedAt = now
	if willRetry {
		fresh.Status = domain.TaskPending
	} else {
		fresh.Status = domain.TaskFailed
		fresh.ExecutedAt = &now
	}

	if err := s.store.UpdateTask(ctx, fresh); err != nil {
		slog.ErrorContext(ctx, "failed to record task error", "task_id", task.ID, "error", err)
		return
	}

	s.bus.Emit(domain.EventTaskError, map[string]any{
		"task_id":     task.ID,
		"error":       execErr.Error(),
		"retry_count": newRetryCount,
		"max_retries": fresh.MaxRetries,
		"will_retry":  willRetry,
	})
	slog.Error("task execution error", "task_id", task.ID, "error", execErr, "retry_count", newRetryCount, "will_retry", willRetry)
}
