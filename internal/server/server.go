package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/dispatcher"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/errval"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/scheduler"
)

// ServerLogic sits between the gin routes and the execution core.
type ServerLogic struct {
	sched *scheduler.Scheduler
	disp  *dispatcher.Dispatcher
}

func NewServerLogic(sched *scheduler.Scheduler, disp *dispatcher.Dispatcher) *ServerLogic {
	return &ServerLogic{sched: sched, disp: disp}
}

func (s *ServerLogic) ScheduleTask(ctx context.Context, req domain.RouterRequestScheduleTask) (string, error) {
	taskID, err := s.sched.ScheduleTask(ctx, domain.TaskSpec{
		ClientID:        req.ClientID,
		PlatformID:      req.PlatformID,
		TaskType:        req.TaskType,
		Payload:         req.Payload,
		ScheduledAt:     req.ScheduledAt,
		ExecutionWindow: req.ExecutionWindow,
		MaxRetries:      req.MaxRetries,
	})
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while scheduling task", "error", err)
		return "", err
	}
	return taskID, nil
}

func (s *ServerLogic) CancelTask(ctx context.Context, taskID string) error {
	return s.sched.CancelTask(ctx, taskID)
}

func (s *ServerLogic) RescheduleTask(ctx context.Context, taskID string, newScheduledAt time.Time) error {
	return s.sched.RescheduleTask(ctx, taskID, newScheduledAt)
}

func (s *ServerLogic) ListTasks(ctx context.Context, clientID, status string, limit, offset int) ([]*domain.ScheduledTask, error) {
	if clientID == "" {
		return nil, errval.ErrValidation
	}

	var statusFilter *domain.TaskStatus
	if status != "" {
		st := domain.TaskStatus(status)
		switch st {
		case domain.TaskPending, domain.TaskInProgress, domain.TaskCompleted, domain.TaskFailed, domain.TaskCancelled:
			statusFilter = &st
		default:
			return nil, errval.ErrValidation
		}
	}

	return s.sched.ListTasks(ctx, clientID, statusFilter, limit, offset)
}

func (s *ServerLogic) ScheduleDM(ctx context.Context, campaignID string, req domain.RouterRequestScheduleDM) (*domain.DMMessage, error) {
	msg := s.disp.ScheduleDM(ctx, dispatcher.ScheduleDMInput{
		CampaignID:      campaignID,
		Target:          req.Target,
		ScheduledDate:   req.ScheduledDate,
		Personalization: req.Personalization,
	})
	if msg == nil {
		return nil, errval.ErrNotFound
	}
	return msg, nil
}

func (s *ServerLogic) RecordEngagement(ctx context.Context, messageID string, kind domain.EngagementKind) error {
	return s.disp.RecordEngagement(ctx, messageID, kind)
}
