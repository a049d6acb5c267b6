package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/adapters"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/dispatcher"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/errval"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/events"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/memstore"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/ratelimit"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/scheduler"
)

func newServerLogic(t *testing.T) (*ServerLogic, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	store.PutPlatform(&domain.Platform{ID: "plat-1", ClientID: "client-1", Type: "test"})

	registry := adapters.NewRegistry(store)
	registry.Register("test", adapters.Funcs{})

	bus := events.NewBus()
	sched := scheduler.New(store, registry, bus)
	disp := dispatcher.New(store, registry, ratelimit.New(), bus)
	return NewServerLogic(sched, disp), store
}

func TestListTasks_Validation(t *testing.T) {
	logic, _ := newServerLogic(t)

	_, err := logic.ListTasks(context.Background(), "", "", 10, 0)
	assert.ErrorIs(t, err, errval.ErrValidation)

	_, err = logic.ListTasks(context.Background(), "client-1", "NOT_A_STATUS", 10, 0)
	assert.ErrorIs(t, err, errval.ErrValidation)

	list, err := logic.ListTasks(context.Background(), "client-1", "PENDING", 10, 0)
	assert.NoError(t, err)
	assert.Empty(t, list)
}

func TestScheduleTask_PropagatesValidationError(t *testing.T) {
	logic, _ := newServerLogic(t)

	_, err := logic.ScheduleTask(context.Background(), domain.RouterRequestScheduleTask{
		ClientID:    "client-1",
		PlatformID:  "plat-1",
		TaskType:    "post",
		Payload:     map[string]any{"text": "hi"},
		ScheduledAt: time.Now().Add(-time.Hour),
	})
	assert.ErrorIs(t, err, errval.ErrValidation)

	taskID, err := logic.ScheduleTask(context.Background(), domain.RouterRequestScheduleTask{
		ClientID:    "client-1",
		PlatformID:  "plat-1",
		TaskType:    "post",
		Payload:     map[string]any{"text": "hi"},
		ScheduledAt: time.Now().Add(time.Hour),
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, taskID)
}

func TestScheduleDM_MapsSilentNoOpToNotFound(t *testing.T) {
	logic, store := newServerLogic(t)

	// The dispatcher swallows a missing campaign; the API surfaces 404.
	_, err := logic.ScheduleDM(context.Background(), "missing", domain.RouterRequestScheduleDM{
		Target: domain.MessageTarget{UserID: "u-1"},
	})
	assert.ErrorIs(t, err, errval.ErrNotFound)

	store.PutCampaign(&domain.DMCampaign{
		ID:              "camp-1",
		PlatformIDs:     []string{"plat-1"},
		MessageTemplate: "hello {{username}}",
		ThrottleRate:    10,
		Status:          domain.CampaignActive,
	})
	msg, err := logic.ScheduleDM(context.Background(), "camp-1", domain.RouterRequestScheduleDM{
		Target:          domain.MessageTarget{UserID: "u-1", Username: "sam"},
		Personalization: map[string]string{"username": "sam"},
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.MessageSent, msg.Status)
	assert.Equal(t, "hello sam", msg.Content)
}
