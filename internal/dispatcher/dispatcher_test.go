package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/adapters"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/events"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/memstore"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/ratelimit"
)

type sendRecorder struct {
	mu    sync.Mutex
	sends []domain.DirectMessage
	next  func() (*domain.SendResult, error)
}

func (r *sendRecorder) record(dm domain.DirectMessage) (*domain.SendResult, error) {
	r.mu.Lock()
	r.sends = append(r.sends, dm)
	r.mu.Unlock()
	if r.next != nil {
		return r.next()
	}
	return &domain.SendResult{Success: true, MessageID: "pm-1"}, nil
}

func (r *sendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

type fixture struct {
	store    *memstore.Store
	recorder *sendRecorder
	clock    time.Time
	disp     *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	store.PutPlatform(&domain.Platform{ID: "plat-1", ClientID: "client-1", Type: "test"})
	store.PutCampaign(&domain.DMCampaign{
		ID:              "camp-1",
		ClientID:        "client-1",
		PlatformIDs:     []string{"plat-1"},
		MessageTemplate: "Hi {{firstName|username}}, check out {{offer}}",
		Personalization: map[string]string{"offer": "the spring sale"},
		ThrottleRate:    10,
		Status:          domain.CampaignActive,
	})

	recorder := &sendRecorder{}
	registry := adapters.NewRegistry(store)
	registry.Register("test", adapters.Funcs{
		Send: func(_ context.Context, dm domain.DirectMessage) (*domain.SendResult, error) {
			return recorder.record(dm)
		},
	})

	f := &fixture{
		store:    store,
		recorder: recorder,
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.disp = New(store, registry, ratelimit.NewWithClock(func() time.Time { return f.clock }), events.NewBus(), WithClock(func() time.Time { return f.clock }))
	return f
}

func (f *fixture) campaign(t *testing.T) *domain.DMCampaign {
	t.Helper()
	c, err := f.store.GetCampaignByID(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("failed to fetch campaign: %v", err)
	}
	return c
}

func TestScheduleDM_SendsImmediatelyWithoutFutureDate(t *testing.T) {
	f := newFixture(t)

	msg := f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID:      "camp-1",
		Target:          domain.MessageTarget{UserID: "u-1", Username: "sam_01"},
		Personalization: map[string]string{"username": "sam_01"},
	})

	if msg == nil {
		t.Fatal("expected a message, got nil")
	}
	assert.Equal(t, domain.MessageSent, msg.Status)
	assert.Equal(t, "pm-1", msg.PlatformMessageID)
	assert.Equal(t, 1, f.recorder.count())
	assert.Equal(t, 1, f.campaign(t).SentMessages)

	// Campaign personalization merged under the message-level values.
	assert.Equal(t, "Hi sam_01, check out the spring sale", msg.Content)
}

func TestScheduleDM_FutureDateDefersSend(t *testing.T) {
	f := newFixture(t)

	future := f.clock.Add(time.Hour)
	msg := f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID: "camp-1",
		Target:     domain.MessageTarget{UserID: "u-1"},
		ScheduledDate: &future,
	})

	if msg == nil {
		t.Fatal("expected a message, got nil")
	}
	assert.Equal(t, domain.MessageScheduled, msg.Status)
	assert.Equal(t, 0, f.recorder.count())
}

func TestScheduleDM_SilentNoOpForMissingOrInactiveCampaign(t *testing.T) {
	f := newFixture(t)

	assert.Nil(t, f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID: "missing",
		Target:     domain.MessageTarget{UserID: "u-1"},
	}))

	f.store.PutCampaign(&domain.DMCampaign{
		ID:          "camp-paused",
		PlatformIDs: []string{"plat-1"},
		Status:      domain.CampaignPaused,
	})
	assert.Nil(t, f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID: "camp-paused",
		Target:     domain.MessageTarget{UserID: "u-1"},
	}))
	assert.Equal(t, 0, f.recorder.count())
}

func TestSendDM_MessagePersonalizationOverridesCampaign(t *testing.T) {
	f := newFixture(t)

	msg := f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID: "camp-1",
		Target:     domain.MessageTarget{UserID: "u-1"},
		Personalization: map[string]string{
			"firstName": "Sam",
			"offer":     "a private discount", // overrides the campaign value
		},
	})

	if msg == nil {
		t.Fatal("expected a message, got nil")
	}
	assert.Equal(t, "Hi Sam, check out a private discount", msg.Content)
}

func TestSendDM_IdempotentOnSentMessage(t *testing.T) {
	f := newFixture(t)

	msg := f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID: "camp-1",
		Target:     domain.MessageTarget{UserID: "u-1"},
	})
	if msg == nil {
		t.Fatal("expected a message, got nil")
	}
	assert.Equal(t, domain.MessageSent, msg.Status)
	assert.Equal(t, 1, f.recorder.count())

	// Second send: true again, adapter not re-invoked, counter untouched.
	assert.True(t, f.disp.SendDM(context.Background(), msg.ID))
	assert.Equal(t, 1, f.recorder.count())
	assert.Equal(t, 1, f.campaign(t).SentMessages)
}

func TestSendDM_RefusesPermanentlyFailedMessage(t *testing.T) {
	f := newFixture(t)
	f.recorder.next = func() (*domain.SendResult, error) {
		return &domain.SendResult{Success: false, Error: "recipient blocked us"}, nil
	}

	msg := f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID: "camp-1",
		Target:     domain.MessageTarget{UserID: "u-1"},
	})
	if msg == nil {
		t.Fatal("expected a message, got nil")
	}
	assert.Equal(t, domain.MessageFailed, msg.Status)
	assert.Equal(t, "recipient blocked us", msg.Error)
	assert.Equal(t, 0, f.campaign(t).SentMessages)

	// A failed message must be explicitly reset before retry.
	f.recorder.next = nil
	assert.False(t, f.disp.SendDM(context.Background(), msg.ID))
	assert.Equal(t, 1, f.recorder.count(), "adapter must not be re-invoked for a failed message")
}

func TestSendDM_ThrottleBlocksSend(t *testing.T) {
	f := newFixture(t)
	f.store.PutCampaign(&domain.DMCampaign{
		ID:              "camp-tight",
		PlatformIDs:     []string{"plat-1"},
		MessageTemplate: "hello",
		ThrottleRate:    1,
		Status:          domain.CampaignActive,
	})

	first := f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID: "camp-tight",
		Target:     domain.MessageTarget{UserID: "u-1"},
	})
	if first == nil {
		t.Fatal("expected a message, got nil")
	}
	assert.Equal(t, domain.MessageSent, first.Status)

	// Second message in the same hour is deferred, not failed.
	second := f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID: "camp-tight",
		Target:     domain.MessageTarget{UserID: "u-2"},
	})
	if second == nil {
		t.Fatal("expected a message, got nil")
	}
	assert.Equal(t, domain.MessagePending, second.Status)
	assert.Equal(t, 1, f.recorder.count())

	// After the window rolls, the deferred message can be sent.
	f.clock = f.clock.Add(61 * time.Minute)
	assert.True(t, f.disp.SendDM(context.Background(), second.ID))
	assert.Equal(t, 2, f.recorder.count())
}

func TestSendDM_PanickingAdapterFailsMessage(t *testing.T) {
	f := newFixture(t)
	f.recorder.next = func() (*domain.SendResult, error) {
		panic("adapter bug")
	}

	msg := f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID: "camp-1",
		Target:     domain.MessageTarget{UserID: "u-1"},
	})
	if msg == nil {
		t.Fatal("expected a message, got nil")
	}
	assert.Equal(t, domain.MessageFailed, msg.Status)
	assert.Contains(t, msg.Error, "panicked")
}

func TestRecordEngagement(t *testing.T) {
	f := newFixture(t)

	msg := f.disp.ScheduleDM(context.Background(), ScheduleDMInput{
		CampaignID: "camp-1",
		Target:     domain.MessageTarget{UserID: "u-1"},
	})
	if msg == nil {
		t.Fatal("expected a message, got nil")
	}

	// Opens stamp once and never twice.
	assert.NoError(t, f.disp.RecordEngagement(context.Background(), msg.ID, domain.EngagementOpen))
	assert.NoError(t, f.disp.RecordEngagement(context.Background(), msg.ID, domain.EngagementOpen))

	got, err := f.store.GetMessageByID(context.Background(), msg.ID)
	assert.NoError(t, err)
	assert.NotNil(t, got.OpenedAt)
	assert.Equal(t, domain.MessageSent, got.Status, "opens do not change status")
	assert.Equal(t, 1, f.store.EngagementCount("camp-1", "plat-1", domain.EngagementOpen))

	// Responses and conversions advance the status.
	assert.NoError(t, f.disp.RecordEngagement(context.Background(), msg.ID, domain.EngagementResponse))
	got, _ = f.store.GetMessageByID(context.Background(), msg.ID)
	assert.Equal(t, domain.MessageResponded, got.Status)

	assert.NoError(t, f.disp.RecordEngagement(context.Background(), msg.ID, domain.EngagementConversion))
	got, _ = f.store.GetMessageByID(context.Background(), msg.ID)
	assert.Equal(t, domain.MessageConverted, got.Status)
	assert.NotNil(t, got.RespondedAt)
	assert.NotNil(t, got.ConvertedAt)

	// Unknown message id surfaces not-found to the caller.
	assert.Error(t, f.disp.RecordEngagement(context.Background(), "missing", domain.EngagementOpen))
}
