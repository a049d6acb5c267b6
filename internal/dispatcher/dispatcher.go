// Package dispatcher runs DM campaigns on top of the execution core: it
// creates campaign messages, merges campaign- and message-level
// personalization through the template engine, gates sends on the
// per-(campaign, platform) rate limiter, and records delivery and engagement
// state. DMs are not retried here; a caller wanting retries wraps the send
// in a ScheduledTask.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/events"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/ratelimit"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/template"
)

type Dispatcher struct {
	store    domain.CampaignStore
	adapters domain.AdapterResolver
	limiter  *ratelimit.Limiter
	bus      *events.Bus
	now      func() time.Time
}

type Option func(*Dispatcher)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(store domain.CampaignStore, adapters domain.AdapterResolver, limiter *ratelimit.Limiter, bus *events.Bus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		adapters: adapters,
		limiter:  limiter,
		bus:      bus,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ScheduleDMInput describes a message to create under a campaign.
type ScheduleDMInput struct {
	CampaignID      string
	Target          domain.MessageTarget
	ScheduledDate   *time.Time
	Personalization map[string]string
}

// ScheduleDM creates a campaign message and, unless it carries a future
// scheduled date, sends it immediately. Missing or inactive campaigns are a
// silent no-op (logged, nil returned) so bulk enqueue loops keep going.
func (d *Dispatcher) ScheduleDM(ctx context.Context, in ScheduleDMInput) *domain.DMMessage {
	campaign, err := d.store.GetCampaignByID(ctx, in.CampaignID)
	if err != nil {
		slog.ErrorContext(ctx, "campaign not found for DM scheduling", "campaign_id", in.CampaignID, "error", err)
		return nil
	}
	if campaign.Status != domain.CampaignActive {
		slog.Info("campaign is not active, skipping DM", "campaign_id", campaign.ID, "status", campaign.Status)
		return nil
	}

	now := d.now().UTC()
	status := domain.MessagePending
	if in.ScheduledDate != nil && in.ScheduledDate.After(now) {
		status = domain.MessageScheduled
	}

	msg := &domain.DMMessage{
		ID:              uuid.NewString(),
		CampaignID:      campaign.ID,
		Content:         campaign.MessageTemplate, // rendered at send time
		Status:          status,
		Target:          in.Target,
		Personalization: in.Personalization,
		ScheduledDate:   in.ScheduledDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "failed to persist DM message", "campaign_id", campaign.ID, "error", err)
		return nil
	}

	d.bus.Emit(domain.EventDMScheduled, map[string]any{"message_id": msg.ID, "campaign_id": campaign.ID, "status": string(status)})

	if status == domain.MessagePending {
		d.SendDM(ctx, msg.ID)
		// Return the stored state rather than our pre-send copy.
		if sent, err := d.store.GetMessageByID(ctx, msg.ID); err == nil {
			return sent
		}
	}
	return msg
}

// SendDM renders and dispatches one message. Returns true when the message
// is (or already was) sent. Calling it on a SENT message is a no-op success;
// a FAILED message is refused until explicitly reset.
func (d *Dispatcher) SendDM(ctx context.Context, messageID string) bool {
	msg, err := d.store.GetMessageByID(ctx, messageID)
	if err != nil {
		slog.ErrorContext(ctx, "DM message not found", "message_id", messageID, "error", err)
		return false
	}

	switch msg.Status {
	case domain.MessageSent, domain.MessageResponded, domain.MessageConverted:
		slog.Info("DM already sent, nothing to do", "message_id", messageID)
		return true
	case domain.MessageFailed:
		slog.Error("refusing to resend failed DM without explicit reset", "message_id", messageID)
		return false
	}

	campaign, err := d.store.GetCampaignByID(ctx, msg.CampaignID)
	if err != nil {
		slog.ErrorContext(ctx, "campaign not found for DM send", "message_id", messageID, "campaign_id", msg.CampaignID, "error", err)
		return false
	}
	if len(campaign.PlatformIDs) == 0 {
		slog.Error("campaign has no platform integration", "campaign_id", campaign.ID)
		return false
	}
	platformID := campaign.PlatformIDs[0]

	adapter, err := d.adapters.Resolve(ctx, platformID)
	if err != nil {
		slog.ErrorContext(ctx, "no adapter for campaign platform", "campaign_id", campaign.ID, "platform_id", platformID, "error", err)
		return false
	}

	if !d.limiter.Check(campaign.ID, platformID, campaign.ThrottleRate) {
		slog.Info("campaign throttle reached, deferring DM", "campaign_id", campaign.ID, "message_id", messageID, "throttle_rate", campaign.ThrottleRate)
		return false
	}

	// Campaign personalization is the base; message-level values win.
	merged := make(map[string]string, len(campaign.Personalization)+len(msg.Personalization))
	for k, v := range campaign.Personalization {
		merged[k] = v
	}
	for k, v := range msg.Personalization {
		merged[k] = v
	}
	rendered := template.Apply(campaign.MessageTemplate, merged, "")

	now := d.now().UTC()
	msg.Status = domain.MessageSending
	msg.Content = rendered
	msg.SentAt = &now
	msg.UpdatedAt = now
	if err := d.store.UpdateMessage(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "failed to mark DM sending", "message_id", messageID, "error", err)
		return false
	}

	result, sendErr := d.send(ctx, adapter, domain.DirectMessage{
		UserID:   msg.Target.UserID,
		Username: msg.Target.Username,
		Message:  rendered,
	})

	now = d.now().UTC()
	msg.UpdatedAt = now
	switch {
	case sendErr != nil:
		msg.Status = domain.MessageFailed
		msg.Error = sendErr.Error()
	case result != nil && result.Success:
		msg.Status = domain.MessageSent
		msg.PlatformMessageID = result.MessageID
		msg.Error = ""
	default:
		msg.Status = domain.MessageFailed
		if result != nil && result.Error != "" {
			msg.Error = result.Error
		} else {
			msg.Error = "adapter reported failure"
		}
	}
	if err := d.store.UpdateMessage(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "failed to record DM send outcome", "message_id", messageID, "error", err)
		return false
	}

	if msg.Status != domain.MessageSent {
		d.bus.Emit(domain.EventDMFailed, map[string]any{"message_id": msg.ID, "campaign_id": campaign.ID, "error": msg.Error})
		slog.Error("DM send failed", "message_id", msg.ID, "campaign_id", campaign.ID, "error", msg.Error)
		return false
	}

	d.limiter.Record(campaign.ID, platformID)
	if err := d.store.IncrementSentMessages(ctx, campaign.ID); err != nil {
		slog.ErrorContext(ctx, "failed to increment campaign sent counter", "campaign_id", campaign.ID, "error", err)
	}

	d.bus.Emit(domain.EventDMSent, map[string]any{"message_id": msg.ID, "campaign_id": campaign.ID, "platform_message_id": msg.PlatformMessageID})
	slog.Info("DM sent", "message_id", msg.ID, "campaign_id", campaign.ID)
	return true
}

// send shields the dispatcher from a panicking adapter.
func (d *Dispatcher) send(ctx context.Context, adapter domain.ExecutionAdapter, dm domain.DirectMessage) (result *domain.SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errPanic{r}
		}
	}()
	return adapter.SendDirectMessage(ctx, dm)
}

type errPanic struct{ v any }

func (e errPanic) Error() string { return "adapter panicked: " + stringify(e.v) }

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic"
}

// RecordEngagement stamps an engagement event on a message exactly once per
// kind and bumps the per-(campaign, platform) metric counter. Responses and
// conversions also advance the message status.
func (d *Dispatcher) RecordEngagement(ctx context.Context, messageID string, kind domain.EngagementKind) error {
	msg, err := d.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	campaign, err := d.store.GetCampaignByID(ctx, msg.CampaignID)
	if err != nil {
		return err
	}

	now := d.now().UTC()
	already := false
	switch kind {
	case domain.EngagementOpen:
		if msg.OpenedAt != nil {
			already = true
		} else {
			msg.OpenedAt = &now
		}
	case domain.EngagementResponse:
		if msg.RespondedAt != nil {
			already = true
		} else {
			msg.RespondedAt = &now
			msg.Status = domain.MessageResponded
		}
	case domain.EngagementConversion:
		if msg.ConvertedAt != nil {
			already = true
		} else {
			msg.ConvertedAt = &now
			msg.Status = domain.MessageConverted
		}
	default:
		slog.Error("unknown engagement kind", "message_id", messageID, "kind", kind)
		return nil
	}

	if already {
		slog.Info("engagement already recorded", "message_id", messageID, "kind", kind)
		return nil
	}

	msg.UpdatedAt = now
	if err := d.store.UpdateMessage(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "failed to record engagement", "message_id", messageID, "kind", kind, "error", err)
		return err
	}

	platformID := ""
	if len(campaign.PlatformIDs) > 0 {
		platformID = campaign.PlatformIDs[0]
	}
	if err := d.store.IncrementEngagement(ctx, campaign.ID, platformID, kind); err != nil {
		slog.ErrorContext(ctx, "failed to increment engagement metric", "campaign_id", campaign.ID, "kind", kind, "error", err)
	}

	d.bus.Emit(domain.EventDMEngagement, map[string]any{"message_id": messageID, "campaign_id": campaign.ID, "kind": string(kind)})
	return nil
}
