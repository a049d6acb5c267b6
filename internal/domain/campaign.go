package domain

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

type MessageStatus string

const (
	MessagePending   MessageStatus = "PENDING"
	MessageScheduled MessageStatus = "SCHEDULED"
	MessageSending   MessageStatus = "SENDING"
	MessageSent      MessageStatus = "SENT"
	MessageFailed    MessageStatus = "FAILED"
	MessageResponded MessageStatus = "RESPONDED"
	MessageConverted MessageStatus = "CONVERTED"
)

// EngagementKind names the trackable per-message engagement events.
type EngagementKind string

const (
	EngagementOpen       EngagementKind = "open"
	EngagementResponse   EngagementKind = "response"
	EngagementConversion EngagementKind = "conversion"
)

// DMCampaign holds the template and throttle settings shared by all messages
// in an outreach campaign.
type DMCampaign struct {
	ID              string            `json:"id"`
	ClientID        string            `json:"client_id"`
	Name            string            `json:"name"`
	PlatformIDs     []string          `json:"platform_ids"`
	MessageTemplate string            `json:"message_template"`
	Personalization map[string]string `json:"personalization"`
	ThrottleRate    int               `json:"throttle_rate"` // max sends per hour
	Status          CampaignStatus    `json:"status"`
	SentMessages    int               `json:"sent_messages"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// MessageTarget identifies the recipient on the destination platform.
type MessageTarget struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// DMMessage is one outbound direct message belonging to a campaign. Content
// holds the campaign template until send time, when the rendered text
// overwrites it.
type DMMessage struct {
	ID                string            `json:"id"`
	CampaignID        string            `json:"campaign_id"`
	Content           string            `json:"content"`
	Status            MessageStatus     `json:"status"`
	Target            MessageTarget     `json:"target"`
	Personalization   map[string]string `json:"personalization,omitempty"`
	ScheduledDate     *time.Time        `json:"scheduled_date,omitempty"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
	OpenedAt          *time.Time        `json:"opened_at,omitempty"`
	RespondedAt       *time.Time        `json:"responded_at,omitempty"`
	ConvertedAt       *time.Time        `json:"converted_at,omitempty"`
	PlatformMessageID string            `json:"platform_message_id,omitempty"`
	Error             string            `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Platform is a connected destination integration. Type selects the
// execution adapter; ID is what tasks and campaigns reference.
type Platform struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Type     string `json:"type"` // e.g. "onlyfans", "instagram", "twitter"
	Name     string `json:"name"`
}
