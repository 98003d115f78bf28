package domain

import "errors"

type SendStatus string

const (
	StatusPending    SendStatus = "pending"
	StatusSending    SendStatus = "sending"
	StatusSent       SendStatus = "sent"
	StatusFailed     SendStatus = "failed"
	StatusCancelled  SendStatus = "cancelled"
	StatusQueued     SendStatus = "queued"
	StatusDelivered  SendStatus = "delivered"
	StatusBounced    SendStatus = "bounced"
	StatusComplained SendStatus = "complained"
	StatusDelayed    SendStatus = "delayed"
	StatusUnknown    SendStatus = "unknown"
)

// IsTerminalFailure reports whether a send may never return to pending.
func (s SendStatus) IsTerminalFailure() bool {
	return s == StatusFailed || s == StatusCancelled
}

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

var (
	ErrMissingFields     = errors.New("missing required fields")
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrCampaignNotActive = errors.New("campaign is not active")
	ErrNoSteps           = errors.New("campaign has no steps")
	ErrNoAudience        = errors.New("campaign has no audience")
	ErrSendNotFound      = errors.New("no matching pending send")
)

type ExecuteRequest struct {
	TestMode bool `json:"testMode"`
}

// ExecutionStats is returned by campaign execution.
type ExecutionStats struct {
	TotalUsers     int `json:"totalUsers"`
	TotalSteps     int `json:"totalSteps"`
	TotalScheduled int `json:"totalScheduled"`
}

// DispatchStats is returned by one dispatcher batch.
type DispatchStats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// ChannelSendRequest is the body of the direct channel send endpoints.
// Recipient is an email address for the email channel and an E.164 phone
// number for sms/whatsapp.
type ChannelSendRequest struct {
	CampaignID      string `json:"campaignId"`
	StepID          string `json:"stepId"`
	UserID          string `json:"userId"`
	Recipient       string `json:"recipient"`
	Subject         string `json:"subject,omitempty"`
	Content         string `json:"content"`
	CallToAction    string `json:"callToAction,omitempty"`
	CallToActionURL string `json:"callToActionUrl,omitempty"`
}

func (r ChannelSendRequest) Validate() error {
	if r.CampaignID == "" || r.StepID == "" || r.UserID == "" || r.Recipient == "" || r.Content == "" {
		return ErrMissingFields
	}
	return nil
}

// MapProviderSMSStatus maps a Twilio callback status onto the send ledger
// vocabulary. Unmapped values become an explicit "unknown" status rather
// than being dropped.
func MapProviderSMSStatus(vendor string) SendStatus {
	switch vendor {
	case "queued", "accepted":
		return StatusQueued
	case "sending":
		return StatusSending
	case "sent":
		return StatusSent
	case "delivered":
		return StatusDelivered
	case "undelivered", "failed":
		return StatusFailed
	default:
		return StatusUnknown
	}
}
