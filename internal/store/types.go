package store

import "time"

type Campaign struct {
	ID                    string
	Name                  string
	Status                string
	Type                  string
	EstimatedAudienceSize int
	ActualAudienceSize    int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type CampaignStep struct {
	ID              string
	CampaignID      string
	StepNumber      int
	Channel         string
	Subject         string
	Content         string
	CallToAction    string
	CallToActionURL string
	DelayDays       int
	DelayHours      int
	DelayMinutes    int
}

// Recipient is resolved from the users table at execution time and copied
// onto each send row; it is not persisted as its own entity.
type Recipient struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

type Send struct {
	ID                string
	CampaignID        string
	StepID            string
	UserID            string
	Channel           string
	Recipient         string
	Status            string
	ScheduledSendTime time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	OpenedAt          *time.Time
	ClickedAt         *time.Time
	ConvertedAt       *time.Time
	BouncedAt         *time.Time
	ComplainedAt      *time.Time
	ErrorMessage      string
	ExternalID        string
	RevenueGenerated  float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type SendInsert struct {
	ID                string
	CampaignID        string
	StepID            string
	UserID            string
	Channel           string
	Recipient         string
	ScheduledSendTime time.Time
	Now               time.Time
}

// DueSend is a pending send joined with the step content the dispatcher
// needs to deliver it.
type DueSend struct {
	ID                string
	CampaignID        string
	StepID            string
	UserID            string
	Channel           string
	Recipient         string
	Subject           string
	Content           string
	CallToAction      string
	CallToActionURL   string
	ScheduledSendTime time.Time
}

// DeliveryEvent is one raw provider callback, appended to campaign_analytics
// as an audit row.
type DeliveryEvent struct {
	Provider   string
	ExternalID string
	EventType  string
	ErrorCode  string
	Payload    any
	OccurredAt *time.Time
}

// SendCounts holds the per-scope aggregate the analytics layer reports.
// Sent counts every row that was successfully handed to a provider
// (sent_at set), regardless of how far delivery tracking moved it since.
type SendCounts struct {
	Total     int
	Sent      int
	Failed    int
	Pending   int
	Cancelled int
	Delivered int
	Opened    int
	Clicked   int
	Converted int
	Revenue   float64
}

type ChannelStat struct {
	Channel   string
	Total     int
	Sent      int
	Failed    int
	Delivered int
}

type DailyStat struct {
	Day     time.Time
	Sent    int
	Opened  int
	Clicked int
}

type CampaignSummary struct {
	ID     string
	Name   string
	Status string
	Counts SendCounts
}
