// Package execution materializes a campaign definition into scheduled send
// rows: one pending campaign_sends row per resolved recipient and step.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"campaign/internal/domain"
	"campaign/internal/observability"
	"campaign/internal/store"
)

type Store interface {
	GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error)
	ListSteps(ctx context.Context, campaignID string) ([]store.CampaignStep, error)
	CountAudienceLinks(ctx context.Context, campaignID string) (int, error)
	ListRecipients(ctx context.Context, limit int) ([]store.Recipient, error)
	InsertSend(ctx context.Context, in store.SendInsert) error
	SetCampaignAudienceSize(ctx context.Context, id string, size int, now time.Time) error
}

type Executor struct {
	Store Store
	IDGen func() string

	// Recipient caps per execution call.
	TestModeCap int
	AudienceCap int
}

// Execute creates one pending send per (recipient x step), each scheduled at
// now plus the step's own delay offset. Preconditions are checked before any
// row is written; row insertion itself is not transactional, so a mid-batch
// failure leaves earlier rows in place (they are logged and skipped, never
// retried).
func (e *Executor) Execute(ctx context.Context, campaignID string, testMode bool, now time.Time) (domain.ExecutionStats, error) {
	c, found, err := e.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return domain.ExecutionStats{}, err
	}
	if !found {
		return domain.ExecutionStats{}, domain.ErrCampaignNotFound
	}
	if !testMode && c.Status != string(domain.CampaignActive) {
		return domain.ExecutionStats{}, domain.ErrCampaignNotActive
	}

	steps, err := e.Store.ListSteps(ctx, campaignID)
	if err != nil {
		return domain.ExecutionStats{}, err
	}
	if len(steps) == 0 {
		return domain.ExecutionStats{}, domain.ErrNoSteps
	}

	links, err := e.Store.CountAudienceLinks(ctx, campaignID)
	if err != nil {
		return domain.ExecutionStats{}, err
	}
	if links == 0 {
		return domain.ExecutionStats{}, domain.ErrNoAudience
	}

	// Audience links gate execution but are not applied as a recipient
	// filter: every subscribed user up to the cap is targeted. Segment
	// resolution is the extension point here.
	limit := e.AudienceCap
	if testMode {
		limit = e.TestModeCap
	}
	recipients, err := e.Store.ListRecipients(ctx, limit)
	if err != nil {
		return domain.ExecutionStats{}, err
	}

	stats := domain.ExecutionStats{
		TotalUsers: len(recipients),
		TotalSteps: len(steps),
	}

	for _, step := range steps {
		scheduledAt := now.Add(StepDelay(step))
		for _, r := range recipients {
			in := store.SendInsert{
				ID:                e.IDGen(),
				CampaignID:        campaignID,
				StepID:            step.ID,
				UserID:            r.UserID,
				Channel:           step.Channel,
				Recipient:         recipientAddress(step.Channel, r),
				ScheduledSendTime: scheduledAt,
				Now:               now,
			}
			if err := e.Store.InsertSend(ctx, in); err != nil {
				slog.Error("send insert failed",
					"err", err,
					"campaign_id", campaignID,
					"step_id", step.ID,
					"user_id", r.UserID,
				)
				continue
			}
			stats.TotalScheduled++
		}
	}
	observability.SendsScheduled.Add(float64(stats.TotalScheduled))

	if err := e.Store.SetCampaignAudienceSize(ctx, campaignID, len(recipients), now); err != nil {
		slog.Error("campaign audience size update failed", "err", err, "campaign_id", campaignID)
	}

	slog.Info("campaign executed",
		"campaign_id", campaignID,
		"test_mode", testMode,
		"total_users", stats.TotalUsers,
		"total_steps", stats.TotalSteps,
		"total_scheduled", stats.TotalScheduled,
	)
	return stats, nil
}

// StepDelay is the step's offset from execution start. Delays are absolute
// per step, not chained from the previous step's send time.
func StepDelay(st store.CampaignStep) time.Duration {
	minutes := st.DelayDays*1440 + st.DelayHours*60 + st.DelayMinutes
	return time.Duration(minutes) * time.Minute
}

func recipientAddress(channel string, r store.Recipient) string {
	switch domain.Channel(channel) {
	case domain.ChannelEmail:
		return r.Email
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		return r.Phone
	default:
		return ""
	}
}

// Describe renders the validation errors as the human-readable messages the
// execution endpoint returns.
func Describe(err error) string {
	switch err {
	case domain.ErrCampaignNotFound:
		return "campaign not found"
	case domain.ErrCampaignNotActive:
		return "campaign must be active to execute"
	case domain.ErrNoSteps:
		return "campaign has no steps"
	case domain.ErrNoAudience:
		return "campaign has no audience"
	default:
		return fmt.Sprintf("execution failed: %v", err)
	}
}
