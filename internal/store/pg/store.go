package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campaign/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error) {
	var c store.Campaign
	row := s.DB.QueryRow(ctx, `
		SELECT id, name, status, COALESCE(type,''), COALESCE(estimated_audience_size,0),
		       COALESCE(actual_audience_size,0), created_at, updated_at
		FROM campaigns WHERE id=$1
	`, id)
	err := row.Scan(&c.ID, &c.Name, &c.Status, &c.Type, &c.EstimatedAudienceSize,
		&c.ActualAudienceSize, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Campaign{}, false, nil
		}
		return store.Campaign{}, false, err
	}
	return c, true, nil
}

func (s *Store) GetCampaignStatus(ctx context.Context, id string) (string, bool, error) {
	var st string
	err := s.DB.QueryRow(ctx, `SELECT status FROM campaigns WHERE id=$1`, id).Scan(&st)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return st, true, nil
}

func (s *Store) SetCampaignAudienceSize(ctx context.Context, id string, size int, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET actual_audience_size=$2, updated_at=$3 WHERE id=$1
	`, id, size, now)
	return err
}

func (s *Store) ListSteps(ctx context.Context, campaignID string) ([]store.CampaignStep, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, campaign_id, step_number, channel, COALESCE(subject,''), content,
		       COALESCE(call_to_action,''), COALESCE(call_to_action_url,''),
		       COALESCE(delay_days,0), COALESCE(delay_hours,0), COALESCE(delay_minutes,0)
		FROM campaign_steps WHERE campaign_id=$1 ORDER BY step_number
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []store.CampaignStep
	for rows.Next() {
		var st store.CampaignStep
		if err := rows.Scan(&st.ID, &st.CampaignID, &st.StepNumber, &st.Channel, &st.Subject,
			&st.Content, &st.CallToAction, &st.CallToActionURL,
			&st.DelayDays, &st.DelayHours, &st.DelayMinutes); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *Store) CountAudienceLinks(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM campaign_audiences WHERE campaign_id=$1
	`, campaignID).Scan(&n)
	return n, err
}

// ListRecipients returns subscribed users up to limit. Audience segment
// filtering is intentionally not applied here; see the execution package.
func (s *Store) ListRecipients(ctx context.Context, limit int) ([]store.Recipient, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, COALESCE(name,''), COALESCE(email,''), COALESCE(phone,'')
		FROM users WHERE subscribed ORDER BY created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Recipient
	for rows.Next() {
		var r store.Recipient
		if err := rows.Scan(&r.UserID, &r.Name, &r.Email, &r.Phone); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertSend(ctx context.Context, in store.SendInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaign_sends
			(id, campaign_id, step_id, user_id, channel, recipient, status,
			 scheduled_send_time, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',$7,$8,$8)
	`, in.ID, in.CampaignID, in.StepID, in.UserID, in.Channel, in.Recipient,
		in.ScheduledSendTime, in.Now)
	return err
}

func (s *Store) ListDueSends(ctx context.Context, now time.Time, limit int) ([]store.DueSend, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT cs.id, cs.campaign_id, cs.step_id, cs.user_id, cs.channel,
		       COALESCE(cs.recipient,''), COALESCE(st.subject,''), st.content,
		       COALESCE(st.call_to_action,''), COALESCE(st.call_to_action_url,''),
		       cs.scheduled_send_time
		FROM campaign_sends cs
		JOIN campaign_steps st ON st.id = cs.step_id
		WHERE cs.status='pending' AND cs.scheduled_send_time <= $1
		ORDER BY cs.scheduled_send_time
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DueSend
	for rows.Next() {
		var d store.DueSend
		if err := rows.Scan(&d.ID, &d.CampaignID, &d.StepID, &d.UserID, &d.Channel,
			&d.Recipient, &d.Subject, &d.Content, &d.CallToAction, &d.CallToActionURL,
			&d.ScheduledSendTime); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ClaimSend attempts to move a pending send into sending state. The status
// guard makes the claim atomic: a second dispatcher instance racing on the
// same row affects zero rows and must skip it.
func (s *Store) ClaimSend(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET status='sending', updated_at=$2
		WHERE id=$1 AND status='pending'
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// ReleaseSend undoes a claim that was never dispatched (circuit open).
func (s *Store) ReleaseSend(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET status='pending', updated_at=$2
		WHERE id=$1 AND status='sending'
	`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) MarkSendSent(ctx context.Context, id, externalID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends
		SET status='sent', external_id=$2, sent_at=$3, error_message=NULL, updated_at=$3
		WHERE id=$1
	`, id, externalID, now)
	return err
}

func (s *Store) MarkSendFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET status='failed', error_message=$2, updated_at=$3
		WHERE id=$1
	`, id, errMsg, now)
	return err
}

// CancelPendingSend transitions pending -> cancelled. The guard keeps a send
// that was claimed or finished in the meantime out of reach.
func (s *Store) CancelPendingSend(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET status='cancelled', error_message=$2, updated_at=$3
		WHERE id=$1 AND status='pending'
	`, id, reason, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// FindPendingSend locates the ledger row a direct channel send must update
// in place. Outcomes are never recorded as fresh inserts.
func (s *Store) FindPendingSend(ctx context.Context, campaignID, stepID, userID string) (string, bool, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
		SELECT id FROM campaign_sends
		WHERE campaign_id=$1 AND step_id=$2 AND user_id=$3 AND status IN ('pending','sending')
		ORDER BY created_at LIMIT 1
	`, campaignID, stepID, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (s *Store) GetSend(ctx context.Context, id string) (store.Send, bool, error) {
	var m store.Send
	row := s.DB.QueryRow(ctx, `
		SELECT id, campaign_id, step_id, user_id, channel, COALESCE(recipient,''), status,
		       scheduled_send_time, sent_at, delivered_at, opened_at, clicked_at,
		       converted_at, bounced_at, complained_at, COALESCE(error_message,''),
		       COALESCE(external_id,''), COALESCE(revenue_generated,0), created_at, updated_at
		FROM campaign_sends WHERE id=$1
	`, id)
	err := row.Scan(&m.ID, &m.CampaignID, &m.StepID, &m.UserID, &m.Channel, &m.Recipient,
		&m.Status, &m.ScheduledSendTime, &m.SentAt, &m.DeliveredAt, &m.OpenedAt,
		&m.ClickedAt, &m.ConvertedAt, &m.BouncedAt, &m.ComplainedAt, &m.ErrorMessage,
		&m.ExternalID, &m.RevenueGenerated, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Send{}, false, nil
		}
		return store.Send{}, false, err
	}
	return m, true, nil
}

// Webhook updates are keyed by the provider message id and unconditional:
// provider callback ordering is not guaranteed, every field is a plain
// overwrite, so replays are safe (last write wins).

func (s *Store) UpdateStatusByExternalID(ctx context.Context, externalID, status, errMsg string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET status=$2, error_message=$3, updated_at=$4
		WHERE external_id=$1
	`, externalID, status, nullIfEmpty(errMsg), now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) MarkDeliveredByExternalID(ctx context.Context, externalID string, at, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET status='delivered', delivered_at=$2, updated_at=$3
		WHERE external_id=$1
	`, externalID, at, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) MarkBouncedByExternalID(ctx context.Context, externalID, errMsg string, at, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET status='bounced', bounced_at=$2, error_message=$3, updated_at=$4
		WHERE external_id=$1
	`, externalID, at, nullIfEmpty(errMsg), now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) MarkComplainedByExternalID(ctx context.Context, externalID string, at, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET status='complained', complained_at=$2, updated_at=$3
		WHERE external_id=$1
	`, externalID, at, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) MarkDelayedByExternalID(ctx context.Context, externalID string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET status='delayed', updated_at=$2
		WHERE external_id=$1
	`, externalID, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// SetOpenedByExternalID records an open without changing status.
func (s *Store) SetOpenedByExternalID(ctx context.Context, externalID string, at, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET opened_at=$2, updated_at=$3 WHERE external_id=$1
	`, externalID, at, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// SetClickedByExternalID records a click without changing status.
func (s *Store) SetClickedByExternalID(ctx context.Context, externalID string, at, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_sends SET clicked_at=$2, updated_at=$3 WHERE external_id=$1
	`, externalID, at, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// UnsubscribeRecipientByExternalID flips the subscription flag of the user a
// send belongs to. Applied on spam complaints.
func (s *Store) UnsubscribeRecipientByExternalID(ctx context.Context, externalID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE users SET subscribed=false, updated_at=$2
		FROM campaign_sends cs
		WHERE users.id = cs.user_id AND cs.external_id=$1
	`, externalID, now)
	return err
}

// InvalidateRecipientEmailByExternalID marks the recipient address invalid.
// Applied on hard bounces.
func (s *Store) InvalidateRecipientEmailByExternalID(ctx context.Context, externalID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE users SET email_valid=false, updated_at=$2
		FROM campaign_sends cs
		WHERE users.id = cs.user_id AND cs.external_id=$1
	`, externalID, now)
	return err
}

func (s *Store) InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error {
	b, _ := json.Marshal(in.Payload)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaign_analytics (provider, external_id, event_type, error_code, payload_json, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, in.Provider, in.ExternalID, in.EventType, nullIfEmpty(in.ErrorCode), b, in.OccurredAt)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
