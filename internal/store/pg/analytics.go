package pg

import (
	"context"

	"campaign/internal/store"
)

// Aggregate queries backing the analytics layer. All of them are pure reads
// over campaign_sends; an empty ledger yields zero counts, never an error.

const sendCountsSelect = `
	SELECT COUNT(*),
	       COUNT(*) FILTER (WHERE sent_at IS NOT NULL),
	       COUNT(*) FILTER (WHERE status='failed'),
	       COUNT(*) FILTER (WHERE status='pending'),
	       COUNT(*) FILTER (WHERE status='cancelled'),
	       COUNT(*) FILTER (WHERE delivered_at IS NOT NULL),
	       COUNT(*) FILTER (WHERE opened_at IS NOT NULL),
	       COUNT(*) FILTER (WHERE clicked_at IS NOT NULL),
	       COUNT(*) FILTER (WHERE converted_at IS NOT NULL),
	       COALESCE(SUM(revenue_generated),0)
	FROM campaign_sends`

// SendCounts aggregates the ledger for one campaign, or for every campaign
// when campaignID is empty.
func (s *Store) SendCounts(ctx context.Context, campaignID string) (store.SendCounts, error) {
	q := sendCountsSelect
	args := []any{}
	if campaignID != "" {
		q += ` WHERE campaign_id=$1`
		args = append(args, campaignID)
	}

	var c store.SendCounts
	err := s.DB.QueryRow(ctx, q, args...).Scan(&c.Total, &c.Sent, &c.Failed, &c.Pending,
		&c.Cancelled, &c.Delivered, &c.Opened, &c.Clicked, &c.Converted, &c.Revenue)
	return c, err
}

func (s *Store) ChannelBreakdown(ctx context.Context, campaignID string) ([]store.ChannelStat, error) {
	q := `
		SELECT channel, COUNT(*),
		       COUNT(*) FILTER (WHERE sent_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE status='failed'),
		       COUNT(*) FILTER (WHERE delivered_at IS NOT NULL)
		FROM campaign_sends`
	args := []any{}
	if campaignID != "" {
		q += ` WHERE campaign_id=$1`
		args = append(args, campaignID)
	}
	q += ` GROUP BY channel ORDER BY channel`

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ChannelStat
	for rows.Next() {
		var c store.ChannelStat
		if err := rows.Scan(&c.Channel, &c.Total, &c.Sent, &c.Failed, &c.Delivered); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DailyStats(ctx context.Context, campaignID string, days int) ([]store.DailyStat, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT date_trunc('day', sent_at) AS day,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE opened_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE clicked_at IS NOT NULL)
		FROM campaign_sends
		WHERE campaign_id=$1 AND sent_at IS NOT NULL
		  AND sent_at >= now() - ($2 || ' days')::interval
		GROUP BY day ORDER BY day
	`, campaignID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DailyStat
	for rows.Next() {
		var d store.DailyStat
		if err := rows.Scan(&d.Day, &d.Sent, &d.Opened, &d.Clicked); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecentCampaigns returns the newest campaigns with their send counts.
func (s *Store) RecentCampaigns(ctx context.Context, limit int) ([]store.CampaignSummary, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT c.id, c.name, c.status,
		       COUNT(cs.id),
		       COUNT(cs.id) FILTER (WHERE cs.sent_at IS NOT NULL),
		       COUNT(cs.id) FILTER (WHERE cs.status='failed'),
		       COUNT(cs.id) FILTER (WHERE cs.status='pending'),
		       COUNT(cs.id) FILTER (WHERE cs.delivered_at IS NOT NULL),
		       COUNT(cs.id) FILTER (WHERE cs.opened_at IS NOT NULL),
		       COUNT(cs.id) FILTER (WHERE cs.clicked_at IS NOT NULL),
		       COUNT(cs.id) FILTER (WHERE cs.converted_at IS NOT NULL),
		       COALESCE(SUM(cs.revenue_generated),0)
		FROM campaigns c
		LEFT JOIN campaign_sends cs ON cs.campaign_id = c.id
		GROUP BY c.id, c.name, c.status, c.created_at
		ORDER BY c.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.CampaignSummary
	for rows.Next() {
		var cs store.CampaignSummary
		if err := rows.Scan(&cs.ID, &cs.Name, &cs.Status,
			&cs.Counts.Total, &cs.Counts.Sent, &cs.Counts.Failed, &cs.Counts.Pending,
			&cs.Counts.Delivered, &cs.Counts.Opened, &cs.Counts.Clicked,
			&cs.Counts.Converted, &cs.Counts.Revenue); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
