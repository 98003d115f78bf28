// Package analytics derives campaign metrics from the send ledger. Pure
// reads, no side effects; an empty ledger yields zero counts and "0.00"
// rates, never a division by zero.
package analytics

import (
	"context"
	"fmt"
	"time"

	"campaign/internal/domain"
	"campaign/internal/store"
)

const (
	recentCampaignLimit = 5
	dailyStatsDays      = 30
)

type Store interface {
	GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error)
	SendCounts(ctx context.Context, campaignID string) (store.SendCounts, error)
	ChannelBreakdown(ctx context.Context, campaignID string) ([]store.ChannelStat, error)
	DailyStats(ctx context.Context, campaignID string, days int) ([]store.DailyStat, error)
	RecentCampaigns(ctx context.Context, limit int) ([]store.CampaignSummary, error)
}

type Aggregator struct {
	Store Store
}

// Metrics are the per-scope counts and derived rates. Rates are percentages
// rendered to two decimals, "0.00" when nothing was sent.
type Metrics struct {
	TotalSends     int     `json:"totalSends"`
	TotalSent      int     `json:"totalSent"`
	TotalFailed    int     `json:"totalFailed"`
	TotalPending   int     `json:"totalPending"`
	TotalDelivered int     `json:"totalDelivered"`
	TotalOpened    int     `json:"totalOpened"`
	TotalClicked   int     `json:"totalClicked"`
	TotalConverted int     `json:"totalConverted"`
	OpenRate       string  `json:"openRate"`
	ClickRate      string  `json:"clickRate"`
	ConversionRate string  `json:"conversionRate"`
	Revenue        float64 `json:"revenue"`
}

type ChannelMetrics struct {
	Channel   string `json:"channel"`
	Total     int    `json:"total"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Delivered int    `json:"delivered"`
}

type DailyStat struct {
	Date    string `json:"date"`
	Sent    int    `json:"sent"`
	Opened  int    `json:"opened"`
	Clicked int    `json:"clicked"`
}

type CampaignInfo struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Status             string `json:"status"`
	ActualAudienceSize int    `json:"actualAudienceSize"`
}

type CampaignReport struct {
	Campaign   CampaignInfo     `json:"campaign"`
	Metrics    Metrics          `json:"metrics"`
	ByChannel  []ChannelMetrics `json:"byChannel"`
	DailyStats []DailyStat      `json:"dailyStats"`
}

type CampaignSummary struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	Metrics Metrics `json:"metrics"`
}

type Overview struct {
	Overview        Metrics           `json:"overview"`
	RecentCampaigns []CampaignSummary `json:"recentCampaigns"`
}

// CampaignReport aggregates one campaign's ledger.
func (a *Aggregator) CampaignReport(ctx context.Context, campaignID string) (CampaignReport, error) {
	c, found, err := a.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return CampaignReport{}, err
	}
	if !found {
		return CampaignReport{}, domain.ErrCampaignNotFound
	}

	counts, err := a.Store.SendCounts(ctx, campaignID)
	if err != nil {
		return CampaignReport{}, err
	}
	channels, err := a.Store.ChannelBreakdown(ctx, campaignID)
	if err != nil {
		return CampaignReport{}, err
	}
	daily, err := a.Store.DailyStats(ctx, campaignID, dailyStatsDays)
	if err != nil {
		return CampaignReport{}, err
	}

	report := CampaignReport{
		Campaign: CampaignInfo{
			ID:                 c.ID,
			Name:               c.Name,
			Status:             c.Status,
			ActualAudienceSize: c.ActualAudienceSize,
		},
		Metrics:    buildMetrics(counts),
		ByChannel:  make([]ChannelMetrics, 0, len(channels)),
		DailyStats: make([]DailyStat, 0, len(daily)),
	}
	for _, ch := range channels {
		report.ByChannel = append(report.ByChannel, ChannelMetrics{
			Channel: ch.Channel, Total: ch.Total, Sent: ch.Sent,
			Failed: ch.Failed, Delivered: ch.Delivered,
		})
	}
	for _, d := range daily {
		report.DailyStats = append(report.DailyStats, DailyStat{
			Date: d.Day.Format(time.DateOnly), Sent: d.Sent, Opened: d.Opened, Clicked: d.Clicked,
		})
	}
	return report, nil
}

// Overview aggregates the whole ledger plus the newest campaigns.
func (a *Aggregator) Overview(ctx context.Context) (Overview, error) {
	counts, err := a.Store.SendCounts(ctx, "")
	if err != nil {
		return Overview{}, err
	}
	recent, err := a.Store.RecentCampaigns(ctx, recentCampaignLimit)
	if err != nil {
		return Overview{}, err
	}

	ov := Overview{
		Overview:        buildMetrics(counts),
		RecentCampaigns: make([]CampaignSummary, 0, len(recent)),
	}
	for _, r := range recent {
		ov.RecentCampaigns = append(ov.RecentCampaigns, CampaignSummary{
			ID:      r.ID,
			Name:    r.Name,
			Status:  r.Status,
			Metrics: buildMetrics(r.Counts),
		})
	}
	return ov, nil
}

func buildMetrics(c store.SendCounts) Metrics {
	return Metrics{
		TotalSends:     c.Total,
		TotalSent:      c.Sent,
		TotalFailed:    c.Failed,
		TotalPending:   c.Pending,
		TotalDelivered: c.Delivered,
		TotalOpened:    c.Opened,
		TotalClicked:   c.Clicked,
		TotalConverted: c.Converted,
		OpenRate:       FormatRate(c.Opened, c.Sent),
		ClickRate:      FormatRate(c.Clicked, c.Sent),
		ConversionRate: FormatRate(c.Converted, c.Sent),
		Revenue:        c.Revenue,
	}
}

// FormatRate renders numerator/denominator as a percentage with two
// decimals. A zero denominator is defined as "0.00".
func FormatRate(numerator, denominator int) string {
	if denominator == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(numerator)/float64(denominator)*100)
}
