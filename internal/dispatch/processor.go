// Package dispatch is the queue processor: each run drains one bounded batch
// of due pending sends and hands every send to its channel's provider.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"campaign/internal/domain"
	"campaign/internal/observability"
	"campaign/internal/providers/resend"
	"campaign/internal/providers/twilio"
	"campaign/internal/render"
	"campaign/internal/store"
)

const DefaultBatchSize = 100

type Store interface {
	ListDueSends(ctx context.Context, now time.Time, limit int) ([]store.DueSend, error)
	GetCampaignStatus(ctx context.Context, id string) (string, bool, error)
	ClaimSend(ctx context.Context, id string, now time.Time) (bool, error)
	ReleaseSend(ctx context.Context, id string, now time.Time) (bool, error)
	MarkSendSent(ctx context.Context, id, externalID string, now time.Time) error
	MarkSendFailed(ctx context.Context, id, errMsg string, now time.Time) error
	CancelPendingSend(ctx context.Context, id, reason string, now time.Time) (bool, error)
}

type EmailSender interface {
	SendEmail(ctx context.Context, req resend.SendRequest) (resend.SendResponse, int, []byte, error)
}

type MessageSender interface {
	SendSMS(ctx context.Context, req twilio.SendRequest) (twilio.SendResponse, int, []byte, error)
	SendWhatsApp(ctx context.Context, req twilio.SendRequest) (twilio.SendResponse, int, []byte, error)
}

type Processor struct {
	Store     Store
	Email     EmailSender
	Messenger MessageSender

	// Optional provider protection, shared across channels.
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker

	BatchSize int
}

// ProcessDue runs one synchronous dispatch batch: due pending sends only,
// claimed one by one (pending -> sending, guarded on current status) before
// any provider call, so overlapping invocations never double-send. A failure
// on one send never aborts the rest of the batch. When the circuit breaker
// opens, the claimed row is released back to pending and the batch ends
// early; everything still pending is picked up by the next scheduled run.
func (p *Processor) ProcessDue(ctx context.Context, now time.Time) (domain.DispatchStats, error) {
	batch := p.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	due, err := p.Store.ListDueSends(ctx, now, batch)
	if err != nil {
		return domain.DispatchStats{}, err
	}

	stats := domain.DispatchStats{Total: len(due)}
	campaignStatus := map[string]string{}

	for _, d := range due {
		status, ok := campaignStatus[d.CampaignID]
		if !ok {
			var found bool
			status, found, err = p.Store.GetCampaignStatus(ctx, d.CampaignID)
			if err != nil {
				slog.Error("campaign status lookup failed", "err", err, "send_id", d.ID, "campaign_id", d.CampaignID)
				continue
			}
			if !found {
				status = ""
			}
			campaignStatus[d.CampaignID] = status
		}

		// Safety valve: a send must not race ahead of a paused or
		// deleted campaign.
		if status != string(domain.CampaignActive) {
			reason := fmt.Sprintf("campaign %s is not active (status: %s)", d.CampaignID, status)
			if status == "" {
				reason = fmt.Sprintf("campaign %s no longer exists", d.CampaignID)
			}
			if _, err := p.Store.CancelPendingSend(ctx, d.ID, reason, time.Now().UTC()); err != nil {
				slog.Error("send cancel failed", "err", err, "send_id", d.ID)
				continue
			}
			observability.Dispatches.WithLabelValues(d.Channel, "cancelled").Inc()
			stats.Cancelled++
			continue
		}

		claimed, err := p.Store.ClaimSend(ctx, d.ID, time.Now().UTC())
		if err != nil {
			slog.Error("send claim failed", "err", err, "send_id", d.ID)
			continue
		}
		if !claimed {
			// Another dispatcher instance got here first.
			continue
		}

		extID, err := p.deliver(ctx, d)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Provider protection tripped, not a send failure. Put the
			// row back and let the next run retry the rest.
			if _, relErr := p.Store.ReleaseSend(ctx, d.ID, time.Now().UTC()); relErr != nil {
				slog.Error("send release failed", "err", relErr, "send_id", d.ID)
			}
			slog.Warn("dispatch batch stopped early, provider circuit open", "send_id", d.ID)
			return stats, err
		}
		if err != nil {
			if mErr := p.Store.MarkSendFailed(ctx, d.ID, err.Error(), time.Now().UTC()); mErr != nil {
				slog.Error("send failure update failed", "err", mErr, "send_id", d.ID)
			}
			observability.Dispatches.WithLabelValues(d.Channel, "failed").Inc()
			stats.Failed++
			continue
		}

		if err := p.Store.MarkSendSent(ctx, d.ID, extID, time.Now().UTC()); err != nil {
			slog.Error("send success update failed", "err", err, "send_id", d.ID, "external_id", extID)
		}
		observability.Dispatches.WithLabelValues(d.Channel, "sent").Inc()
		stats.Processed++
	}

	slog.Info("dispatch batch finished",
		"total", stats.Total,
		"processed", stats.Processed,
		"failed", stats.Failed,
		"cancelled", stats.Cancelled,
	)
	return stats, nil
}

// deliver hands one claimed send to its channel's provider and returns the
// provider message id. An unrecognized channel or a missing recipient
// address is an explicit error outcome, not a silent skip.
func (p *Processor) deliver(ctx context.Context, d store.DueSend) (string, error) {
	if d.Recipient == "" {
		return "", fmt.Errorf("missing recipient address for channel %s", d.Channel)
	}

	var call func(context.Context) (string, int, error)
	switch domain.Channel(d.Channel) {
	case domain.ChannelEmail:
		call = func(ctx context.Context) (string, int, error) {
			html := render.EmailHTML(d.Content, d.CallToAction, d.CallToActionURL)
			resp, httpStatus, _, err := p.Email.SendEmail(ctx, resend.SendRequest{
				To:      d.Recipient,
				Subject: d.Subject,
				HTML:    html,
			})
			return resp.ID, httpStatus, err
		}
	case domain.ChannelSMS:
		call = func(ctx context.Context) (string, int, error) {
			resp, httpStatus, _, err := p.Messenger.SendSMS(ctx, twilio.SendRequest{To: d.Recipient, Body: d.Content})
			return resp.Sid, httpStatus, err
		}
	case domain.ChannelWhatsApp:
		call = func(ctx context.Context) (string, int, error) {
			resp, httpStatus, _, err := p.Messenger.SendWhatsApp(ctx, twilio.SendRequest{To: d.Recipient, Body: d.Content})
			return resp.Sid, httpStatus, err
		}
	default:
		return "", fmt.Errorf("unsupported channel: %s", d.Channel)
	}

	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	provider := providerLabel(d.Channel)
	start := time.Now()
	res, err := p.executeWithBreaker(ctx, call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.ProviderSend.WithLabelValues(provider, "cb_open", "0").Inc()
		return "", err
	}
	if err != nil {
		httpStatus := 0
		var pce providerCallError
		if errors.As(err, &pce) {
			httpStatus = pce.httpStatus
		}
		observability.ProviderSend.WithLabelValues(provider, "error", strconv.Itoa(httpStatus)).Inc()
		return "", err
	}

	r := res.(sendResult)
	observability.ProviderSend.WithLabelValues(provider, "ok", strconv.Itoa(r.httpStatus)).Inc()
	observability.ProviderLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	return r.externalID, nil
}

func (p *Processor) executeWithBreaker(ctx context.Context, call func(context.Context) (string, int, error)) (any, error) {
	wrapped := func() (any, error) {
		reqCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
		defer cancel()

		externalID, httpStatus, err := call(reqCtx)
		if err != nil {
			return nil, providerCallError{err: err, httpStatus: httpStatus}
		}
		return sendResult{externalID: externalID, httpStatus: httpStatus}, nil
	}

	if p.Breaker == nil {
		return wrapped()
	}
	return p.Breaker.Execute(wrapped)
}

func providerLabel(channel string) string {
	if domain.Channel(channel) == domain.ChannelEmail {
		return "resend"
	}
	return "twilio"
}

type sendResult struct {
	externalID string
	httpStatus int
}

type providerCallError struct {
	err        error
	httpStatus int
}

func (e providerCallError) Error() string { return e.err.Error() }
func (e providerCallError) Unwrap() error { return e.err }
