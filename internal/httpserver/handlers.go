package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sony/gobreaker"

	"campaign/internal/analytics"
	"campaign/internal/domain"
	"campaign/internal/observability"
	"campaign/internal/providers/resend"
	"campaign/internal/providers/twilio"
	"campaign/internal/render"
	"campaign/internal/store"
	"campaign/internal/util"
)

type Executor interface {
	Execute(ctx context.Context, campaignID string, testMode bool, now time.Time) (domain.ExecutionStats, error)
}

type Analytics interface {
	CampaignReport(ctx context.Context, campaignID string) (analytics.CampaignReport, error)
	Overview(ctx context.Context) (analytics.Overview, error)
}

// SendStore is what the direct channel send endpoints need: they locate the
// pending ledger row and update it in place, never insert a fresh one.
type SendStore interface {
	FindPendingSend(ctx context.Context, campaignID, stepID, userID string) (string, bool, error)
	MarkSendSent(ctx context.Context, id, externalID string, now time.Time) error
	MarkSendFailed(ctx context.Context, id, errMsg string, now time.Time) error
	GetSend(ctx context.Context, id string) (store.Send, bool, error)
}

type EmailSender interface {
	SendEmail(ctx context.Context, req resend.SendRequest) (resend.SendResponse, int, []byte, error)
}

type MessageSender interface {
	SendSMS(ctx context.Context, req twilio.SendRequest) (twilio.SendResponse, int, []byte, error)
	SendWhatsApp(ctx context.Context, req twilio.SendRequest) (twilio.SendResponse, int, []byte, error)
}

type API struct {
	Exec      Executor
	Analytics Analytics
	Sends     SendStore
	Email     EmailSender
	Messenger MessageSender
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/campaigns/{id}/execute", a.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/v1/send/email", a.handleSendEmail).Methods(http.MethodPost)
	r.HandleFunc("/v1/send/sms", a.handleSendSMS).Methods(http.MethodPost)
	r.HandleFunc("/v1/send/whatsapp", a.handleSendWhatsApp).Methods(http.MethodPost)
	r.HandleFunc("/v1/analytics", a.handleAnalytics).Methods(http.MethodGet)
	r.HandleFunc("/v1/sends/{id}", a.handleGetSend).Methods(http.MethodGet)
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["id"]
	if campaignID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingID)
		return
	}

	var req domain.ExecuteRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrInvalidJSON)
			return
		}
	}

	stats, err := a.Exec.Execute(r.Context(), campaignID, req.TestMode, util.NowUTC())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCampaignNotFound):
			observability.Executions.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusNotFound, "campaign not found")
		case errors.Is(err, domain.ErrCampaignNotActive),
			errors.Is(err, domain.ErrNoSteps),
			errors.Is(err, domain.ErrNoAudience):
			observability.Executions.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			observability.Executions.WithLabelValues("error").Inc()
			slog.Error("campaign execution failed", "err", err, "campaign_id", campaignID)
			writeError(w, http.StatusInternalServerError, ErrDependency)
		}
		return
	}

	observability.Executions.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "campaign execution scheduled",
		"stats":   stats,
	})
}

func (a *API) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	a.handleChannelSend(w, r, domain.ChannelEmail)
}

func (a *API) handleSendSMS(w http.ResponseWriter, r *http.Request) {
	a.handleChannelSend(w, r, domain.ChannelSMS)
}

func (a *API) handleSendWhatsApp(w http.ResponseWriter, r *http.Request) {
	a.handleChannelSend(w, r, domain.ChannelWhatsApp)
}

func (a *API) handleChannelSend(w http.ResponseWriter, r *http.Request, channel domain.Channel) {
	var req domain.ChannelSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sendID, found, err := a.Sends.FindPendingSend(r.Context(), req.CampaignID, req.StepID, req.UserID)
	if err != nil {
		slog.Error("pending send lookup failed", "err", err, "campaign_id", req.CampaignID, "step_id", req.StepID, "user_id", req.UserID)
		writeError(w, http.StatusInternalServerError, ErrDependency)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, domain.ErrSendNotFound.Error())
		return
	}

	externalID, err := a.send(r.Context(), channel, req)
	if err != nil {
		if mErr := a.Sends.MarkSendFailed(r.Context(), sendID, err.Error(), util.NowUTC()); mErr != nil {
			slog.Error("send failure update failed", "err", mErr, "send_id", sendID)
		}
		slog.Error("channel send failed", "err", err, "send_id", sendID, "channel", channel)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	if err := a.Sends.MarkSendSent(r.Context(), sendID, externalID, util.NowUTC()); err != nil {
		slog.Error("send success update failed", "err", err, "send_id", sendID, "external_id", externalID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": externalID,
	})
}

func (a *API) send(ctx context.Context, channel domain.Channel, req domain.ChannelSendRequest) (string, error) {
	switch channel {
	case domain.ChannelEmail:
		html := render.EmailHTML(req.Content, req.CallToAction, req.CallToActionURL)
		resp, _, _, err := a.Email.SendEmail(ctx, resend.SendRequest{
			To:      req.Recipient,
			Subject: req.Subject,
			HTML:    html,
		})
		return resp.ID, err
	case domain.ChannelSMS:
		resp, _, _, err := a.Messenger.SendSMS(ctx, twilio.SendRequest{
			To:   util.NormalizePhone(req.Recipient),
			Body: req.Content,
		})
		return resp.Sid, err
	default:
		resp, _, _, err := a.Messenger.SendWhatsApp(ctx, twilio.SendRequest{
			To:   util.NormalizePhone(req.Recipient),
			Body: req.Content,
		})
		return resp.Sid, err
	}
}

func (a *API) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("campaignId")

	if campaignID == "" {
		ov, err := a.Analytics.Overview(r.Context())
		if err != nil {
			slog.Error("analytics overview failed", "err", err)
			writeError(w, http.StatusInternalServerError, ErrDependency)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"overview":        ov.Overview,
			"recentCampaigns": ov.RecentCampaigns,
		})
		return
	}

	report, err := a.Analytics.CampaignReport(r.Context(), campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		slog.Error("campaign analytics failed", "err", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, ErrDependency)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"campaign":   report.Campaign,
		"metrics":    report.Metrics,
		"byChannel":  report.ByChannel,
		"dailyStats": report.DailyStats,
	})
}

func (a *API) handleGetSend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	send, found, err := a.Sends.GetSend(r.Context(), id)
	if err != nil {
		slog.Error("send lookup failed", "err", err, "id", id)
		writeError(w, http.StatusInternalServerError, ErrDependency)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, send)
}

// DispatchRunner runs one queue processing batch.
type DispatchRunner interface {
	ProcessDue(ctx context.Context, now time.Time) (domain.DispatchStats, error)
}

// DispatchAPI hosts the queue processing endpoint the external scheduler
// hits every few minutes.
type DispatchAPI struct {
	Runner DispatchRunner
	Secret string
}

func (d *DispatchAPI) Register(r *mux.Router) {
	r.Handle("/v1/queue/process",
		BearerAuth(d.Secret)(http.HandlerFunc(d.handleProcess)),
	).Methods(http.MethodPost)
}

func (d *DispatchAPI) handleProcess(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Runner.ProcessDue(r.Context(), util.NowUTC())
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"message": "batch stopped early, provider circuit open; remaining sends stay pending",
				"stats":   stats,
			})
			return
		}
		slog.Error("queue processing failed", "err", err)
		writeError(w, http.StatusInternalServerError, ErrDependency)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "queue processed",
		"stats":   stats,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"error":   msg,
	})
}
