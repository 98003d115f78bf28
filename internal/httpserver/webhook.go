package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"campaign/internal/domain"
	"campaign/internal/observability"
	"campaign/internal/providers/resend"
	sqsqueue "campaign/internal/queue/sqs"
	"campaign/internal/store"
	"campaign/internal/util"
)

// WebhookStore is the ledger surface delivery callbacks write through. All
// updates are keyed by the provider message id and unconditional, so a
// replayed callback re-applies the same overwrite (last write wins).
type WebhookStore interface {
	UpdateStatusByExternalID(ctx context.Context, externalID, status, errMsg string, now time.Time) (bool, error)
	MarkDeliveredByExternalID(ctx context.Context, externalID string, at, now time.Time) (bool, error)
	MarkBouncedByExternalID(ctx context.Context, externalID, errMsg string, at, now time.Time) (bool, error)
	MarkComplainedByExternalID(ctx context.Context, externalID string, at, now time.Time) (bool, error)
	MarkDelayedByExternalID(ctx context.Context, externalID string, now time.Time) (bool, error)
	SetOpenedByExternalID(ctx context.Context, externalID string, at, now time.Time) (bool, error)
	SetClickedByExternalID(ctx context.Context, externalID string, at, now time.Time) (bool, error)
	UnsubscribeRecipientByExternalID(ctx context.Context, externalID string, now time.Time) error
	InvalidateRecipientEmailByExternalID(ctx context.Context, externalID string, now time.Time) error
	InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error
}

// EventBuffer enqueues a callback for asynchronous application.
type EventBuffer interface {
	Enqueue(ctx context.Context, ev sqsqueue.DeliveryEvent) error
}

type Webhook struct {
	Store WebhookStore

	// Resend webhook signing secret; verification is skipped when empty.
	ResendSecret string

	// Twilio signature inputs.
	VerifyTwilioSignature func(authToken, fullURL, provided string, form url.Values) bool
	TwilioAuthToken       string
	PublicURL             string

	// Optional SQS buffer for Twilio status callbacks; nil applies inline.
	Events EventBuffer
}

func (wh *Webhook) Register(r *mux.Router) {
	r.HandleFunc("/v1/webhooks/email", wh.handleEmailEvent).Methods(http.MethodPost)
	r.HandleFunc("/v1/webhooks/twilio/status", wh.handleTwilioStatus).Methods(http.MethodPost)
}

func (wh *Webhook) handleEmailEvent(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, ErrBadForm)
		return
	}

	if wh.ResendSecret != "" {
		sig := r.Header.Get("Resend-Signature")
		if sig == "" || !resend.VerifySignature(wh.ResendSecret, body, sig) {
			writeError(rw, http.StatusUnauthorized, ErrInvalidSignature)
			return
		}
	}

	ev, err := resend.ParseEvent(body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, ErrInvalidJSON)
		return
	}

	observability.WebhookEvents.WithLabelValues("resend", ev.Type).Inc()

	occurredAt := ev.CreatedAt
	if occurredAt.IsZero() {
		occurredAt = util.NowUTC()
	}
	if err := wh.Store.InsertDeliveryEvent(r.Context(), store.DeliveryEvent{
		Provider:   "resend",
		ExternalID: ev.Data.EmailID,
		EventType:  ev.Type,
		Payload:    ev,
		OccurredAt: &occurredAt,
	}); err != nil {
		slog.Error("delivery event insert failed", "err", err, "external_id", ev.Data.EmailID, "event", ev.Type)
		writeError(rw, http.StatusInternalServerError, ErrDependency)
		return
	}

	if err := wh.applyEmailEvent(r.Context(), ev, occurredAt); err != nil {
		slog.Error("email event apply failed", "err", err, "external_id", ev.Data.EmailID, "event", ev.Type)
		writeError(rw, http.StatusInternalServerError, ErrDependency)
		return
	}

	writeJSON(rw, http.StatusOK, map[string]any{"received": true})
}

func (wh *Webhook) applyEmailEvent(ctx context.Context, ev resend.Event, at time.Time) error {
	now := util.NowUTC()
	extID := ev.Data.EmailID

	switch ev.Type {
	case resend.EventSent:
		_, err := wh.Store.UpdateStatusByExternalID(ctx, extID, string(domain.StatusSent), "", now)
		return err
	case resend.EventDelivered:
		_, err := wh.Store.MarkDeliveredByExternalID(ctx, extID, at, now)
		return err
	case resend.EventDelayed:
		_, err := wh.Store.MarkDelayedByExternalID(ctx, extID, now)
		return err
	case resend.EventComplained:
		if _, err := wh.Store.MarkComplainedByExternalID(ctx, extID, at, now); err != nil {
			return err
		}
		return wh.Store.UnsubscribeRecipientByExternalID(ctx, extID, now)
	case resend.EventBounced:
		msg := "bounced"
		hard := false
		if ev.Data.Bounce != nil {
			if ev.Data.Bounce.Message != "" {
				msg = ev.Data.Bounce.Message
			}
			hard = ev.Data.Bounce.Type == "hard"
		}
		if _, err := wh.Store.MarkBouncedByExternalID(ctx, extID, msg, at, now); err != nil {
			return err
		}
		if hard {
			return wh.Store.InvalidateRecipientEmailByExternalID(ctx, extID, now)
		}
		return nil
	case resend.EventOpened:
		_, err := wh.Store.SetOpenedByExternalID(ctx, extID, at, now)
		return err
	case resend.EventClicked:
		_, err := wh.Store.SetClickedByExternalID(ctx, extID, at, now)
		return err
	default:
		// Unrecognized types are audited above and otherwise ignored.
		return nil
	}
}

func (wh *Webhook) handleTwilioStatus(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(rw, http.StatusBadRequest, ErrBadForm)
		return
	}
	if wh.VerifyTwilioSignature == nil ||
		!wh.VerifyTwilioSignature(wh.TwilioAuthToken, wh.PublicURL, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
		writeError(rw, http.StatusUnauthorized, ErrInvalidSignature)
		return
	}

	msgSid := r.PostForm.Get("MessageSid")
	status := r.PostForm.Get("MessageStatus")
	errCode := r.PostForm.Get("ErrorCode")

	observability.WebhookEvents.WithLabelValues("twilio", status).Inc()

	if wh.Events != nil {
		if err := wh.Events.Enqueue(r.Context(), sqsqueue.DeliveryEvent{
			Provider:   "twilio",
			ExternalID: msgSid,
			Status:     status,
			ErrorCode:  errCode,
			Payload:    r.PostForm,
			ReceivedAt: util.NowUTC(),
		}); err != nil {
			slog.Error("delivery event enqueue failed", "err", err, "message_sid", msgSid, "status", status)
			writeError(rw, http.StatusInternalServerError, ErrDependency)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"received": true})
		return
	}

	if err := ApplyProviderStatus(r.Context(), wh.Store, "twilio", msgSid, status, errCode, r.PostForm); err != nil {
		slog.Error("twilio status apply failed", "err", err, "message_sid", msgSid, "status", status)
		writeError(rw, http.StatusInternalServerError, ErrDependency)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"received": true})
}

// ApplyProviderStatus maps a vendor status through the send ledger
// vocabulary and applies it; unmapped values land as an explicit "unknown"
// status rather than being dropped. Shared by the inline webhook path and
// the SQS consumer.
func ApplyProviderStatus(ctx context.Context, st WebhookStore, provider, externalID, vendorStatus, errCode string, payload any) error {
	now := util.NowUTC()

	if err := st.InsertDeliveryEvent(ctx, store.DeliveryEvent{
		Provider:   provider,
		ExternalID: externalID,
		EventType:  vendorStatus,
		ErrorCode:  errCode,
		Payload:    payload,
	}); err != nil {
		return err
	}

	mapped := domain.MapProviderSMSStatus(vendorStatus)
	if mapped == domain.StatusDelivered {
		_, err := st.MarkDeliveredByExternalID(ctx, externalID, now, now)
		return err
	}
	_, err := st.UpdateStatusByExternalID(ctx, externalID, string(mapped), errCode, now)
	return err
}
