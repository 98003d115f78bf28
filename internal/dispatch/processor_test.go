package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"campaign/internal/providers/resend"
	"campaign/internal/providers/twilio"
	"campaign/internal/store"
)

type fakeDispatchStore struct {
	due      []store.DueSend
	statuses map[string]string

	claimDeny map[string]bool

	claimed   []string
	released  []string
	sent      map[string]string // send id -> external id
	failed    map[string]string // send id -> error message
	cancelled map[string]string // send id -> reason

	statusLookups int
}

func newFakeDispatchStore() *fakeDispatchStore {
	return &fakeDispatchStore{
		statuses:  map[string]string{},
		claimDeny: map[string]bool{},
		sent:      map[string]string{},
		failed:    map[string]string{},
		cancelled: map[string]string{},
	}
}

func (f *fakeDispatchStore) ListDueSends(ctx context.Context, now time.Time, limit int) ([]store.DueSend, error) {
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeDispatchStore) GetCampaignStatus(ctx context.Context, id string) (string, bool, error) {
	f.statusLookups++
	st, ok := f.statuses[id]
	return st, ok, nil
}

func (f *fakeDispatchStore) ClaimSend(ctx context.Context, id string, now time.Time) (bool, error) {
	if f.claimDeny[id] {
		return false, nil
	}
	f.claimed = append(f.claimed, id)
	return true, nil
}

func (f *fakeDispatchStore) ReleaseSend(ctx context.Context, id string, now time.Time) (bool, error) {
	f.released = append(f.released, id)
	return true, nil
}

func (f *fakeDispatchStore) MarkSendSent(ctx context.Context, id, externalID string, now time.Time) error {
	f.sent[id] = externalID
	return nil
}

func (f *fakeDispatchStore) MarkSendFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	f.failed[id] = errMsg
	return nil
}

func (f *fakeDispatchStore) CancelPendingSend(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	f.cancelled[id] = reason
	return true, nil
}

type fakeEmail struct {
	failOn map[string]error // recipient -> error
	calls  int
}

func (f *fakeEmail) SendEmail(ctx context.Context, req resend.SendRequest) (resend.SendResponse, int, []byte, error) {
	f.calls++
	if err, ok := f.failOn[req.To]; ok {
		return resend.SendResponse{}, 500, nil, err
	}
	return resend.SendResponse{ID: "re_" + req.To}, 200, nil, nil
}

type fakeMessenger struct {
	calls int
}

func (f *fakeMessenger) SendSMS(ctx context.Context, req twilio.SendRequest) (twilio.SendResponse, int, []byte, error) {
	f.calls++
	return twilio.SendResponse{Sid: "SM_" + req.To}, 201, nil, nil
}

func (f *fakeMessenger) SendWhatsApp(ctx context.Context, req twilio.SendRequest) (twilio.SendResponse, int, []byte, error) {
	f.calls++
	return twilio.SendResponse{Sid: "WA_" + req.To}, 201, nil, nil
}

func emailSend(id, campaignID, recipient string) store.DueSend {
	return store.DueSend{
		ID:         id,
		CampaignID: campaignID,
		Channel:    "email",
		Recipient:  recipient,
		Subject:    "hello",
		Content:    "body",
	}
}

func TestProcessDueDispatchesAndRecords(t *testing.T) {
	f := newFakeDispatchStore()
	f.statuses["cmp_1"] = "active"
	f.due = []store.DueSend{
		emailSend("snd_1", "cmp_1", "a@example.com"),
		{ID: "snd_2", CampaignID: "cmp_1", Channel: "sms", Recipient: "+19990000001", Content: "hi"},
		{ID: "snd_3", CampaignID: "cmp_1", Channel: "whatsapp", Recipient: "+19990000002", Content: "hi"},
	}

	p := &Processor{Store: f, Email: &fakeEmail{}, Messenger: &fakeMessenger{}}
	stats, err := p.ProcessDue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if stats.Total != 3 || stats.Processed != 3 || stats.Failed != 0 || stats.Cancelled != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if f.sent["snd_1"] != "re_a@example.com" {
		t.Fatalf("expected email external id recorded, got %q", f.sent["snd_1"])
	}
	if f.sent["snd_2"] != "SM_+19990000001" || f.sent["snd_3"] != "WA_+19990000002" {
		t.Fatalf("expected twilio external ids recorded, got %v", f.sent)
	}
	if f.statusLookups != 1 {
		t.Fatalf("expected one campaign status lookup for the batch, got %d", f.statusLookups)
	}
}

func TestProcessDueCancelsWhenCampaignNotActive(t *testing.T) {
	f := newFakeDispatchStore()
	f.statuses["cmp_paused"] = "paused"
	f.due = []store.DueSend{
		emailSend("snd_1", "cmp_paused", "a@example.com"),
		emailSend("snd_2", "cmp_missing", "b@example.com"),
	}

	email := &fakeEmail{}
	p := &Processor{Store: f, Email: email, Messenger: &fakeMessenger{}}
	stats, err := p.ProcessDue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if stats.Cancelled != 2 || stats.Processed != 0 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if email.calls != 0 {
		t.Fatalf("expected no provider calls for cancelled sends, got %d", email.calls)
	}
	if len(f.claimed) != 0 {
		t.Fatalf("expected no claims for cancelled sends, got %v", f.claimed)
	}
	if f.cancelled["snd_2"] == "" || f.cancelled["snd_1"] == "" {
		t.Fatalf("expected cancel reasons recorded, got %v", f.cancelled)
	}
}

func TestProcessDueSkipsLostClaims(t *testing.T) {
	f := newFakeDispatchStore()
	f.statuses["cmp_1"] = "active"
	f.claimDeny["snd_1"] = true
	f.due = []store.DueSend{
		emailSend("snd_1", "cmp_1", "a@example.com"),
		emailSend("snd_2", "cmp_1", "b@example.com"),
	}

	email := &fakeEmail{}
	p := &Processor{Store: f, Email: email, Messenger: &fakeMessenger{}}
	stats, err := p.ProcessDue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if stats.Processed != 1 {
		t.Fatalf("expected 1 processed after a lost claim, got %d", stats.Processed)
	}
	if email.calls != 1 {
		t.Fatalf("expected exactly one provider call, got %d", email.calls)
	}
	if _, ok := f.sent["snd_1"]; ok {
		t.Fatalf("lost claim must not be dispatched")
	}
	if _, ok := f.failed["snd_1"]; ok {
		t.Fatalf("lost claim must not be marked failed")
	}
}

func TestProcessDueIsolatesPerSendFailures(t *testing.T) {
	f := newFakeDispatchStore()
	f.statuses["cmp_1"] = "active"
	for _, id := range []string{"snd_1", "snd_2", "snd_3", "snd_4", "snd_5"} {
		f.due = append(f.due, emailSend(id, "cmp_1", id+"@example.com"))
	}

	email := &fakeEmail{failOn: map[string]error{"snd_3@example.com": errors.New("mailbox full")}}
	p := &Processor{Store: f, Email: email, Messenger: &fakeMessenger{}}
	stats, err := p.ProcessDue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if stats.Processed != 4 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if f.failed["snd_3"] == "" {
		t.Fatalf("expected error message recorded for snd_3, got %v", f.failed)
	}
	if len(f.sent) != 4 {
		t.Fatalf("expected 4 sent rows, got %d", len(f.sent))
	}
}

func TestProcessDueFailsMissingRecipientAndUnknownChannel(t *testing.T) {
	f := newFakeDispatchStore()
	f.statuses["cmp_1"] = "active"
	f.due = []store.DueSend{
		{ID: "snd_1", CampaignID: "cmp_1", Channel: "email", Recipient: ""},
		{ID: "snd_2", CampaignID: "cmp_1", Channel: "carrier_pigeon", Recipient: "a@example.com"},
	}

	p := &Processor{Store: f, Email: &fakeEmail{}, Messenger: &fakeMessenger{}}
	stats, err := p.ProcessDue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if stats.Failed != 2 || stats.Processed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if f.failed["snd_2"] != "unsupported channel: carrier_pigeon" {
		t.Fatalf("unexpected failure message: %q", f.failed["snd_2"])
	}
}

func TestProcessDueReleasesClaimWhenBreakerOpens(t *testing.T) {
	f := newFakeDispatchStore()
	f.statuses["cmp_1"] = "active"
	f.due = []store.DueSend{
		emailSend("snd_1", "cmp_1", "a@example.com"),
		emailSend("snd_2", "cmp_1", "b@example.com"),
	}

	// Trips immediately so the first delivery hits an open circuit.
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "test",
		ReadyToTrip: func(gobreaker.Counts) bool { return true },
	})
	_, _ = breaker.Execute(func() (any, error) { return nil, errors.New("prime failure") })

	p := &Processor{
		Store:     f,
		Email:     &fakeEmail{},
		Messenger: &fakeMessenger{},
		Breaker:   breaker,
	}
	stats, err := p.ProcessDue(context.Background(), time.Now().UTC())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open-state error, got %v", err)
	}
	if stats.Processed != 0 || stats.Failed != 0 {
		t.Fatalf("breaker open must not count as send failure: %+v", stats)
	}
	if len(f.released) != 1 || f.released[0] != "snd_1" {
		t.Fatalf("expected snd_1 released back to pending, got %v", f.released)
	}
	if _, ok := f.failed["snd_1"]; ok {
		t.Fatalf("breaker open must not mark the send failed")
	}
	// Batch stopped early: snd_2 untouched.
	if len(f.claimed) != 1 {
		t.Fatalf("expected batch to stop after the open circuit, claims: %v", f.claimed)
	}
}

func TestProcessDueRespectsBatchSize(t *testing.T) {
	f := newFakeDispatchStore()
	f.statuses["cmp_1"] = "active"
	for _, id := range []string{"snd_1", "snd_2", "snd_3"} {
		f.due = append(f.due, emailSend(id, "cmp_1", id+"@example.com"))
	}

	p := &Processor{Store: f, Email: &fakeEmail{}, Messenger: &fakeMessenger{}, BatchSize: 2}
	stats, err := p.ProcessDue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if stats.Total != 2 || stats.Processed != 2 {
		t.Fatalf("expected batch capped at 2, got %+v", stats)
	}
}
