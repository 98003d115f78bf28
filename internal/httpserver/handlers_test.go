package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"campaign/internal/analytics"
	"campaign/internal/domain"
	"campaign/internal/providers/resend"
	"campaign/internal/providers/twilio"
	"campaign/internal/store"
)

type fakeExecutor struct {
	stats    domain.ExecutionStats
	err      error
	gotID    string
	gotTest  bool
	executed bool
}

func (f *fakeExecutor) Execute(ctx context.Context, campaignID string, testMode bool, now time.Time) (domain.ExecutionStats, error) {
	f.executed = true
	f.gotID = campaignID
	f.gotTest = testMode
	return f.stats, f.err
}

type fakeAnalytics struct {
	report analytics.CampaignReport
	err    error
}

func (f *fakeAnalytics) CampaignReport(ctx context.Context, campaignID string) (analytics.CampaignReport, error) {
	return f.report, f.err
}

func (f *fakeAnalytics) Overview(ctx context.Context) (analytics.Overview, error) {
	return analytics.Overview{RecentCampaigns: []analytics.CampaignSummary{}}, nil
}

type fakeSendStore struct {
	pendingID string
	send      store.Send
	sendFound bool

	sent   map[string]string
	failed map[string]string
}

func newFakeSendStore() *fakeSendStore {
	return &fakeSendStore{sent: map[string]string{}, failed: map[string]string{}}
}

func (f *fakeSendStore) FindPendingSend(ctx context.Context, campaignID, stepID, userID string) (string, bool, error) {
	return f.pendingID, f.pendingID != "", nil
}

func (f *fakeSendStore) MarkSendSent(ctx context.Context, id, externalID string, now time.Time) error {
	f.sent[id] = externalID
	return nil
}

func (f *fakeSendStore) MarkSendFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	f.failed[id] = errMsg
	return nil
}

func (f *fakeSendStore) GetSend(ctx context.Context, id string) (store.Send, bool, error) {
	return f.send, f.sendFound, nil
}

type fakeAPIEmail struct {
	err  error
	last resend.SendRequest
}

func (f *fakeAPIEmail) SendEmail(ctx context.Context, req resend.SendRequest) (resend.SendResponse, int, []byte, error) {
	f.last = req
	if f.err != nil {
		return resend.SendResponse{}, 500, nil, f.err
	}
	return resend.SendResponse{ID: "re_1"}, 200, nil, nil
}

type fakeAPIMessenger struct {
	lastTo string
}

func (f *fakeAPIMessenger) SendSMS(ctx context.Context, req twilio.SendRequest) (twilio.SendResponse, int, []byte, error) {
	f.lastTo = req.To
	return twilio.SendResponse{Sid: "SM1"}, 201, nil, nil
}

func (f *fakeAPIMessenger) SendWhatsApp(ctx context.Context, req twilio.SendRequest) (twilio.SendResponse, int, []byte, error) {
	f.lastTo = req.To
	return twilio.SendResponse{Sid: "WA1"}, 201, nil, nil
}

func newTestAPI(exec *fakeExecutor, sends *fakeSendStore, email *fakeAPIEmail) (*API, http.Handler) {
	api := &API{
		Exec:      exec,
		Analytics: &fakeAnalytics{},
		Sends:     sends,
		Email:     email,
		Messenger: &fakeAPIMessenger{},
	}
	srv := New()
	api.Register(srv.Mux)
	return api, srv.Mux
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid response json: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestHandleExecute(t *testing.T) {
	exec := &fakeExecutor{stats: domain.ExecutionStats{TotalUsers: 3, TotalSteps: 2, TotalScheduled: 6}}
	_, h := newTestAPI(exec, newFakeSendStore(), &fakeAPIEmail{})

	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns/cmp_1/execute", strings.NewReader(`{"testMode":true}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if exec.gotID != "cmp_1" || !exec.gotTest {
		t.Fatalf("unexpected execute args: id=%q test=%v", exec.gotID, exec.gotTest)
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("expected success, got %v", body)
	}
}

func TestHandleExecuteEmptyBodyAllowed(t *testing.T) {
	exec := &fakeExecutor{}
	_, h := newTestAPI(exec, newFakeSendStore(), &fakeAPIEmail{})

	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns/cmp_1/execute", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty body, got %d", rec.Code)
	}
	if exec.gotTest {
		t.Fatalf("expected testMode to default to false")
	}
}

func TestHandleExecuteErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrCampaignNotFound, http.StatusNotFound},
		{domain.ErrCampaignNotActive, http.StatusBadRequest},
		{domain.ErrNoSteps, http.StatusBadRequest},
		{domain.ErrNoAudience, http.StatusBadRequest},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		_, h := newTestAPI(&fakeExecutor{err: tc.err}, newFakeSendStore(), &fakeAPIEmail{})
		req := httptest.NewRequest(http.MethodPost, "/v1/campaigns/cmp_1/execute", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.code {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.code, rec.Code)
		}
	}
}

func TestHandleSendEmailUpdatesPendingRow(t *testing.T) {
	sends := newFakeSendStore()
	sends.pendingID = "snd_1"
	email := &fakeAPIEmail{}
	_, h := newTestAPI(&fakeExecutor{}, sends, email)

	body := `{"campaignId":"cmp_1","stepId":"st_1","userId":"u1","recipient":"a@example.com","subject":"hi","content":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/send/email", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if sends.sent["snd_1"] != "re_1" {
		t.Fatalf("expected pending row marked sent with external id, got %v", sends.sent)
	}
	if email.last.To != "a@example.com" || email.last.Subject != "hi" {
		t.Fatalf("unexpected provider request: %+v", email.last)
	}
	if !strings.Contains(email.last.HTML, "hello") {
		t.Fatalf("expected rendered html body, got %q", email.last.HTML)
	}
}

func TestHandleSendEmailValidation(t *testing.T) {
	_, h := newTestAPI(&fakeExecutor{}, newFakeSendStore(), &fakeAPIEmail{})

	// Missing content.
	body := `{"campaignId":"cmp_1","stepId":"st_1","userId":"u1","recipient":"a@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/send/email", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/send/email", strings.NewReader("not json"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", rec.Code)
	}
}

func TestHandleSendEmailNoPendingRowIs404(t *testing.T) {
	sends := newFakeSendStore() // no pending id
	_, h := newTestAPI(&fakeExecutor{}, sends, &fakeAPIEmail{})

	body := `{"campaignId":"cmp_1","stepId":"st_1","userId":"u1","recipient":"a@example.com","content":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/send/email", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when no pending send matches, got %d", rec.Code)
	}
	if len(sends.sent) != 0 || len(sends.failed) != 0 {
		t.Fatalf("ledger must be untouched when no row matches; sent=%v failed=%v", sends.sent, sends.failed)
	}
}

func TestHandleSendEmailProviderFailureRecorded(t *testing.T) {
	sends := newFakeSendStore()
	sends.pendingID = "snd_1"
	_, h := newTestAPI(&fakeExecutor{}, sends, &fakeAPIEmail{err: errors.New("quota exceeded")})

	body := `{"campaignId":"cmp_1","stepId":"st_1","userId":"u1","recipient":"a@example.com","content":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/send/email", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on provider failure, got %d", rec.Code)
	}
	if sends.failed["snd_1"] != "quota exceeded" {
		t.Fatalf("expected failure recorded on the row, got %v", sends.failed)
	}
	resp := decodeBody(t, rec)
	if resp["success"] != false || resp["error"] != "quota exceeded" {
		t.Fatalf("unexpected error envelope: %v", resp)
	}
}

func TestHandleGetSend(t *testing.T) {
	sends := newFakeSendStore()
	sends.send = store.Send{ID: "snd_1", Status: "sent"}
	sends.sendFound = true
	_, h := newTestAPI(&fakeExecutor{}, sends, &fakeAPIEmail{})

	req := httptest.NewRequest(http.MethodGet, "/v1/sends/snd_1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	sends.sendFound = false
	req = httptest.NewRequest(http.MethodGet, "/v1/sends/snd_missing", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleAnalyticsOverviewEnvelope(t *testing.T) {
	_, h := newTestAPI(&fakeExecutor{}, newFakeSendStore(), &fakeAPIEmail{})

	req := httptest.NewRequest(http.MethodGet, "/v1/analytics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, ok := body["overview"]; !ok {
		t.Fatalf("expected overview envelope, got %v", body)
	}
	if _, ok := body["recentCampaigns"]; !ok {
		t.Fatalf("expected recentCampaigns, got %v", body)
	}
}

func TestHandleAnalyticsCampaignNotFound(t *testing.T) {
	api := &API{
		Exec:      &fakeExecutor{},
		Analytics: &fakeAnalytics{err: domain.ErrCampaignNotFound},
		Sends:     newFakeSendStore(),
		Email:     &fakeAPIEmail{},
		Messenger: &fakeAPIMessenger{},
	}
	srv := New()
	api.Register(srv.Mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/analytics?campaignId=cmp_missing", nil)
	rec := httptest.NewRecorder()
	srv.Mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type fakeRunner struct {
	stats domain.DispatchStats
	err   error
	runs  int
}

func (f *fakeRunner) ProcessDue(ctx context.Context, now time.Time) (domain.DispatchStats, error) {
	f.runs++
	return f.stats, f.err
}

func newDispatchHandler(runner *fakeRunner, secret string) http.Handler {
	d := &DispatchAPI{Runner: runner, Secret: secret}
	srv := New()
	d.Register(srv.Mux)
	return srv.Mux
}

func TestHandleProcessRequiresBearerToken(t *testing.T) {
	runner := &fakeRunner{}
	h := newDispatchHandler(runner, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/v1/queue/process", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/queue/process", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
	if runner.runs != 0 {
		t.Fatalf("runner must not run without auth, ran %d times", runner.runs)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/queue/process", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rec.Code)
	}
	if runner.runs != 1 {
		t.Fatalf("expected one run, got %d", runner.runs)
	}
}

func TestHandleProcessBreakerOpenIsPartialSuccess(t *testing.T) {
	runner := &fakeRunner{
		stats: domain.DispatchStats{Total: 10, Processed: 4},
		err:   gobreaker.ErrOpenState,
	}
	h := newDispatchHandler(runner, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/v1/queue/process", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on open circuit, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("expected partial success envelope, got %v", body)
	}
	if !strings.Contains(body["message"].(string), "circuit open") {
		t.Fatalf("expected circuit-open message, got %v", body["message"])
	}
}

func TestHandleProcessDependencyError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("db down")}
	h := newDispatchHandler(runner, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/v1/queue/process", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
