// Local-dev stand-in for Resend and Twilio. Accepts sends on both provider
// APIs and fires signed status webhooks back at the campaign webhook service
// so the full delivery loop can be exercised without real accounts.
package main

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
)

type config struct {
	Port string `envconfig:"PORT" default:"8080"`

	// Shared with the webhook service so signatures verify.
	ResendWebhookSecret string `envconfig:"RESEND_WEBHOOK_SECRET" default:"mock_secret"`
	TwilioAccountSID    string `envconfig:"TWILIO_ACCOUNT_SID" default:"mock_sid"`
	TwilioAuthToken     string `envconfig:"TWILIO_AUTH_TOKEN" default:"mock_token"`

	// Where to deliver status callbacks.
	EmailWebhookURL  string `envconfig:"MOCK_EMAIL_WEBHOOK_URL" default:""`
	TwilioWebhookURL string `envconfig:"MOCK_TWILIO_WEBHOOK_URL" default:""`

	// fixed | round_robin | random over Outcomes.
	OutcomeMode string `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw string `envconfig:"MOCK_OUTCOMES" default:"delivered"`

	WebhookDelayMs int `envconfig:"MOCK_WEBHOOK_DELAY_MS" default:"500"`

	Outcomes     []string
	WebhookDelay time.Duration
}

type server struct {
	cfg    config
	idx    uint64
	rng    *rand.Rand
	rngMu  sync.Mutex
	client *http.Client
}

func main() {
	cfg := loadConfig()

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	s := &server{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		client: &http.Client{Timeout: 5 * time.Second},
	}

	router := mux.NewRouter()
	router.HandleFunc("/emails", s.handleEmailSend).Methods(http.MethodPost)
	router.HandleFunc("/2010-04-01/Accounts/{AccountSid}/Messages.json", s.handleMessageSend).Methods(http.MethodPost)

	slog.Info("mock provider listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig() config {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock provider config load failed", "err", err)
		os.Exit(1)
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	for _, p := range strings.Split(cfg.OutcomesRaw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			cfg.Outcomes = append(cfg.Outcomes, p)
		}
	}
	if len(cfg.Outcomes) == 0 {
		cfg.Outcomes = []string{"delivered"}
	}
	cfg.WebhookDelay = time.Duration(cfg.WebhookDelayMs) * time.Millisecond
	return cfg
}

// handleEmailSend mimics Resend's POST /emails.
func (s *server) handleEmailSend(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || len(auth) == len("Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"name": "validation_error", "message": "Missing API key"})
		return
	}

	var req struct {
		From    string   `json:"from"`
		To      []string `json:"to"`
		Subject string   `json:"subject"`
		HTML    string   `json:"html"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"name": "validation_error", "message": "Invalid JSON"})
		return
	}
	if req.From == "" || len(req.To) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"name": "missing_required_field", "message": "from and to are required"})
		return
	}

	id := fmt.Sprintf("re_%08d", atomic.AddUint64(&s.idx, 1))
	writeJSON(w, http.StatusOK, map[string]string{"id": id})

	to := req.To[0]
	go s.fireEmailWebhooks(id, to, req.Subject, s.nextOutcome())
}

func (s *server) fireEmailWebhooks(emailID, to, subject, outcome string) {
	if s.cfg.EmailWebhookURL == "" {
		return
	}
	post := func(eventType string) {
		body, _ := json.Marshal(map[string]any{
			"type":       eventType,
			"created_at": time.Now().UTC().Format(time.RFC3339),
			"data": map[string]any{
				"email_id": emailID,
				"to":       []string{to},
				"subject":  subject,
				"bounce":   map[string]string{"type": "hard", "message": "mock bounce"},
			},
		})
		mac := hmac.New(sha256.New, []byte(s.cfg.ResendWebhookSecret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))

		req, _ := http.NewRequest(http.MethodPost, s.cfg.EmailWebhookURL, strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Resend-Signature", sig)
		resp, err := s.client.Do(req)
		if err != nil {
			slog.Error("mock email webhook post failed", "url", s.cfg.EmailWebhookURL, "err", err)
			return
		}
		_ = resp.Body.Close()
	}

	time.Sleep(s.cfg.WebhookDelay)
	post("email.sent")
	time.Sleep(s.cfg.WebhookDelay)
	switch outcome {
	case "bounced":
		post("email.bounced")
	case "complained":
		post("email.complained")
	case "delayed":
		post("email.delivery_delayed")
	default:
		post("email.delivered")
	}
}

// handleMessageSend mimics Twilio's Messages.json.
func (s *server) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != s.cfg.TwilioAccountSID || pass != s.cfg.TwilioAuthToken {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "failed", "message": "Authentication Error", "error_code": 20003})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "failed", "message": "Invalid form data", "error_code": 21620})
		return
	}
	if r.Form.Get("To") == "" || r.Form.Get("Body") == "" || r.Form.Get("From") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "failed", "message": "Missing required parameter", "error_code": 21602})
		return
	}

	sid := fmt.Sprintf("SM%08d", atomic.AddUint64(&s.idx, 1))
	writeJSON(w, http.StatusCreated, map[string]any{"sid": sid, "status": "queued"})

	go s.fireTwilioWebhooks(sid, s.nextOutcome())
}

func (s *server) fireTwilioWebhooks(msgSid, outcome string) {
	if s.cfg.TwilioWebhookURL == "" {
		return
	}
	post := func(status, errorCode string) {
		form := url.Values{}
		form.Set("MessageSid", msgSid)
		form.Set("MessageStatus", status)
		form.Set("ErrorCode", errorCode)

		req, _ := http.NewRequest(http.MethodPost, s.cfg.TwilioWebhookURL, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Twilio-Signature", twilioSignature(s.cfg.TwilioAuthToken, s.cfg.TwilioWebhookURL, form))
		resp, err := s.client.Do(req)
		if err != nil {
			slog.Error("mock twilio webhook post failed", "url", s.cfg.TwilioWebhookURL, "err", err)
			return
		}
		_ = resp.Body.Close()
	}

	time.Sleep(s.cfg.WebhookDelay)
	post("sent", "")
	time.Sleep(s.cfg.WebhookDelay)
	switch outcome {
	case "failed":
		post("failed", "30008")
	case "undelivered":
		post("undelivered", "30003")
	default:
		post("delivered", "")
	}
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		i := atomic.AddUint64(&s.idx, 1) - 1
		return s.cfg.Outcomes[int(i)%len(s.cfg.Outcomes)]
	case "random":
		s.rngMu.Lock()
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

func twilioSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
