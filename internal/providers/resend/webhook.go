package resend

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Event types Resend posts to the delivery webhook.
const (
	EventSent       = "email.sent"
	EventDelivered  = "email.delivered"
	EventDelayed    = "email.delivery_delayed"
	EventComplained = "email.complained"
	EventBounced    = "email.bounced"
	EventOpened     = "email.opened"
	EventClicked    = "email.clicked"
)

// Event is the JSON envelope of one delivery webhook call.
type Event struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

type EventData struct {
	EmailID string   `json:"email_id"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Bounce  *Bounce  `json:"bounce,omitempty"`
	Click   *Click   `json:"click,omitempty"`
}

type Bounce struct {
	Type    string `json:"type"` // "hard" or "soft"
	Message string `json:"message"`
}

type Click struct {
	Link      string    `json:"link"`
	Timestamp time.Time `json:"timestamp"`
}

func ParseEvent(body []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(body, &ev)
	return ev, err
}

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw request body
// against the signature header. hmac.Equal keeps the comparison constant
// time.
func VerifySignature(secret string, body []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}
