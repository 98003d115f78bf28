package resend

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"email.delivered"}`)
	secret := "whsec_test"

	if !VerifySignature(secret, body, sign(secret, body)) {
		t.Fatalf("expected valid signature to verify")
	}
	if VerifySignature(secret, body, sign("wrong_secret", body)) {
		t.Fatalf("expected signature from wrong secret to fail")
	}
	if VerifySignature(secret, []byte(`{"type":"email.bounced"}`), sign(secret, body)) {
		t.Fatalf("expected signature over different body to fail")
	}
	if VerifySignature(secret, body, "") {
		t.Fatalf("expected empty signature to fail")
	}
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"type": "email.bounced",
		"created_at": "2026-03-01T10:00:00Z",
		"data": {
			"email_id": "re_123",
			"to": ["a@example.com"],
			"subject": "hello",
			"bounce": {"type": "hard", "message": "mailbox does not exist"}
		}
	}`)

	ev, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev.Type != EventBounced {
		t.Fatalf("expected %q, got %q", EventBounced, ev.Type)
	}
	if ev.Data.EmailID != "re_123" {
		t.Fatalf("expected email id re_123, got %q", ev.Data.EmailID)
	}
	if ev.Data.Bounce == nil || ev.Data.Bounce.Type != "hard" {
		t.Fatalf("expected hard bounce detail, got %+v", ev.Data.Bounce)
	}

	if _, err := ParseEvent([]byte("not json")); err == nil {
		t.Fatalf("expected parse error for invalid json")
	}
}
