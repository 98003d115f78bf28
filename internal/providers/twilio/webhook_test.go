package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"testing"
)

func signCallback(authToken, fullURL string, form url.Values) string {
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

func TestVerifySignature(t *testing.T) {
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "delivered")
	form.Set("ErrorCode", "")

	fullURL := "https://hooks.example.com/v1/webhooks/twilio/status"
	token := "auth_token"
	sig := signCallback(token, fullURL, form)

	if !VerifySignature(token, fullURL, sig, form) {
		t.Fatalf("expected valid signature to verify")
	}
	if VerifySignature("other_token", fullURL, sig, form) {
		t.Fatalf("expected wrong token to fail")
	}
	if VerifySignature(token, "https://hooks.example.com/other", sig, form) {
		t.Fatalf("expected different URL to fail")
	}

	tampered := url.Values{}
	for k := range form {
		tampered.Set(k, form.Get(k))
	}
	tampered.Set("MessageStatus", "failed")
	if VerifySignature(token, fullURL, sig, tampered) {
		t.Fatalf("expected tampered form to fail")
	}
	if VerifySignature(token, fullURL, "", form) {
		t.Fatalf("expected empty signature to fail")
	}
}
