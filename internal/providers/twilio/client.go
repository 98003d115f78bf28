package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type Client struct {
	AccountSID string
	AuthToken  string
	HTTP       *http.Client

	FromNumber string
	BaseURL    string
}

type SendRequest struct {
	To                string
	Body              string
	StatusCallbackURL string
}

type SendResponse struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode *int   `json:"error_code"`
	Message   string `json:"message"`
}

// SendSMS posts one message to the Twilio messages API.
func (c *Client) SendSMS(ctx context.Context, req SendRequest) (SendResponse, int, []byte, error) {
	return c.send(ctx, req.To, c.FromNumber, req)
}

// SendWhatsApp is SendSMS over the WhatsApp transport: Twilio namespaces
// both addresses with a "whatsapp:" prefix.
func (c *Client) SendWhatsApp(ctx context.Context, req SendRequest) (SendResponse, int, []byte, error) {
	return c.send(ctx, "whatsapp:"+req.To, "whatsapp:"+c.FromNumber, req)
}

func (c *Client) send(ctx context.Context, to, from string, req SendRequest) (SendResponse, int, []byte, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", req.Body)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
	}

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	endpoint := baseURL + "/2010-04-01/Accounts/" + c.AccountSID + "/Messages.json"
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.AccountSID, c.AuthToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return SendResponse{}, 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out SendResponse
	_ = json.Unmarshal(b, &out)

	// Twilio returns 201 for created; treat 2xx as success
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Message != "" {
			return out, resp.StatusCode, b, errors.New(out.Message)
		}
		return out, resp.StatusCode, b, errors.New("twilio send failed")
	}
	return out, resp.StatusCode, b, nil
}
