package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

type Client struct {
	APIKey string
	HTTP   *http.Client

	From    string
	BaseURL string
}

type SendRequest struct {
	To      string
	Subject string
	HTML    string
}

type SendResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// SendEmail posts one email to the Resend messages API. The returned id is
// the provider message id delivery callbacks are keyed by.
func (c *Client) SendEmail(ctx context.Context, req SendRequest) (SendResponse, int, []byte, error) {
	payload, err := json.Marshal(map[string]any{
		"from":    c.From,
		"to":      []string{req.To},
		"subject": req.Subject,
		"html":    req.HTML,
	})
	if err != nil {
		return SendResponse{}, 0, nil, err
	}

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/emails", bytes.NewReader(payload))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return SendResponse{}, 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out SendResponse
	_ = json.Unmarshal(b, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Message != "" {
			return out, resp.StatusCode, b, errors.New(out.Message)
		}
		return out, resp.StatusCode, b, errors.New("resend send failed")
	}
	return out, resp.StatusCode, b, nil
}
