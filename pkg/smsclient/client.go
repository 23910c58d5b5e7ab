// Package smsclient is a minimal client for a Twilio-compatible Messages
// API. It covers the one operation the fraud engine needs: send a text
// message to a phone number.
package smsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client sends SMS messages through the Twilio Messages API.
type Client struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	HTTPClient *http.Client
}

// NewClient creates an SMS client. baseURL is normally
// https://api.twilio.com; tests point it at a local httptest server.
func NewClient(baseURL, accountSID, authToken, from string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// messageResponse is the subset of the Messages API response we read.
type messageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// Send delivers one text message. Any non-2xx response is an error; the
// caller decides whether to retry.
func (c *Client) Send(ctx context.Context, to, body string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.BaseURL, c.AccountSID)

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.From)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.AccountSID, c.AuthToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send SMS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read SMS response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg messageResponse
		if json.Unmarshal(respBody, &msg) == nil && msg.ErrorMessage != "" {
			return fmt.Errorf("SMS API returned %d: %s", resp.StatusCode, msg.ErrorMessage)
		}
		return fmt.Errorf("SMS API returned %d", resp.StatusCode)
	}

	return nil
}
