/**
 * @description
 * This package provides a client for sending WhatsApp messages through the
 * Twilio Messages API. When Twilio credentials are missing or malformed the
 * client degrades to a mock that logs the outbound message instead of
 * sending it, so the rest of the service keeps working in development.
 *
 * Sends are fire-and-forget from the caller's perspective: a returned error
 * means the request failed, not that delivery failed.
 *
 * @dependencies
 * - context, encoding/json, fmt, io, log, net/http, net/url, strings, time: Standard Go libraries.
 */
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBaseURL = "https://api.twilio.com/2010-04-01"

// Messenger is the interface for the conversational send capability.
type Messenger interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Client sends WhatsApp messages via Twilio.
type Client struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a Twilio WhatsApp client. It returns a mock client when
// the credentials are missing or do not look like Twilio credentials.
func NewClient(accountSID, authToken, fromNumber string) Messenger {
	if accountSID == "" || authToken == "" || !strings.HasPrefix(accountSID, "AC") {
		log.Println("level=warn component=whatsapp_client msg=\"invalid or missing twilio credentials; using mock messenger\"")
		return &MockClient{}
	}
	if fromNumber == "" {
		fromNumber = "whatsapp:+14155238886"
	}
	return &Client{
		AccountSID: accountSID,
		AuthToken:  authToken,
		FromNumber: fromNumber,
		BaseURL:    twilioAPIBaseURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type messageResponse struct {
	SID          string `json:"sid"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
}

// Send posts one message to the Twilio Messages API and returns its SID.
func (c *Client) Send(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("From", c.FromNumber)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.BaseURL, c.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create message request: %w", err)
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute message request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read message response: %w", err)
	}

	var decoded messageResponse
	if err := json.Unmarshal(bodyBytes, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode message response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := decoded.ErrorMessage
		if detail == "" {
			detail = decoded.Message
		}
		log.Printf("level=warn component=whatsapp_client op=send status=%d detail=%q", resp.StatusCode, detail)
		return "", fmt.Errorf("twilio message send failed (status %d): %s", resp.StatusCode, detail)
	}

	log.Printf("level=info component=whatsapp_client msg=\"message sent\" sid=%s", decoded.SID)
	return decoded.SID, nil
}

// MockClient logs outbound messages instead of sending them.
type MockClient struct{}

// Send logs the message and returns a synthetic SID.
func (c *MockClient) Send(ctx context.Context, to, body string) (string, error) {
	log.Printf("level=info component=whatsapp_client mode=mock msg=\"would send\" to=%s body=%q", to, body)
	return fmt.Sprintf("MOCK-%d", time.Now().UnixNano()), nil
}
