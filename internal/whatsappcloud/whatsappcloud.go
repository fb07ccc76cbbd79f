// Package whatsappcloud wraps the WhatsApp Cloud API for KeepInTouch.
//
// It covers the two things the service needs from the Cloud API: sending a
// text message from the business phone number, and verifying the webhook
// subscription token.
package whatsappcloud

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Default client configuration
const (
	// DefaultBaseURL is the Meta graph endpoint serving the Cloud API.
	DefaultBaseURL = "https://graph.facebook.com/v17.0"
	// DefaultTimeout bounds each send request.
	DefaultTimeout = 15 * time.Second
)

// Sender is an interface for sending WhatsApp Cloud API messages (for production and testing).
type Sender interface {
	SendTextMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Cloud API client.
type Opts struct {
	AccessToken   string
	PhoneNumberID string
	VerifyToken   string
	BaseURL       string
	HTTPClient    *http.Client
}

// Option defines a configuration option for the Cloud API client.
type Option func(*Opts)

// WithAccessToken sets the bearer token used for the messages endpoint.
func WithAccessToken(token string) Option {
	return func(o *Opts) { o.AccessToken = token }
}

// WithPhoneNumberID sets the business phone number id messages are sent from.
func WithPhoneNumberID(id string) Option {
	return func(o *Opts) { o.PhoneNumberID = id }
}

// WithVerifyToken sets the webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithBaseURL overrides the graph endpoint (useful for tests).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client wraps the Cloud API messages endpoint.
type Client struct {
	accessToken   string
	phoneNumberID string
	verifyToken   string
	baseURL       string
	httpc         *http.Client
}

// textMessage is the request body of the messages endpoint.
type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// NewClient creates a Cloud API client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token must be provided")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("phone number id must be provided")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	slog.Debug("whatsappcloud.NewClient configured",
		"phone_number_id_set", cfg.PhoneNumberID != "",
		"verify_token_set", cfg.VerifyToken != "")
	return &Client{
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		verifyToken:   cfg.VerifyToken,
		baseURL:       cfg.BaseURL,
		httpc:         cfg.HTTPClient,
	}, nil
}

// SendTextMessage sends a plain text message to the recipient number.
func (c *Client) SendTextMessage(ctx context.Context, to string, body string) error {
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	payload, err := json.Marshal(textMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	target := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		slog.Error("whatsappcloud.SendTextMessage transport failure", "error", err, "to", to)
		return fmt.Errorf("send message to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("whatsappcloud.SendTextMessage rejected", "status", resp.StatusCode, "to", to)
		return fmt.Errorf("send message to %s: status %d: %s", to, resp.StatusCode, detail)
	}
	io.Copy(io.Discard, resp.Body)

	slog.Debug("whatsappcloud.SendTextMessage succeeded", "to", to, "body_length", len(body))
	return nil
}

// VerifyToken compares the hub.verify_token of a webhook subscription request
// against the configured token.
func (c *Client) VerifyToken(hubVerifyToken string) bool {
	if c.verifyToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hubVerifyToken), []byte(c.verifyToken)) == 1
}

// MockClient implements Sender but records instead of sending (for tests).
type MockClient struct {
	Sent []MockMessage
	Err  error
}

// MockMessage is one recorded send.
type MockMessage struct {
	To   string
	Body string
}

// NewMockClient creates an empty mock sender.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendTextMessage records the message, or fails with the configured error.
func (m *MockClient) SendTextMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, MockMessage{To: to, Body: body})
	return nil
}
