// Package crm is the HTTP client for the sheet-backed personal CRM that
// serves as the directory source: it holds the contacts and the pending
// scheduled messages.
//
// The remote API is a thin sheet gateway: collections are plain JSON arrays,
// and updates/deletes are keyed by the Id column through query parameters.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/models"
)

// Error kinds reported by the directory client. Wrapped into returned errors;
// match with errors.Is.
var (
	// ErrRemoteUnavailable indicates a transport-level failure (network, timeout).
	ErrRemoteUnavailable = errors.New("directory source unavailable")
	// ErrRemoteRejected indicates the directory answered with a non-2xx status.
	ErrRemoteRejected = errors.New("directory source rejected request")
	// ErrNotFound indicates an update or delete referenced a record that no
	// longer exists upstream.
	ErrNotFound = errors.New("directory record not found")
)

// Default client configuration
const (
	// DefaultBaseURL is the sheet gateway endpoint.
	DefaultBaseURL = "https://sheet2api.com/v1"
	// DefaultTimeout bounds each directory request.
	DefaultTimeout = 15 * time.Second
	// sheetPath is the sheet name under the API id.
	sheetPath = "personal-crm"
)

// Opts holds configuration options for the directory client.
type Opts struct {
	BaseURL    string
	SheetID    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the directory client.
type Option func(*Opts)

// WithBaseURL overrides the sheet gateway base URL (useful for tests).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithSheetID sets the sheet API id the contacts live under.
func WithSheetID(id string) Option {
	return func(o *Opts) { o.SheetID = id }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the directory source.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a directory client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SheetID == "" {
		return nil, fmt.Errorf("directory sheet id must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	base := fmt.Sprintf("%s/%s", cfg.BaseURL, cfg.SheetID)
	slog.Debug("crm.NewClient configured", "base_url_set", cfg.BaseURL != DefaultBaseURL, "sheet_id_set", true)
	return &Client{baseURL: base, httpc: cfg.HTTPClient}, nil
}

// GetContacts fetches all contacts from the directory.
func (c *Client) GetContacts(ctx context.Context) ([]models.Contact, error) {
	var contacts []models.Contact
	if err := c.getJSON(ctx, c.baseURL+"/"+sheetPath, &contacts); err != nil {
		slog.Error("crm.GetContacts failed", "error", err)
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	slog.Debug("crm.GetContacts succeeded", "count", len(contacts))
	return contacts, nil
}

// GetScheduledMessages fetches all pending scheduled messages.
func (c *Client) GetScheduledMessages(ctx context.Context) ([]models.ScheduledMessage, error) {
	var messages []models.ScheduledMessage
	if err := c.getJSON(ctx, c.baseURL+"/"+sheetPath+"/ScheduledMessages", &messages); err != nil {
		slog.Error("crm.GetScheduledMessages failed", "error", err)
		return nil, fmt.Errorf("fetch scheduled messages: %w", err)
	}
	slog.Debug("crm.GetScheduledMessages succeeded", "count", len(messages))
	return messages, nil
}

// UpdateContact writes the contact back to the directory, keyed by its Id.
func (c *Client) UpdateContact(ctx context.Context, contact models.Contact) error {
	q := url.Values{}
	q.Set("limit", "1")
	q.Set("query_type", "or")
	q.Set("Id", strconv.Itoa(contact.ID))
	target := c.baseURL + "/" + sheetPath + "/Contacts?" + q.Encode()

	body, err := json.Marshal(contact)
	if err != nil {
		return fmt.Errorf("marshal contact %d: %w", contact.ID, err)
	}
	if err := c.do(ctx, http.MethodPatch, target, body); err != nil {
		slog.Error("crm.UpdateContact failed", "error", err, "id", contact.ID)
		return fmt.Errorf("update contact %d: %w", contact.ID, err)
	}
	slog.Debug("crm.UpdateContact succeeded", "id", contact.ID, "number", contact.Number)
	return nil
}

// DeleteScheduledMessage removes a scheduled message record by Id. Deleting
// the record is what marks the message as handled.
func (c *Client) DeleteScheduledMessage(ctx context.Context, id int) error {
	q := url.Values{}
	q.Set("limit", "1")
	q.Set("query_type", "and")
	q.Set("Id", strconv.Itoa(id))
	target := c.baseURL + "/" + sheetPath + "/ScheduledMessages?" + q.Encode()

	if err := c.do(ctx, http.MethodDelete, target, nil); err != nil {
		slog.Error("crm.DeleteScheduledMessage failed", "error", err, "id", id)
		return fmt.Errorf("delete scheduled message %d: %w", id, err)
	}
	slog.Debug("crm.DeleteScheduledMessage succeeded", "id", id)
	return nil
}

// getJSON performs a GET and decodes the JSON array response into out.
func (c *Client) getJSON(ctx context.Context, target string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do performs a request with an optional JSON body and discards the response body.
func (c *Client) do(ctx context.Context, method, target string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return checkStatus(resp)
}

// checkStatus maps HTTP statuses onto the package error kinds.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w (status %d)", ErrNotFound, resp.StatusCode)
	default:
		return fmt.Errorf("%w (status %d)", ErrRemoteRejected, resp.StatusCode)
	}
}
