// Package models defines the core data structures for KeepInTouch.
//
// It includes the directory records (contacts and scheduled messages), the
// outreach log entries (receipts and responses), and the shared API response
// envelope used by all HTTP handlers.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for an outbound message body
	MaxMessageBodyLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyNumber      = errors.New("contact number cannot be empty")
	ErrInvalidCadence   = errors.New("contact cadence must be a positive number of days")
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrEmptyBody        = errors.New("message body cannot be empty")
	ErrBodyTooLong      = errors.New("message body exceeds maximum length")
	ErrFutureLastContact = errors.New("last contact date cannot be in the future")
)

// Contact is a directory record for one person the service keeps in touch with.
// The JSON field names mirror the sheet columns of the directory source.
// LastContact is the only field this service ever mutates, and only after a
// confirmed successful send.
type Contact struct {
	Name        string    `json:"Name"`
	Number      string    `json:"Number"`
	LastContact time.Time `json:"LastContact"`
	Birthday    time.Time `json:"Birthday"`
	Cadence     int       `json:"Cadence"`
	ID          int       `json:"Id"`
}

// Validate checks the directory invariants on a contact.
func (c *Contact) Validate() error {
	if c.Number == "" {
		return ErrEmptyNumber
	}
	if c.Cadence <= 0 {
		return ErrInvalidCadence
	}
	return nil
}

// NeverContacted reports whether the contact has no recorded last contact.
func (c *Contact) NeverContacted() bool {
	return c.LastContact.IsZero()
}

// ScheduledMessage is a one-off message pending delivery. Record presence in
// the directory is the source of truth for "not yet handled": the record is
// deleted only after a successful send, so a failed send is retried on the
// next pass.
type ScheduledMessage struct {
	Message   string    `json:"Message"`
	Number    string    `json:"Number"`
	Timestamp time.Time `json:"Timestamp"`
	ID        int       `json:"Id"`
}

// Validate checks a scheduled message before it is acted on.
func (m *ScheduledMessage) Validate() error {
	if m.Number == "" {
		return ErrEmptyRecipient
	}
	if m.Message == "" {
		return ErrEmptyBody
	}
	if len(m.Message) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// ReceiptKind identifies which outreach path produced a receipt.
type ReceiptKind string

const (
	ReceiptKindTouchpoint ReceiptKind = "touchpoint"
	ReceiptKindBirthday   ReceiptKind = "birthday"
	ReceiptKindMessage    ReceiptKind = "message"
	ReceiptKindManual     ReceiptKind = "manual"
)

// Receipt is one entry in the outreach log. Kind is set for receipts recorded
// by the orchestrator; backend delivery/read events carry no kind.
type Receipt struct {
	To     string        `json:"to"`
	Kind   ReceiptKind   `json:"kind,omitempty"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a contact, as delivered by the
// messaging backend's webhook or event stream.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// SendRequest is the payload for the direct-send endpoint.
type SendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Validate validates a SendRequest.
func (r *SendRequest) Validate() error {
	if r.To == "" {
		return ErrEmptyRecipient
	}
	if r.Body == "" {
		return ErrEmptyBody
	}
	if len(r.Body) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// NotificationPayload is the inbound webhook body sent by the WhatsApp Cloud
// API. Only the fields the service reads are modeled.
type NotificationPayload struct {
	Entry []NotificationEntry `json:"entry"`
}

// NotificationEntry is one account-level entry in a notification.
type NotificationEntry struct {
	Changes []NotificationChange `json:"changes"`
}

// NotificationChange is one field change inside an entry.
type NotificationChange struct {
	Value NotificationValue `json:"value"`
}

// NotificationValue carries the messages of a change.
type NotificationValue struct {
	Messages []InboundMessage `json:"messages"`
}

// InboundMessage is a single message received from a contact.
type InboundMessage struct {
	From string       `json:"from"`
	Text *InboundText `json:"text"`
}

// InboundText is the text body of an inbound message.
type InboundText struct {
	Body string `json:"body"`
}

// Texts reads all text bodies out of a notification payload, paired with the
// sender number. Non-text messages are skipped.
func (p *NotificationPayload) Texts() []InboundMessage {
	var out []InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Text == nil || msg.Text.Body == "" {
					continue
				}
				out = append(out, msg)
			}
		}
	}
	return out
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
