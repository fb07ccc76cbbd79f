// Package testutil provides common test utilities and fakes for KeepInTouch tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/keepintouch-app/keepintouch/internal/models"
)

// FakeDirectory is an in-memory stand-in for the CRM directory client.
// Error fields, when set, fail the corresponding operation.
type FakeDirectory struct {
	mu       sync.Mutex
	Contacts []models.Contact
	Messages []models.ScheduledMessage

	ContactsErr error
	MessagesErr error
	UpdateErr   error
	DeleteErr   error

	Updated []models.Contact
	Deleted []int
}

// GetContacts returns a snapshot of the fake contact list.
func (f *FakeDirectory) GetContacts(ctx context.Context) ([]models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ContactsErr != nil {
		return nil, f.ContactsErr
	}
	out := make([]models.Contact, len(f.Contacts))
	copy(out, f.Contacts)
	return out, nil
}

// GetScheduledMessages returns a snapshot of the fake pending messages.
func (f *FakeDirectory) GetScheduledMessages(ctx context.Context) ([]models.ScheduledMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MessagesErr != nil {
		return nil, f.MessagesErr
	}
	out := make([]models.ScheduledMessage, len(f.Messages))
	copy(out, f.Messages)
	return out, nil
}

// UpdateContact applies the update to the backing list (matched by Id) and
// records it in Updated.
func (f *FakeDirectory) UpdateContact(ctx context.Context, contact models.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	for i := range f.Contacts {
		if f.Contacts[i].ID == contact.ID {
			f.Contacts[i] = contact
			break
		}
	}
	f.Updated = append(f.Updated, contact)
	return nil
}

// DeleteScheduledMessage removes the message from the backing list and records
// the id in Deleted.
func (f *FakeDirectory) DeleteScheduledMessage(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	for i := range f.Messages {
		if f.Messages[i].ID == id {
			f.Messages = append(f.Messages[:i], f.Messages[i+1:]...)
			break
		}
	}
	f.Deleted = append(f.Deleted, id)
	return nil
}

// UpdatedContacts returns a snapshot of the recorded contact updates.
func (f *FakeDirectory) UpdatedContacts() []models.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Contact, len(f.Updated))
	copy(out, f.Updated)
	return out
}

// ContactByID returns the current state of a contact in the backing list.
func (f *FakeDirectory) ContactByID(id int) (models.Contact, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Contacts {
		if c.ID == id {
			return c, true
		}
	}
	return models.Contact{}, false
}

// SentMessage is one message recorded by FakeSender.
type SentMessage struct {
	To   string
	Body string
}

// FakeSender records outbound messages instead of sending them. Err fails
// every send; FailFor fails sends to specific recipients.
type FakeSender struct {
	mu      sync.Mutex
	Sent    []SentMessage
	Err     error
	FailFor map[string]error
}

// SendMessage records the message, or fails with the configured error.
func (f *FakeSender) SendMessage(ctx context.Context, to string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if err, ok := f.FailFor[to]; ok {
		return err
	}
	f.Sent = append(f.Sent, SentMessage{To: to, Body: body})
	return nil
}

// SentMessages returns a snapshot of the recorded sends.
func (f *FakeSender) SentMessages() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.Sent))
	copy(out, f.Sent)
	return out
}

// SentTo returns the messages recorded for one recipient.
func (f *FakeSender) SentTo(to string) []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SentMessage
	for _, m := range f.Sent {
		if m.To == to {
			out = append(out, m)
		}
	}
	return out
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response body and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
