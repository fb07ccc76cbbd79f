package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestContactValidate(t *testing.T) {
	c := Contact{Name: "Ana", Number: "+100", Cadence: 7, ID: 1}
	if err := c.Validate(); err != nil {
		t.Errorf("expected valid contact, got %v", err)
	}

	c.Number = ""
	if err := c.Validate(); err != ErrEmptyNumber {
		t.Errorf("expected ErrEmptyNumber, got %v", err)
	}

	c.Number = "+100"
	c.Cadence = 0
	if err := c.Validate(); err != ErrInvalidCadence {
		t.Errorf("expected ErrInvalidCadence, got %v", err)
	}
}

func TestContactNeverContacted(t *testing.T) {
	c := Contact{Number: "+100", Cadence: 7}
	if !c.NeverContacted() {
		t.Error("zero LastContact should report never contacted")
	}
	c.LastContact = time.Now()
	if c.NeverContacted() {
		t.Error("non-zero LastContact should not report never contacted")
	}
}

func TestScheduledMessageValidate(t *testing.T) {
	m := ScheduledMessage{Message: "Reminder", Number: "+200", ID: 42}
	if err := m.Validate(); err != nil {
		t.Errorf("expected valid message, got %v", err)
	}

	m.Number = ""
	if err := m.Validate(); err != ErrEmptyRecipient {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}

	m.Number = "+200"
	m.Message = ""
	if err := m.Validate(); err != ErrEmptyBody {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
}

func TestContactJSONFieldNames(t *testing.T) {
	// Field names must match the sheet columns of the directory source.
	data := []byte(`{"Name":"Ana","Number":"+100","LastContact":"2024-01-02T00:00:00Z","Birthday":"1990-05-20T00:00:00Z","Cadence":7,"Id":1}`)
	var c Contact
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if c.Name != "Ana" || c.Number != "+100" || c.Cadence != 7 || c.ID != 1 {
		t.Errorf("unexpected contact: %+v", c)
	}
	if c.Birthday.Month() != time.May || c.Birthday.Day() != 20 {
		t.Errorf("unexpected birthday: %v", c.Birthday)
	}
}

func TestNotificationPayloadTexts(t *testing.T) {
	data := []byte(`{"entry":[{"changes":[{"value":{"messages":[
		{"from":"+100","text":{"body":"hi"}},
		{"from":"+200"},
		{"from":"+300","text":{"body":"hello"}}
	]}}]}]}`)
	var p NotificationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	texts := p.Texts()
	if len(texts) != 2 {
		t.Fatalf("expected 2 text messages, got %d", len(texts))
	}
	if texts[0].From != "+100" || texts[0].Text.Body != "hi" {
		t.Errorf("unexpected first message: %+v", texts[0])
	}
	if texts[1].From != "+300" || texts[1].Text.Body != "hello" {
		t.Errorf("unexpected second message: %+v", texts[1])
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	resp := Success(map[string]bool{"work_found": true})
	if resp.Status != string(APIStatusOK) {
		t.Errorf("expected ok status, got %s", resp.Status)
	}

	resp = Error("boom")
	if resp.Status != string(APIStatusError) || resp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", resp)
	}

	resp = SuccessWithMessage("resynced", 3)
	if resp.Status != string(APIStatusOK) || resp.Message != "resynced" {
		t.Errorf("unexpected response: %+v", resp)
	}
}
