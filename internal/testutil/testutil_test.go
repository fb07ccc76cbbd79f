package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/models"
)

func TestFakeDirectoryUpdateContact(t *testing.T) {
	dir := &FakeDirectory{
		Contacts: []models.Contact{
			{ID: 1, Name: "Ana", Number: "+100", Cadence: 7},
			{ID: 2, Name: "Bob", Number: "+200", Cadence: 14},
		},
	}

	updated := models.Contact{ID: 1, Name: "Ana", Number: "+100", Cadence: 7, LastContact: time.Now()}
	if err := dir.UpdateContact(context.Background(), updated); err != nil {
		t.Fatalf("UpdateContact: %v", err)
	}

	got, ok := dir.ContactByID(1)
	if !ok {
		t.Fatal("contact 1 not found")
	}
	if got.LastContact.IsZero() {
		t.Error("update was not applied to the backing list")
	}
	if len(dir.UpdatedContacts()) != 1 {
		t.Error("update was not recorded")
	}
}

func TestFakeDirectoryDeleteScheduledMessage(t *testing.T) {
	dir := &FakeDirectory{
		Messages: []models.ScheduledMessage{
			{ID: 42, Number: "+200", Message: "Reminder"},
			{ID: 43, Number: "+300", Message: "Other"},
		},
	}

	if err := dir.DeleteScheduledMessage(context.Background(), 42); err != nil {
		t.Fatalf("DeleteScheduledMessage: %v", err)
	}
	msgs, _ := dir.GetScheduledMessages(context.Background())
	if len(msgs) != 1 || msgs[0].ID != 43 {
		t.Errorf("unexpected remaining messages: %+v", msgs)
	}
}

func TestFakeDirectoryErrors(t *testing.T) {
	wantErr := errors.New("down")
	dir := &FakeDirectory{ContactsErr: wantErr}
	if _, err := dir.GetContacts(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("expected injected error, got %v", err)
	}
}

func TestFakeSender(t *testing.T) {
	sender := &FakeSender{FailFor: map[string]error{"+bad": errors.New("rejected")}}

	if err := sender.SendMessage(context.Background(), "+100", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := sender.SendMessage(context.Background(), "+bad", "hi"); err == nil {
		t.Error("expected per-recipient failure")
	}
	if got := sender.SentTo("+100"); len(got) != 1 || got[0].Body != "hi" {
		t.Errorf("unexpected sends for +100: %+v", got)
	}
	if len(sender.SentMessages()) != 1 {
		t.Error("failed send must not be recorded")
	}
}
