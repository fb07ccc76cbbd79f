package twilioapi

import (
	"context"
	"errors"
	"os"
	"testing"
)

func clearTwilioEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER"} {
		old, had := os.LookupEnv(key)
		os.Unsetenv(key)
		if had {
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	clearTwilioEnv(t)
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
}

func TestNewClientWithOptions(t *testing.T) {
	clearTwilioEnv(t)
	client, err := NewClient(
		WithAccountSID("AC123"),
		WithAuthToken("tok"),
		WithFromWhats("whatsapp:+15550000000"),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.fromWhats != "whatsapp:+15550000000" {
		t.Errorf("unexpected fromWhats %q", client.fromWhats)
	}
}

func TestNewClientEnvFallback(t *testing.T) {
	clearTwilioEnv(t)
	os.Setenv("TWILIO_ACCOUNT_SID", "AC456")
	os.Setenv("TWILIO_AUTH_TOKEN", "envtok")
	os.Setenv("TWILIO_FROM_NUMBER", "whatsapp:+15551111111")
	defer clearTwilioEnv(t)

	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient with env: %v", err)
	}
	if client.fromWhats != "whatsapp:+15551111111" {
		t.Errorf("unexpected fromWhats %q", client.fromWhats)
	}
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()
	if err := mock.SendMessage(context.Background(), "+15551234567", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "+15551234567" {
		t.Errorf("unexpected sends: %+v", mock.SentMessages)
	}

	mock.Err = errors.New("down")
	if err := mock.SendMessage(context.Background(), "+15551234567", "hi"); err == nil {
		t.Error("expected configured error")
	}
}
