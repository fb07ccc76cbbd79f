package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/models"
	"github.com/keepintouch-app/keepintouch/internal/twilioapi"
	"github.com/keepintouch-app/keepintouch/internal/whatsapp"
	"github.com/keepintouch-app/keepintouch/internal/whatsappcloud"
)

func TestCanonicalizeNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "15551234567", false},
		{"5551234567", "5551234567", false},
		{"+49 170 1234567", "491701234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true}, // too short
	}
	for _, tc := range cases {
		got, err := canonicalizeNumber(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("canonicalizeNumber(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("canonicalizeNumber(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("canonicalizeNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCloudAPIServiceSendMessage(t *testing.T) {
	mock := whatsappcloud.NewMockClient()
	svc := NewCloudAPIService(mock)
	defer svc.Stop()

	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(mock.Sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.Sent))
	}
	if mock.Sent[0].To != "15551234567" {
		t.Errorf("expected canonicalized recipient, got %q", mock.Sent[0].To)
	}
	if mock.Sent[0].Body != "hello" {
		t.Errorf("unexpected body %q", mock.Sent[0].Body)
	}
}

func TestCloudAPIServiceSendMessageInvalidRecipient(t *testing.T) {
	mock := whatsappcloud.NewMockClient()
	svc := NewCloudAPIService(mock)
	defer svc.Stop()

	if err := svc.SendMessage(context.Background(), "not-a-number", "hello"); err == nil {
		t.Error("expected validation error for non-numeric recipient")
	}
	if len(mock.Sent) != 0 {
		t.Error("no message should be sent for an invalid recipient")
	}
}

func TestCloudAPIServiceSendMessageBackendError(t *testing.T) {
	mock := whatsappcloud.NewMockClient()
	mock.Err = errors.New("api down")
	svc := NewCloudAPIService(mock)
	defer svc.Stop()

	if err := svc.SendMessage(context.Background(), "5551234567", "hello"); err == nil {
		t.Error("expected backend error to propagate")
	}
}

func TestCloudAPIServiceStopped(t *testing.T) {
	svc := NewCloudAPIService(whatsappcloud.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "5551234567", "hello"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Double stop must be safe.
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestCloudAPIServiceEmitResponse(t *testing.T) {
	svc := NewCloudAPIService(whatsappcloud.NewMockClient())
	defer svc.Stop()

	svc.EmitResponse(models.Response{From: "+123456", Body: "hey!", Time: 42})

	select {
	case resp := <-svc.Responses():
		if resp.From != "+123456" || resp.Body != "hey!" {
			t.Errorf("unexpected response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response on channel")
	}
}

func TestCloudAPIServiceEmitResponseAfterStop(t *testing.T) {
	svc := NewCloudAPIService(whatsappcloud.NewMockClient())
	svc.Stop()
	// Must not panic on closed channel.
	svc.EmitResponse(models.Response{From: "+123456", Body: "late"})
}

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twilioapi.NewMockClient()
	svc := NewTwilioService(mock)
	defer svc.Stop()

	if err := svc.SendMessage(context.Background(), "+55 11 91234-5678", "oi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "5511912345678" {
		t.Errorf("unexpected sends: %+v", mock.SentMessages)
	}
}

func TestTwilioServiceWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twilioapi.NewMockClient())
	defer svc.Stop()

	form := url.Values{}
	form.Set("From", "whatsapp:+5511912345678")
	form.Set("Body", "tudo bem?")
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	svc.WebhookHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	select {
	case resp := <-svc.Responses():
		if resp.From != "whatsapp:+5511912345678" || resp.Body != "tudo bem?" {
			t.Errorf("unexpected response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for webhook response")
	}
}

func TestTwilioServiceWebhookHandlerMissingFields(t *testing.T) {
	svc := NewTwilioService(twilioapi.NewMockClient())
	defer svc.Stop()

	form := url.Values{}
	form.Set("From", "whatsapp:+5511912345678")
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	svc.WebhookHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing Body, got %d", w.Code)
	}
}

func TestWhatsmeowServiceSendMessage(t *testing.T) {
	svc := NewWhatsmeowService(whatsapp.NewMockClient())
	defer svc.Stop()

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+49 170 1234567", "hallo"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "491701234567", "hallo"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestServiceInterfaceCompliance(t *testing.T) {
	var _ Service = NewCloudAPIService(whatsappcloud.NewMockClient())
	var _ Service = NewTwilioService(twilioapi.NewMockClient())
	var _ Service = NewWhatsmeowService(whatsapp.NewMockClient())
}
