package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/models"
	"github.com/keepintouch-app/keepintouch/internal/whatsappcloud"
)

// CloudAPIService implements Service using the WhatsApp Cloud API. This is
// the default backend: the original deployment sends from a business phone
// number through Meta's hosted API.
//
// The Cloud API pushes inbound messages through the HTTP webhook rather than
// a persistent connection, so this service has no background processing; the
// webhook handler feeds EmitResponse directly.
type CloudAPIService struct {
	client    whatsappcloud.Sender
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewCloudAPIService creates a CloudAPIService wrapping the given sender.
func NewCloudAPIService(client whatsappcloud.Sender) *CloudAPIService {
	return &CloudAPIService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient phone number.
func (s *CloudAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeNumber(recipient)
}

// Start is a no-op: inbound traffic arrives through the webhook.
func (s *CloudAPIService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *CloudAPIService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.receipts)
	close(s.responses)
	slog.Info("CloudAPIService stopped")
	return nil
}

// SendMessage sends a text message through the Cloud API.
func (s *CloudAPIService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("CloudAPIService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendTextMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("CloudAPIService SendMessage failed", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("CloudAPIService message sent", "to", canonicalTo)
	return nil
}

// Receipts returns the channel of backend receipt events.
func (s *CloudAPIService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel of inbound contact responses.
func (s *CloudAPIService) Responses() <-chan models.Response {
	return s.responses
}

// EmitResponse pushes an inbound webhook message into the Responses channel.
// Called by the HTTP webhook handler.
func (s *CloudAPIService) EmitResponse(response models.Response) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("CloudAPIService dropping inbound response (service stopped)", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
		slog.Debug("CloudAPIService emitted inbound response", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("CloudAPIService responses channel blocked, dropping message", "from", response.From)
	}
}
