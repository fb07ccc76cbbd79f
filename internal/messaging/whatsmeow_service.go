package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/models"
	"github.com/keepintouch-app/keepintouch/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsmeowService implements Service using a personal WhatsApp account via
// the whatsmeow client. Unlike the Cloud API backend it receives inbound
// messages and delivery receipts over the persistent connection, so it has a
// real event loop.
type WhatsmeowService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // nil when constructed with a mock sender
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewWhatsmeowService creates a WhatsmeowService wrapping the given sender.
func NewWhatsmeowService(client whatsapp.Sender) *WhatsmeowService {
	service := &WhatsmeowService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsmeowService created with full client for event handling")
	} else {
		slog.Debug("WhatsmeowService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient phone number.
func (s *WhatsmeowService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeNumber(recipient)
}

// Start begins the event loop when a full client is available.
func (s *WhatsmeowService) Start(ctx context.Context) error {
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsmeowService event handler started")
	}
	return nil
}

// Stop closes channels and stops the service.
func (s *WhatsmeowService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.receipts)
	close(s.responses)
	slog.Info("WhatsmeowService stopped")
	return nil
}

// SendMessage sends a message over the personal account.
func (s *WhatsmeowService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsmeowService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsmeowService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("WhatsmeowService message sent", "to", canonicalTo)
	return nil
}

// Receipts returns the channel of delivery/read receipt events.
func (s *WhatsmeowService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel of inbound contact responses.
func (s *WhatsmeowService) Responses() <-chan models.Response {
	return s.responses
}

// handleEvents feeds whatsmeow events into the receipt and response channels.
func (s *WhatsmeowService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsmeowService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})

	<-ctx.Done()
	slog.Debug("WhatsmeowService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage processes incoming text messages from contacts.
func (s *WhatsmeowService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsmeowService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	s.safeEmit(models.Response{
		From: e164(evt.Info.Sender.User),
		Body: messageText,
		Time: evt.Info.Timestamp.Unix(),
	})
}

// handleMessageReceipt processes delivery and read receipts.
func (s *WhatsmeowService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}

	receipt := models.Receipt{
		To:     e164(evt.MessageSource.Sender.User),
		Status: status,
		Time:   evt.Timestamp.Unix(),
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsmeowService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

func (s *WhatsmeowService) safeEmit(response models.Response) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case s.responses <- response:
		slog.Debug("WhatsmeowService inbound message forwarded", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsmeowService responses channel blocked, dropping message", "from", response.From)
	}
}

// e164 formats a bare JID user part as an E.164-ish number.
func e164(user string) string {
	if strings.HasPrefix(user, "+") {
		return user
	}
	return "+" + user
}
