package outreach

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/models"
)

// Poller implements polling mode: each pass fetches a fresh snapshot of the
// directory, filters it to what is due right now, and sends.
//
// Passes of the same kind are mutually exclusive. Overlapping polls over one
// snapshot would double-send anything due, so a pass that would overlap fails
// with ErrPassInProgress instead of waiting.
type Poller struct {
	dir    Directory
	sender Sender
	rec    Recorder
	now    func() time.Time

	touchpointMu sync.Mutex
	birthdayMu   sync.Mutex
	messageMu    sync.Mutex
}

// NewPoller creates a poller over the given directory and sender.
func NewPoller(dir Directory, sender Sender, opts ...Option) *Poller {
	cfg := buildOpts(opts)
	return &Poller{
		dir:    dir,
		sender: sender,
		rec:    cfg.Recorder,
		now:    cfg.Now,
	}
}

// SendTouchpoints runs one touchpoint pass: every contact whose cadence has
// elapsed since lastContact gets the touchpoint text, and on a confirmed send
// its lastContact advances to now. The returned bool reports whether the
// directory held any contacts at all.
func (p *Poller) SendTouchpoints(ctx context.Context) (bool, error) {
	if !p.touchpointMu.TryLock() {
		return false, ErrPassInProgress
	}
	defer p.touchpointMu.Unlock()

	contacts, err := p.dir.GetContacts(ctx)
	if err != nil {
		return false, fmt.Errorf("touchpoint pass: %w", err)
	}

	now := p.now()
	for _, contact := range contacts {
		if err := contact.Validate(); err != nil {
			slog.Warn("Skipping invalid contact in touchpoint pass", "error", err, "id", contact.ID)
			continue
		}
		if !contact.NeverContacted() && daysSince(now, contact.LastContact) < contact.Cadence {
			continue
		}
		p.deliverTouchpoint(ctx, contact, now)
	}
	return len(contacts) > 0, nil
}

// deliverTouchpoint sends one touchpoint and advances lastContact on success.
func (p *Poller) deliverTouchpoint(ctx context.Context, contact models.Contact, now time.Time) {
	if err := p.sender.SendMessage(ctx, contact.Number, TouchpointMessage(contact.Name)); err != nil {
		slog.Error("Touchpoint send failed", "error", err, "number", contact.Number)
		p.record(contact.Number, models.ReceiptKindTouchpoint, models.MessageStatusFailed, now)
		return
	}
	p.record(contact.Number, models.ReceiptKindTouchpoint, models.MessageStatusSent, now)
	slog.Info("Touchpoint sent", "number", contact.Number, "name", contact.Name)

	contact.LastContact = now
	if err := p.dir.UpdateContact(ctx, contact); err != nil {
		// The send already happened; dropping the write-back means the contact
		// may get another touchpoint next pass.
		slog.Error("Failed to advance lastContact after touchpoint", "error", err, "id", contact.ID)
	}
}

// SendBirthdayMessages runs one birthday pass: every contact whose birthday
// month/day is today and who has not already been contacted today gets the
// birthday text. The lastContact advance is what suppresses a second send on
// the same date.
func (p *Poller) SendBirthdayMessages(ctx context.Context) (bool, error) {
	if !p.birthdayMu.TryLock() {
		return false, ErrPassInProgress
	}
	defer p.birthdayMu.Unlock()

	contacts, err := p.dir.GetContacts(ctx)
	if err != nil {
		return false, fmt.Errorf("birthday pass: %w", err)
	}

	now := p.now()
	for _, contact := range contacts {
		if contact.Number == "" {
			slog.Warn("Skipping contact without number in birthday pass", "id", contact.ID)
			continue
		}
		if !sameMonthDay(contact.Birthday, now) || sameDate(contact.LastContact, now) {
			continue
		}
		if err := p.sender.SendMessage(ctx, contact.Number, BirthdayMessage(contact.Name)); err != nil {
			slog.Error("Birthday send failed", "error", err, "number", contact.Number)
			p.record(contact.Number, models.ReceiptKindBirthday, models.MessageStatusFailed, now)
			continue
		}
		p.record(contact.Number, models.ReceiptKindBirthday, models.MessageStatusSent, now)
		slog.Info("Birthday message sent", "number", contact.Number, "name", contact.Name)

		contact.LastContact = now
		if err := p.dir.UpdateContact(ctx, contact); err != nil {
			slog.Error("Failed to advance lastContact after birthday message", "error", err, "id", contact.ID)
		}
	}
	return len(contacts) > 0, nil
}

// SendScheduledMessages runs one scheduled-message pass: every pending message
// whose timestamp has passed is sent, then deleted from the directory, and the
// matching contact's lastContact advances. A failed send leaves the record in
// place, so the next pass retries it.
func (p *Poller) SendScheduledMessages(ctx context.Context) (bool, error) {
	if !p.messageMu.TryLock() {
		return false, ErrPassInProgress
	}
	defer p.messageMu.Unlock()

	messages, err := p.dir.GetScheduledMessages(ctx)
	if err != nil {
		return false, fmt.Errorf("scheduled message pass: %w", err)
	}
	contacts, err := p.dir.GetContacts(ctx)
	if err != nil {
		return false, fmt.Errorf("scheduled message pass: %w", err)
	}

	byNumber := make(map[string]models.Contact, len(contacts))
	for _, contact := range contacts {
		byNumber[contact.Number] = contact
	}

	now := p.now()
	for _, msg := range messages {
		if err := msg.Validate(); err != nil {
			slog.Warn("Skipping invalid scheduled message", "error", err, "id", msg.ID)
			continue
		}
		if msg.Timestamp.After(now) {
			continue
		}
		if err := p.sender.SendMessage(ctx, msg.Number, msg.Message); err != nil {
			slog.Error("Scheduled message send failed", "error", err, "id", msg.ID, "number", msg.Number)
			p.record(msg.Number, models.ReceiptKindMessage, models.MessageStatusFailed, now)
			continue
		}
		p.record(msg.Number, models.ReceiptKindMessage, models.MessageStatusSent, now)
		slog.Info("Scheduled message sent", "id", msg.ID, "number", msg.Number)

		if err := p.dir.DeleteScheduledMessage(ctx, msg.ID); err != nil {
			// Record stays upstream; the next pass will send it again.
			slog.Error("Failed to delete scheduled message after send", "error", err, "id", msg.ID)
		}
		if contact, ok := byNumber[msg.Number]; ok {
			contact.LastContact = now
			if err := p.dir.UpdateContact(ctx, contact); err != nil {
				slog.Error("Failed to advance lastContact after scheduled message", "error", err, "id", contact.ID)
			}
		}
	}
	return len(messages) > 0, nil
}

// record appends a receipt to the outreach log when a recorder is configured.
func (p *Poller) record(to string, kind models.ReceiptKind, status models.MessageStatus, now time.Time) {
	if p.rec == nil {
		return
	}
	if err := p.rec.AddReceipt(models.Receipt{To: to, Kind: kind, Status: status, Time: now.Unix()}); err != nil {
		slog.Error("Failed to record receipt", "error", err, "to", to, "kind", string(kind))
	}
}
