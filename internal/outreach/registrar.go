package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/models"
	"github.com/keepintouch-app/keepintouch/internal/scheduler"
)

// Registrar implements job-registration mode: the directory is mirrored into
// named jobs on the recurrence scheduler, one per entity, and Resync
// reconciles the registry against a fresh snapshot.
type Registrar struct {
	sched  *scheduler.Scheduler
	dir    Directory
	sender Sender
	rec    Recorder
	now    func() time.Time

	// resyncMu keeps cancel-all strictly before reschedule-all; a second
	// resync starting mid-way could otherwise see a half-cleared registry.
	resyncMu sync.Mutex
}

// NewRegistrar creates a registrar over the given scheduler, directory and sender.
func NewRegistrar(sched *scheduler.Scheduler, dir Directory, sender Sender, opts ...Option) *Registrar {
	cfg := buildOpts(opts)
	return &Registrar{
		sched:  sched,
		dir:    dir,
		sender: sender,
		rec:    cfg.Recorder,
		now:    cfg.Now,
	}
}

// ScheduleTouchpoints registers one recurring touchpoint job per contact,
// firing every cadence days. Callers must cancel prior touchpoint jobs first;
// a still-registered name fails with ErrDuplicateJob.
func (r *Registrar) ScheduleTouchpoints(contacts []models.Contact) error {
	var errs []error
	for _, contact := range contacts {
		if err := contact.Validate(); err != nil {
			slog.Warn("Skipping invalid contact in touchpoint scheduling", "error", err, "id", contact.ID)
			continue
		}
		interval := time.Duration(contact.Cadence) * 24 * time.Hour
		err := r.sched.Schedule(touchpointJobName(contact.Number), scheduler.RunEvery(interval), func() {
			r.fireTouchpoint(contact)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule touchpoint for %s: %w", contact.Number, err))
		}
	}
	slog.Debug("Touchpoint jobs scheduled", "contacts", len(contacts), "failures", len(errs))
	return errors.Join(errs...)
}

// fireTouchpoint is the recurring touchpoint job action.
func (r *Registrar) fireTouchpoint(contact models.Contact) {
	ctx := context.Background()
	now := r.now()
	if err := r.sender.SendMessage(ctx, contact.Number, TouchpointMessage(contact.Name)); err != nil {
		slog.Error("Touchpoint job send failed", "error", err, "number", contact.Number)
		r.record(contact.Number, models.ReceiptKindTouchpoint, models.MessageStatusFailed, now)
		return
	}
	r.record(contact.Number, models.ReceiptKindTouchpoint, models.MessageStatusSent, now)

	contact.LastContact = now
	if err := r.dir.UpdateContact(ctx, contact); err != nil {
		slog.Error("Failed to advance lastContact after touchpoint job", "error", err, "id", contact.ID)
	}
}

// ScheduleBirthdayMessages registers one birthday job per contact, firing at
// the next occurrence of the contact's birthday and yearly thereafter.
func (r *Registrar) ScheduleBirthdayMessages(contacts []models.Contact) error {
	var errs []error
	now := r.now()
	for _, contact := range contacts {
		if contact.Number == "" || contact.Birthday.IsZero() {
			slog.Warn("Skipping contact without number or birthday in birthday scheduling", "id", contact.ID)
			continue
		}
		next := nextBirthdayOccurrence(contact.Birthday, now)
		yearAfter := next.AddDate(1, 0, 0).Sub(next)
		err := r.sched.Schedule(birthdayJobName(contact.Number), scheduler.RunOnceAtThenEvery(next, yearAfter), func() {
			r.fireBirthday(contact)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule birthday for %s: %w", contact.Number, err))
		}
	}
	slog.Debug("Birthday jobs scheduled", "contacts", len(contacts), "failures", len(errs))
	return errors.Join(errs...)
}

// fireBirthday is the yearly birthday job action.
func (r *Registrar) fireBirthday(contact models.Contact) {
	ctx := context.Background()
	now := r.now()
	if err := r.sender.SendMessage(ctx, contact.Number, BirthdayMessage(contact.Name)); err != nil {
		slog.Error("Birthday job send failed", "error", err, "number", contact.Number)
		r.record(contact.Number, models.ReceiptKindBirthday, models.MessageStatusFailed, now)
		return
	}
	r.record(contact.Number, models.ReceiptKindBirthday, models.MessageStatusSent, now)

	contact.LastContact = now
	if err := r.dir.UpdateContact(ctx, contact); err != nil {
		slog.Error("Failed to advance lastContact after birthday job", "error", err, "id", contact.ID)
	}
}

// ScheduleScheduledMessages registers one one-shot job per pending message,
// firing at its timestamp. Past-due messages fire immediately.
func (r *Registrar) ScheduleScheduledMessages(messages []models.ScheduledMessage) error {
	var errs []error
	for _, msg := range messages {
		if err := msg.Validate(); err != nil {
			slog.Warn("Skipping invalid scheduled message in scheduling", "error", err, "id", msg.ID)
			continue
		}
		err := r.sched.Schedule(messageJobName(msg.Number, msg.ID), scheduler.RunOnceAt(msg.Timestamp), func() {
			r.fireScheduledMessage(msg)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule message %d: %w", msg.ID, err))
		}
	}
	slog.Debug("Message jobs scheduled", "messages", len(messages), "failures", len(errs))
	return errors.Join(errs...)
}

// fireScheduledMessage is the one-shot message job action. A failed send does
// not delete the source record; the next resync re-registers the job.
func (r *Registrar) fireScheduledMessage(msg models.ScheduledMessage) {
	ctx := context.Background()
	now := r.now()
	if err := r.sender.SendMessage(ctx, msg.Number, msg.Message); err != nil {
		slog.Error("Scheduled message job send failed", "error", err, "id", msg.ID, "number", msg.Number)
		r.record(msg.Number, models.ReceiptKindMessage, models.MessageStatusFailed, now)
		return
	}
	r.record(msg.Number, models.ReceiptKindMessage, models.MessageStatusSent, now)

	if err := r.dir.DeleteScheduledMessage(ctx, msg.ID); err != nil {
		slog.Error("Failed to delete scheduled message after job send", "error", err, "id", msg.ID)
	}
}

// RemoveAllTouchpointJobs cancels every touchpoint job and returns the count.
func (r *Registrar) RemoveAllTouchpointJobs() int {
	return r.sched.CancelWhereNamePrefix(TouchpointJobPrefix)
}

// RemoveAllBirthdayJobs cancels every birthday job and returns the count.
func (r *Registrar) RemoveAllBirthdayJobs() int {
	return r.sched.CancelWhereNamePrefix(BirthdayJobPrefix)
}

// RemoveAllMessageJobs cancels every scheduled-message job and returns the count.
func (r *Registrar) RemoveAllMessageJobs() int {
	return r.sched.CancelWhereNamePrefix(MessageJobPrefix)
}

// Resync reconciles the job registry against a fresh directory snapshot. Both
// fetches happen before anything is cancelled, so a fetch failure aborts with
// the registry untouched. After a successful resync exactly one job exists per
// current contact and pending message.
func (r *Registrar) Resync(ctx context.Context) error {
	r.resyncMu.Lock()
	defer r.resyncMu.Unlock()

	contacts, err := r.dir.GetContacts(ctx)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	messages, err := r.dir.GetScheduledMessages(ctx)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	removed := r.RemoveAllTouchpointJobs() + r.RemoveAllBirthdayJobs() + r.RemoveAllMessageJobs()

	errs := []error{
		r.ScheduleTouchpoints(contacts),
		r.ScheduleBirthdayMessages(contacts),
		r.ScheduleScheduledMessages(messages),
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	slog.Info("Resync complete", "contacts", len(contacts), "messages", len(messages), "removed_jobs", removed)
	return nil
}

// record appends a receipt to the outreach log when a recorder is configured.
func (r *Registrar) record(to string, kind models.ReceiptKind, status models.MessageStatus, now time.Time) {
	if r.rec == nil {
		return
	}
	if err := r.rec.AddReceipt(models.Receipt{To: to, Kind: kind, Status: status, Time: now.Unix()}); err != nil {
		slog.Error("Failed to record receipt", "error", err, "to", to, "kind", string(kind))
	}
}
