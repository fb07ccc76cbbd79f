// Package outreach is the orchestrator between the directory source and the
// messaging backend. It ships both operating modes of the service:
//
// The Registrar (job-registration mode) mirrors the directory into named jobs
// on the recurrence scheduler, one job per contact or scheduled message, and
// reconciles them on resync. The Poller (polling mode) evaluates the whole
// directory on each pass and sends whatever is due. The two modes are
// alternative designs for the same entity kinds and must not be combined,
// or a due event can be delivered twice.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/models"
)

// ErrPassInProgress is returned when a poll pass of a given kind is requested
// while a previous pass of the same kind is still running.
var ErrPassInProgress = errors.New("poll pass already in progress")

// Job name prefixes for the registrar's scheduler entries.
const (
	TouchpointJobPrefix = "touchpoint_"
	BirthdayJobPrefix   = "birthday_"
	MessageJobPrefix    = "message_"
)

// Directory is the slice of the CRM client the orchestrator consumes.
type Directory interface {
	GetContacts(ctx context.Context) ([]models.Contact, error)
	GetScheduledMessages(ctx context.Context) ([]models.ScheduledMessage, error)
	UpdateContact(ctx context.Context, contact models.Contact) error
	DeleteScheduledMessage(ctx context.Context, id int) error
}

// Sender is the outbound slice of the messaging service.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Recorder receives one receipt per send attempt for the outreach log.
type Recorder interface {
	AddReceipt(receipt models.Receipt) error
}

// Opts holds configuration options shared by the registrar and the poller.
type Opts struct {
	Recorder Recorder
	Now      func() time.Time
}

// Option defines a configuration option for the registrar and the poller.
type Option func(*Opts)

// WithRecorder sets the receipt recorder for the outreach log.
func WithRecorder(rec Recorder) Option {
	return func(o *Opts) { o.Recorder = rec }
}

// WithClock injects the time source. Tests use this to control "now".
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

func buildOpts(opts []Option) Opts {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// TouchpointMessage is the fixed text sent on a touchpoint.
func TouchpointMessage(name string) string {
	return fmt.Sprintf("Hey, how's it going %s?", name)
}

// BirthdayMessage is the fixed text sent on a contact's birthday.
func BirthdayMessage(name string) string {
	return fmt.Sprintf("Happy Birthday %s!", name)
}

// touchpointJobName returns the registrar job name for a contact's touchpoint.
func touchpointJobName(number string) string {
	return TouchpointJobPrefix + number
}

// birthdayJobName returns the registrar job name for a contact's birthday.
func birthdayJobName(number string) string {
	return BirthdayJobPrefix + number
}

// messageJobName returns the registrar job name for a scheduled message.
func messageJobName(number string, id int) string {
	return fmt.Sprintf("%s%s_%d", MessageJobPrefix, number, id)
}

// daysSince returns the number of whole days between then and now.
func daysSince(now, then time.Time) int {
	return int(now.Sub(then).Hours() / 24)
}

// sameDate reports whether a and b fall on the same calendar date.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// sameMonthDay reports whether a and b share month and day. Birthday records
// carry a placeholder year, so only month and day are meaningful.
func sameMonthDay(a, b time.Time) bool {
	return a.Month() == b.Month() && a.Day() == b.Day()
}

// nextBirthdayOccurrence returns the next time the birthday's month/day comes
// around, at midnight local time. A birthday falling today counts as today.
func nextBirthdayOccurrence(birthday, now time.Time) time.Time {
	next := time.Date(now.Year(), birthday.Month(), birthday.Day(), 0, 0, 0, 0, now.Location())
	if sameMonthDay(birthday, now) {
		return next
	}
	if next.Before(now) {
		next = next.AddDate(1, 0, 0)
	}
	return next
}
