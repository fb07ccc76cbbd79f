// Package scheduler provides the named-job registry for KeepInTouch.
//
// Jobs are registered under deterministic names (for example
// "touchpoint_+15551234567") with one of three trigger policies: run once at
// a point in time, run every fixed interval, or run once at a point in time
// and every interval thereafter. The cron runner supplies the background
// goroutine and panic recovery; this package supplies names, prefix
// cancellation, and one-shot semantics.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrDuplicateJob is returned when a job name is already registered.
// Callers needing an idempotent reschedule must Cancel first.
var ErrDuplicateJob = errors.New("job name already registered")

// pastDueGrace is how far in the future a past-due one-shot job is pushed so
// the cron runner still picks it up.
const pastDueGrace = 50 * time.Millisecond

// TriggerPolicy describes when a job fires.
type TriggerPolicy struct {
	at    time.Time
	every time.Duration
	hasAt bool
}

// RunOnceAt fires at or after t, then the job deregisters itself.
func RunOnceAt(t time.Time) TriggerPolicy {
	return TriggerPolicy{at: t, hasAt: true}
}

// RunEvery fires every interval d, first one interval after registration.
func RunEvery(d time.Duration) TriggerPolicy {
	return TriggerPolicy{every: d}
}

// RunOnceAtThenEvery fires at or after t, then every interval d thereafter.
func RunOnceAtThenEvery(t time.Time, d time.Duration) TriggerPolicy {
	return TriggerPolicy{at: t, every: d, hasAt: true}
}

// oneShot reports whether the job deregisters itself after its first fire.
func (p TriggerPolicy) oneShot() bool {
	return p.hasAt && p.every <= 0
}

func (p TriggerPolicy) validate() error {
	if !p.hasAt && p.every <= 0 {
		return fmt.Errorf("trigger policy requires a fire time or a positive interval")
	}
	if p.hasAt && p.every < 0 {
		return fmt.Errorf("trigger policy interval cannot be negative")
	}
	return nil
}

// onceThenEverySchedule implements cron.Schedule for the run-once-at and
// run-once-at-then-every policies. The anchor time is clamped to the near
// future at registration, so Next never has to track whether the first fire
// already happened: any query time at or past the anchor is a recurrence
// question (or, for one-shots, the zero time, which the cron runner treats
// as "never again").
type onceThenEverySchedule struct {
	at    time.Time
	every time.Duration
}

func (s onceThenEverySchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	if s.every <= 0 {
		return time.Time{}
	}
	elapsed := t.Sub(s.at)
	periods := elapsed/s.every + 1
	return s.at.Add(periods * s.every)
}

// Scheduler maintains the registry of named jobs over a running cron
// instance. All registry mutation is serialized by a mutex so that a bulk
// cancel followed by a bulk reschedule appears atomic with respect to job
// firing.
type Scheduler struct {
	cron *cron.Cron
	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewScheduler creates and starts the job registry.
func NewScheduler() *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{
		cron: c,
		jobs: make(map[string]cron.EntryID),
	}
}

// Schedule registers action under name with the given trigger policy.
// It returns ErrDuplicateJob if the name is already registered. The action
// runs on the cron runner's goroutine, never on the caller's.
func (s *Scheduler) Schedule(name string, policy TriggerPolicy, action func()) error {
	if name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if action == nil {
		return fmt.Errorf("job action cannot be nil")
	}
	if err := policy.validate(); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s: %w", name, ErrDuplicateJob)
	}

	sched := buildSchedule(policy)

	var id cron.EntryID
	job := cron.FuncJob(func() {
		if policy.oneShot() {
			// Deferred so a panicking action still counts as fired; the panic
			// itself is handled by the cron recovery chain.
			defer s.removeFired(name, id)
		}
		action()
	})
	id = s.cron.Schedule(sched, job)
	s.jobs[name] = id
	slog.Debug("Scheduler registered job", "name", name, "one_shot", policy.oneShot(), "every", policy.every)
	return nil
}

// buildSchedule converts a trigger policy into a cron.Schedule.
func buildSchedule(policy TriggerPolicy) cron.Schedule {
	if !policy.hasAt {
		return cron.Every(policy.every)
	}
	at := policy.at
	if now := time.Now(); !at.After(now) {
		// Past-due one-shots still fire, just immediately.
		at = now.Add(pastDueGrace)
	}
	return onceThenEverySchedule{at: at, every: policy.every}
}

// removeFired deregisters a one-shot job after it fired. The registry entry
// is only deleted if it still maps to the same cron entry: a resync may have
// cancelled and re-registered the name while the action was running.
func (s *Scheduler) removeFired(name string, id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.jobs[name]; ok && current == id {
		delete(s.jobs, name)
	}
	s.cron.Remove(id)
	slog.Debug("Scheduler one-shot job fired and removed", "name", name)
}

// Cancel removes the named job if present. Cancelling an absent job is a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
		slog.Debug("Scheduler cancelled job", "name", name)
	}
}

// CancelWhereNamePrefix removes all jobs whose name starts with prefix and
// returns the number removed. Used for bulk resync. Cancellation is
// synchronous for not-yet-fired jobs; it cannot interrupt an action already
// in progress.
func (s *Scheduler) CancelWhereNamePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for name, id := range s.jobs {
		if strings.HasPrefix(name, prefix) {
			s.cron.Remove(id)
			delete(s.jobs, name)
			removed++
		}
	}
	slog.Debug("Scheduler cancelled jobs by prefix", "prefix", prefix, "removed", removed)
	return removed
}

// ListActive returns a fresh snapshot of the registered job names, sorted.
func (s *Scheduler) ListActive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop stops the cron runner and waits for in-flight actions to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Scheduler stopped")
}
