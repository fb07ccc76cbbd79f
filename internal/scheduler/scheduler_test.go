package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestScheduleDuplicateName(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.Schedule("touchpoint_+100", RunEvery(time.Hour), func() {}); err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}
	err := s.Schedule("touchpoint_+100", RunEvery(time.Hour), func() {})
	if !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestScheduleValidation(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.Schedule("", RunEvery(time.Hour), func() {}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := s.Schedule("x", RunEvery(time.Hour), nil); err == nil {
		t.Error("expected error for nil action")
	}
	if err := s.Schedule("x", RunEvery(0), func() {}); err == nil {
		t.Error("expected error for non-positive interval")
	}
}

func TestCancelAbsentIsNoOp(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	s.Cancel("nope") // must not panic or error
}

func TestCancelWhereNamePrefix(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	names := []string{"touchpoint_+100", "touchpoint_+200", "birthday_+100", "message_+200_42"}
	for _, name := range names {
		if err := s.Schedule(name, RunEvery(time.Hour), func() {}); err != nil {
			t.Fatalf("schedule %s: %v", name, err)
		}
	}

	removed := s.CancelWhereNamePrefix("touchpoint_")
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	active := s.ListActive()
	want := []string{"birthday_+100", "message_+200_42"}
	if len(active) != len(want) {
		t.Fatalf("expected %v active, got %v", want, active)
	}
	for i, name := range want {
		if active[i] != name {
			t.Errorf("active[%d] = %s, want %s", i, active[i], name)
		}
	}
}

func TestListActiveSnapshot(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.Schedule("touchpoint_+100", RunEvery(time.Hour), func() {}); err != nil {
		t.Fatal(err)
	}
	first := s.ListActive()
	s.Cancel("touchpoint_+100")
	second := s.ListActive()

	if len(first) != 1 || first[0] != "touchpoint_+100" {
		t.Errorf("first snapshot wrong: %v", first)
	}
	if len(second) != 0 {
		t.Errorf("second snapshot should be empty, got %v", second)
	}
}

func TestOneShotFiresAndDeregisters(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	fired := make(chan struct{})
	err := s.Schedule("message_+200_42", RunOnceAt(time.Now().Add(-time.Minute)), func() {
		close(fired)
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("one-shot job did not fire for a past-due trigger")
	}

	// Deregistration happens right after the action returns.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.ListActive()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("one-shot job still registered after firing: %v", s.ListActive())
}

func TestRunEveryFiresRepeatedly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing-dependent test in short mode")
	}
	s := NewScheduler()
	defer s.Stop()

	fires := make(chan struct{}, 8)
	if err := s.Schedule("poll_touchpoints", RunEvery(time.Second), func() {
		fires <- struct{}{}
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-fires:
		case <-time.After(3 * time.Second):
			t.Fatalf("expected fire %d within 3s", i+1)
		}
	}

	// Recurring jobs stay registered after firing.
	if active := s.ListActive(); len(active) != 1 {
		t.Errorf("expected job to remain active, got %v", active)
	}
}

func TestOnceThenEveryScheduleNext(t *testing.T) {
	anchor := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	sched := onceThenEverySchedule{at: anchor, every: 24 * time.Hour}

	if next := sched.Next(anchor.Add(-time.Hour)); !next.Equal(anchor) {
		t.Errorf("before anchor: expected %v, got %v", anchor, next)
	}
	if next := sched.Next(anchor); !next.Equal(anchor.Add(24 * time.Hour)) {
		t.Errorf("at anchor: expected next day, got %v", next)
	}
	if next := sched.Next(anchor.Add(36 * time.Hour)); !next.Equal(anchor.Add(48 * time.Hour)) {
		t.Errorf("mid-period: expected anchor+48h, got %v", next)
	}

	oneShot := onceThenEverySchedule{at: anchor}
	if next := oneShot.Next(anchor.Add(time.Second)); !next.IsZero() {
		t.Errorf("one-shot past anchor should return zero time, got %v", next)
	}
}

func TestPanickingActionRemovedWithoutCrash(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	// A panicking one-shot is still considered fired: the recovery chain logs
	// it and the registry entry is gone afterwards.
	if err := s.Schedule("message_+1_1", RunOnceAt(time.Now().Add(-time.Second)), func() {
		panic("send exploded")
	}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.ListActive()) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("panicking one-shot still registered: %v", s.ListActive())
}
