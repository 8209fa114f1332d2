package daemon

import (
	"errors"
	"testing"
	"time"
)

func TestCronParse(t *testing.T) {
	schedule, err := cronParser.Parse("@every 10m")
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	now := time.Now()
	next1 := schedule.Next(now)
	next2 := schedule.Next(next1)

	if !next2.After(next1) {
		t.Fatalf("expected next2 to be after next1, got next1=%v next2=%v", next1, next2)
	}
}

func TestSchedulerScheduleStatus(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil)

	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	next, running := s.Status()
	if running {
		t.Fatalf("scheduler should not be running")
	}
	if next.IsZero() {
		t.Fatalf("next run should be set after scheduling")
	}

	if err := s.Schedule(""); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	if next, _ := s.Status(); !next.IsZero() {
		t.Fatalf("empty schedule should clear next run, got %v", next)
	}
}

func TestSchedulerInvalidExpression(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil)
	if err := s.Schedule("every now and then"); err == nil {
		t.Fatalf("expected an error for an invalid expression")
	}
}

func TestSchedulerSkip(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil)
	if err := s.Skip(); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("skip without schedule should fail, got %v", err)
	}
	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	orig, _ := s.Status()
	if orig.IsZero() {
		t.Fatalf("expected next run after scheduling")
	}

	s.Start()
	defer s.Stop()

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip returned error: %v", err)
	}
	skipped, _ := s.Status()
	if !skipped.After(orig) {
		t.Fatalf("expected skip to move schedule forward, got %v <= %v", skipped, orig)
	}
}

var errDeviceNotFound = errors.New("device not found")

func TestSchedulerRunCycle(t *testing.T) {
	taskCh := make(chan struct{}, 4)
	errCh := make(chan error, 4)

	task := func() error {
		taskCh <- struct{}{}
		return errDeviceNotFound
	}

	onError := func(err error) {
		errCh <- err
	}

	s := NewScheduler(task, onError)
	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.mu.Lock()
	s.next = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not execute in time")
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, errDeviceNotFound) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected error callback from failed task")
	}

	next, _ := s.Status()
	if !next.After(time.Now()) {
		t.Fatalf("next run should be in the future, got %v", next)
	}
}

func TestSchedulerRescheduleWhileRunning(t *testing.T) {
	taskCh := make(chan struct{}, 4)
	s := NewScheduler(func() error {
		taskCh <- struct{}{}
		return nil
	}, nil)

	s.Start()
	defer s.Stop()

	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	select {
	case <-taskCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("task did not execute after rescheduling")
	}
}
