package daemon

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// idleWait is how long the loop sleeps when nothing is scheduled.
const idleWait = time.Hour * 10000

// ErrNoSchedule is returned by Skip when nothing is scheduled.
var ErrNoSchedule = errors.New("no active schedule to skip")

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs a task on a cron schedule. Runs never overlap: a run that
// is due while the previous one is still going is skipped.
type Scheduler struct {
	task    TaskFunc
	onError func(error)

	mu       sync.Mutex
	expr     string
	schedule cron.Schedule
	next     time.Time
	running  bool
	busy     bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewScheduler returns a stopped Scheduler with no schedule. onError may
// be nil.
func NewScheduler(task TaskFunc, onError func(error)) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}
	return &Scheduler{
		task:    task,
		onError: onError,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Schedule replaces the schedule. An empty expression turns scheduling off.
func (s *Scheduler) Schedule(expr string) error {
	var sched cron.Schedule
	if expr != "" {
		var err error
		if sched, err = cronParser.Parse(expr); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", expr, err)
		}
	}

	s.mu.Lock()
	if expr == s.expr {
		s.mu.Unlock()
		return nil
	}
	s.expr = expr
	s.schedule = sched
	s.next = time.Time{}
	if sched != nil {
		s.next = sched.Next(time.Now())
	}
	s.mu.Unlock()

	s.poke()
	return nil
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.next.IsZero() {
		s.mu.Unlock()
		return ErrNoSchedule
	}
	s.next = s.schedule.Next(s.next)
	s.mu.Unlock()

	s.poke()
	return nil
}

// Status returns the next run time (zero when unscheduled) and whether the
// loop is running.
func (s *Scheduler) Status() (next time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.running
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.loop()
}

// Stop ends the loop. A task already running is not interrupted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// poke makes the loop re-read the schedule.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	logrus.Debug("scheduler started")
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		s.mu.Lock()
		next := s.next
		s.mu.Unlock()

		wait := idleWait
		if !next.IsZero() {
			wait = max(time.Until(next), 0)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
			s.fire()
		}
	}
}

// fire runs the task if a run is due and moves next past now.
func (s *Scheduler) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.schedule == nil || s.next.IsZero() || now.Before(s.next) {
		return
	}
	logrus.WithField("due", s.next.Format(time.DateTime)).Debug("running scheduled task")

	// Catch up instead of firing repeatedly after a long pause.
	s.next = s.schedule.Next(now)

	if s.busy {
		logrus.Debug("previous scheduled task still running, skipping")
		return
	}
	s.busy = true
	go s.run()
}

func (s *Scheduler) run() {
	err := s.task()

	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()

	if err != nil && s.onError != nil {
		s.onError(fmt.Errorf("task failed: %w", err))
	}
}
