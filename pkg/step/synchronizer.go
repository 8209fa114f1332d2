package step

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodectl/nodectl/pkg/device"
)

const (
	defaultPollInterval = 10 * time.Millisecond
	// pollCallTimeout bounds a single steps_remaining request.
	pollCallTimeout = 2 * time.Second
)

// Request describes one step to run.
type Request struct {
	Mode    Mode
	Proxy   device.Proxy // nil when no device session exists
	Host    HostContext
	Options Options
	// StepsPerUnit converts host units to full motor steps.
	StepsPerUnit float64
	// Timeout is the delay of a timer-bound step.
	Timeout time.Duration
	// PollInterval is the delay between steps_remaining polls.
	PollInterval time.Duration
}

// RunInfo is what callbacks see of a run.
type RunInfo struct {
	ID        string
	Mode      Mode
	StartedAt time.Time
	Host      HostContext
	Options   Options
}

// Hooks are optional callbacks of timer-bound steps. An error or a panic
// in either of them fails the step.
type Hooks struct {
	// Tick runs once, asynchronously, before the timer fires.
	Tick func(RunInfo) error
	// Fire runs when the timer fires, before the outcome is emitted.
	Fire func(RunInfo) error
}

// Run is a handle on one accepted step. Done is closed once the step has
// emitted its outcome or was cancelled by a newer step.
type Run struct {
	id        string
	req       Request
	startedAt time.Time
	timer     *time.Timer

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once

	emitted   bool
	cancelled bool
	outcome   Outcome
	err       error
}

func newRun(req Request) *Run {
	return &Run{
		id:        runID(),
		req:       req,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *Run) ID() string            { return r.id }
func (r *Run) Mode() Mode            { return r.req.Mode }
func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns the outcome and failure of the run. It is only meaningful
// after Done is closed. A cancelled run has an empty outcome.
func (r *Run) Result() (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, r.err
	default:
		return "", nil
	}
}

// Cancelled reports whether the run was superseded without an outcome.
func (r *Run) Cancelled() bool {
	select {
	case <-r.done:
		return r.cancelled
	default:
		return false
	}
}

func (r *Run) info() RunInfo {
	return RunInfo{
		ID:        r.id,
		Mode:      r.req.Mode,
		StartedAt: r.startedAt,
		Host:      r.req.Host,
		Options:   r.req.Options,
	}
}

func (r *Run) stopLocked() {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.timer != nil {
		r.timer.Stop()
	}
}

func (r *Run) closeDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

// Synchronizer runs the steps of one plugin instance, one at a time, and
// reports exactly one Outcome per step to the Notifier.
type Synchronizer struct {
	plugin   string
	notifier Notifier
	hooks    Hooks

	mu     sync.Mutex
	phase  Phase
	active *Run
	last   *Run
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithHooks installs tick and fire callbacks for timer-bound steps.
func WithHooks(h Hooks) Option {
	return func(s *Synchronizer) {
		s.hooks = h
	}
}

func NewSynchronizer(plugin string, notifier Notifier, opts ...Option) *Synchronizer {
	if notifier == nil {
		panic("notifier cannot be nil")
	}

	s := &Synchronizer{
		plugin:   plugin,
		notifier: notifier,
		phase:    PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a step. It never blocks until the step completes; wait on
// the returned Run for that.
//
// A pending timer-bound step is cancelled first and will not emit. A running
// device-bound step cannot be cancelled, so Start returns ErrStepInProgress
// and nothing is emitted for that call.
func (s *Synchronizer) Start(ctx context.Context, req Request) (*Run, error) {
	s.mu.Lock()
	if prev := s.active; prev != nil {
		if prev.req.Mode == ModeDeviceBound {
			s.mu.Unlock()
			return nil, ErrStepInProgress
		}
		s.cancelLocked(prev, "superseded by a new step")
	}
	r := newRun(req)
	s.active = r
	s.phase = PhaseStarting
	s.mu.Unlock()

	s.logger(r).Debug("step starting")

	switch req.Mode {
	case ModeTimerBound:
		s.startTimer(r)
	case ModeDeviceBound:
		s.startDevice(ctx, r)
	default:
		s.finish(r, OutcomeFail, &StepComputationError{Err: fmt.Errorf("unknown step mode %q", req.Mode)})
	}

	return r, nil
}

func (s *Synchronizer) startDevice(ctx context.Context, r *Run) {
	defer func() {
		if rec := recover(); rec != nil {
			s.finish(r, OutcomeFail, &StepComputationError{Err: fmt.Errorf("panic: %v", rec)})
		}
	}()

	req := r.req
	// Protocols can be edited offline: without a session, or when the host
	// is neither in realtime mode nor running, the step passes through.
	if req.Proxy == nil || !req.Host.Active() {
		s.logger(r).WithFields(logrus.Fields{
			"connected": req.Proxy != nil,
			"realtime":  req.Host.Realtime,
			"running":   req.Host.Running,
		}).Debug("skipping device synchronization")
		s.finish(r, OutcomeContinue, nil)
		return
	}

	m, err := ComputeMotion(ctx, req.Proxy, req.StepsPerUnit, req.Options)
	if err != nil {
		s.finish(r, OutcomeFail, err)
		return
	}

	s.logger(r).WithFields(logrus.Fields{
		"steps":          m.Steps,
		"stepsPerSecond": m.StepsPerSecond,
	}).Info("moving")

	if err := req.Proxy.Move(ctx, m.Steps, m.StepsPerSecond); err != nil {
		s.finish(r, OutcomeFail, &DeviceCommandError{Op: "move", Err: err})
		return
	}

	if !s.markRunning(r) {
		return
	}
	go s.poll(r)
}

// poll waits for the device to report that the move is over. The ticker
// wait is where the step yields; other work proceeds meanwhile.
func (s *Synchronizer) poll(r *Run) {
	defer func() {
		if rec := recover(); rec != nil {
			s.finish(r, OutcomeFail, &DeviceCommandError{Op: "steps_remaining", Err: fmt.Errorf("panic: %v", rec)})
		}
	}()

	interval := r.req.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), pollCallTimeout)
		n, err := r.req.Proxy.StepsRemaining(ctx)
		cancel()
		if err != nil {
			s.finish(r, OutcomeFail, &DeviceCommandError{Op: "steps_remaining", Err: err})
			return
		}
		if n == 0 {
			s.finish(r, OutcomeContinue, nil)
			return
		}
		s.logger(r).WithField("stepsRemaining", n).Trace("waiting for device")
	}
}

func (s *Synchronizer) startTimer(r *Run) {
	delay := r.req.Timeout
	if delay <= 0 {
		s.finish(r, OutcomeFail, &StepComputationError{Err: fmt.Errorf("step timeout must be positive, got %s", delay)})
		return
	}

	s.mu.Lock()
	if s.active != r {
		s.mu.Unlock()
		return
	}
	r.timer = time.NewTimer(delay)
	s.phase = PhaseRunning
	s.mu.Unlock()

	s.logger(r).WithField("timeout", delay).Debug("step timer scheduled")

	go s.runTimer(r)
}

func (s *Synchronizer) runTimer(r *Run) {
	defer func() {
		if rec := recover(); rec != nil {
			s.finish(r, OutcomeFail, &TimerCallbackError{Err: fmt.Errorf("panic: %v", rec)})
		}
	}()

	// The idle tick always runs before the timed callback.
	s.mu.Lock()
	if s.active != r {
		s.mu.Unlock()
		return
	}
	r.startedAt = time.Now()
	info := r.info()
	s.mu.Unlock()

	if s.hooks.Tick != nil {
		if err := s.hooks.Tick(info); err != nil {
			s.finish(r, OutcomeFail, &TimerCallbackError{Err: err})
			return
		}
	}

	select {
	case <-r.stop:
		return
	case <-r.timer.C:
	}

	if s.hooks.Fire != nil {
		if err := s.hooks.Fire(info); err != nil {
			s.finish(r, OutcomeFail, &TimerCallbackError{Err: err})
			return
		}
	}

	// One shot: nothing reschedules the timer.
	s.finish(r, OutcomeContinue, nil)
}

func (s *Synchronizer) markRunning(r *Run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != r {
		return false
	}
	s.phase = PhaseRunning
	return true
}

// finish emits the outcome of r unless r already emitted or was cancelled.
// It reports whether it emitted.
func (s *Synchronizer) finish(r *Run, outcome Outcome, err error) bool {
	s.mu.Lock()
	if r.emitted || r.cancelled || s.active != r {
		s.mu.Unlock()
		return false
	}
	r.emitted = true
	r.outcome = outcome
	r.err = err
	r.stopLocked()
	s.active = nil
	s.last = r
	s.phase = PhaseCompleted
	s.mu.Unlock()

	log := s.logger(r).WithFields(logrus.Fields{
		"outcome":  outcome,
		"duration": time.Since(r.startedAt),
	})
	if err != nil {
		log.WithError(err).Error("step failed")
	} else {
		log.Info("step complete")
	}

	defer r.closeDone()
	defer func() {
		s.mu.Lock()
		if s.phase == PhaseCompleted {
			s.phase = PhaseIdle
		}
		s.mu.Unlock()
	}()

	s.emit(r, outcome)
	return true
}

func (s *Synchronizer) emit(r *Run, outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			// The outcome was handed over already; never emit twice.
			s.logger(r).Errorf("step outcome notifier panicked: %v", rec)
		}
	}()
	s.notifier.NotifyStepComplete(s.plugin, outcome)
}

func (s *Synchronizer) cancelLocked(r *Run, reason string) {
	r.cancelled = true
	r.stopLocked()
	r.closeDone()
	if s.active == r {
		s.active = nil
		s.phase = PhaseIdle
	}
	s.logger(r).WithField("reason", reason).Info("cancelled pending step")
}

// Shutdown cancels the active step without emitting an outcome. It is meant
// for process exit only.
func (s *Synchronizer) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.cancelLocked(s.active, "shutdown")
	}
}

// Active returns the run that has not completed yet, or nil.
func (s *Synchronizer) Active() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Status returns a snapshot of the synchronizer.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Phase: s.phase}
	if r := s.active; r != nil {
		st.Mode = r.req.Mode
		st.RunID = r.id
		st.StartedAt = r.startedAt
	}
	if r := s.last; r != nil {
		st.LastRunID = r.id
		st.LastOutcome = r.outcome
		if r.err != nil {
			st.LastError = r.err.Error()
		}
	}
	return st
}

func (s *Synchronizer) logger(r *Run) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"plugin":     s.plugin,
		"runID":      r.id,
		"mode":       r.req.Mode,
		"stepNumber": r.req.Host.StepNumber,
	})
}

// ComputeMotion derives the move command of a step from the device's
// microstep setting.
func ComputeMotion(ctx context.Context, p device.Proxy, stepsPerUnit float64, o Options) (Motion, error) {
	microsteps, err := p.MicrostepSetting(ctx)
	if err != nil {
		return Motion{}, &StepComputationError{Err: fmt.Errorf("read microstep setting: %w", err)}
	}
	return Compute(stepsPerUnit, microsteps, o)
}

// Compute converts host units to microsteps:
//
//	steps            = stepsPerUnit * amount * microsteps
//	steps per second = stepsPerUnit * microsteps * ratePerMinute / 60
func Compute(stepsPerUnit float64, microsteps int, o Options) (Motion, error) {
	if microsteps <= 0 {
		return Motion{}, &StepComputationError{Err: fmt.Errorf("microstep setting must be positive, got %d", microsteps)}
	}
	if !finite(stepsPerUnit) || stepsPerUnit <= 0 {
		return Motion{}, &StepComputationError{Err: fmt.Errorf("steps per unit must be positive, got %v", stepsPerUnit)}
	}
	if !finite(o.Amount) {
		return Motion{}, &StepComputationError{Err: fmt.Errorf("invalid amount %v", o.Amount)}
	}
	if !finite(o.RatePerMinute) || o.RatePerMinute < 0 {
		return Motion{}, &StepComputationError{Err: fmt.Errorf("invalid rate %v", o.RatePerMinute)}
	}

	steps := stepsPerUnit * o.Amount * float64(microsteps)
	if math.Abs(steps) >= math.MaxInt64/2 {
		return Motion{}, &StepComputationError{Err: fmt.Errorf("step count %v out of range", steps)}
	}
	stepsPerSecond := stepsPerUnit * float64(microsteps) * o.RatePerMinute / 60.0

	m := Motion{
		Steps:          int64(math.Round(steps)),
		StepsPerSecond: stepsPerSecond,
	}
	if m.Steps != 0 && m.StepsPerSecond <= 0 {
		return Motion{}, &StepComputationError{Err: fmt.Errorf("rate must be positive to move %d steps", m.Steps)}
	}
	return m, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
