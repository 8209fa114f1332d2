package step

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nodectl/nodectl/pkg/device"
)

type emission struct {
	plugin  string
	outcome Outcome
	at      time.Time
}

type recorder struct {
	mu  sync.Mutex
	got []emission
}

func (r *recorder) NotifyStepComplete(plugin string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, emission{plugin: plugin, outcome: outcome, at: time.Now()})
}

func (r *recorder) emissions() []emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emission(nil), r.got...)
}

func waitDone(t *testing.T, r *Run, d time.Duration) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(d):
		t.Fatalf("run %s did not finish within %s", r.ID(), d)
	}
}

func TestTimerBoundEmitsOnceAfterTimeout(t *testing.T) {
	rec := &recorder{}
	var ticks atomic.Int32
	var tickAt, fireAt atomic.Int64
	s := NewSynchronizer("base-node", rec, WithHooks(Hooks{
		Tick: func(RunInfo) error {
			ticks.Add(1)
			tickAt.Store(time.Now().UnixNano())
			return nil
		},
		Fire: func(RunInfo) error {
			fireAt.Store(time.Now().UnixNano())
			return nil
		},
	}))

	start := time.Now()
	r, err := s.Start(context.Background(), Request{Mode: ModeTimerBound, Timeout: 750 * time.Millisecond})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, r, 3*time.Second)

	got := rec.emissions()
	if len(got) != 1 {
		t.Fatalf("expected exactly one emission, got %d", len(got))
	}
	if got[0].outcome != OutcomeContinue || got[0].plugin != "base-node" {
		t.Fatalf("unexpected emission %+v", got[0])
	}
	if elapsed := got[0].at.Sub(start); elapsed < 750*time.Millisecond {
		t.Fatalf("outcome emitted after %s, want >= 750ms", elapsed)
	}
	if ticks.Load() != 1 {
		t.Fatalf("expected exactly one idle tick, got %d", ticks.Load())
	}
	if tickAt.Load() > fireAt.Load() {
		t.Fatalf("idle tick ran after the timer fired")
	}
	if st := s.Status(); st.Phase != PhaseIdle || st.LastOutcome != OutcomeContinue {
		t.Fatalf("unexpected status after completion: %+v", st)
	}
}

func TestTimerBoundRestartCancelsPending(t *testing.T) {
	rec := &recorder{}
	s := NewSynchronizer("p", rec)

	first, err := s.Start(context.Background(), Request{Mode: ModeTimerBound, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	second, err := s.Start(context.Background(), Request{Mode: ModeTimerBound, Timeout: 150 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	waitDone(t, first, time.Second)
	if !first.Cancelled() {
		t.Fatalf("first run should be cancelled")
	}
	waitDone(t, second, time.Second)

	// Leave room for a stale timer to misfire.
	time.Sleep(150 * time.Millisecond)

	got := rec.emissions()
	if len(got) != 1 {
		t.Fatalf("expected one emission for the second step only, got %d", len(got))
	}
	if outcome, _ := second.Result(); outcome != OutcomeContinue {
		t.Fatalf("second outcome = %s", outcome)
	}
	if outcome, _ := first.Result(); outcome != "" {
		t.Fatalf("cancelled run has outcome %s", outcome)
	}
}

func TestTimerBoundRapidReentry(t *testing.T) {
	rec := &recorder{}
	s := NewSynchronizer("p", rec)

	var last *Run
	for i := 0; i < 20; i++ {
		r, err := s.Start(context.Background(), Request{Mode: ModeTimerBound, Timeout: 30 * time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		last = r
	}
	waitDone(t, last, time.Second)
	time.Sleep(60 * time.Millisecond)

	if n := len(rec.emissions()); n != 1 {
		t.Fatalf("expected 1 emission after rapid re-entry, got %d", n)
	}
}

func TestTimerBoundDelayReadAtStart(t *testing.T) {
	rec := &recorder{}
	s := NewSynchronizer("p", rec)

	timeout := 120 * time.Millisecond
	req := Request{Mode: ModeTimerBound, Timeout: timeout}
	start := time.Now()
	r, _ := s.Start(context.Background(), req)
	// Changing the caller's copy afterwards has no effect on the run.
	req.Timeout = time.Hour
	waitDone(t, r, time.Second)

	if elapsed := rec.emissions()[0].at.Sub(start); elapsed < timeout || elapsed > timeout+500*time.Millisecond {
		t.Fatalf("unexpected delay %s", elapsed)
	}
}

func TestTimerCallbackFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		hooks Hooks
	}{
		{name: "tick error", hooks: Hooks{Tick: func(RunInfo) error { return boom }}},
		{name: "fire error", hooks: Hooks{Fire: func(RunInfo) error { return boom }}},
		{name: "fire panic", hooks: Hooks{Fire: func(RunInfo) error { panic("kaput") }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			s := NewSynchronizer("p", rec, WithHooks(tt.hooks))
			r, err := s.Start(context.Background(), Request{Mode: ModeTimerBound, Timeout: 10 * time.Millisecond})
			if err != nil {
				t.Fatal(err)
			}
			waitDone(t, r, time.Second)

			outcome, runErr := r.Result()
			if outcome != OutcomeFail {
				t.Fatalf("outcome = %s, want Fail", outcome)
			}
			var tce *TimerCallbackError
			if !errors.As(runErr, &tce) {
				t.Fatalf("expected TimerCallbackError, got %v", runErr)
			}
			if n := len(rec.emissions()); n != 1 {
				t.Fatalf("expected one emission, got %d", n)
			}

			// Stale state must not block the next step.
			r2, err := s.Start(context.Background(), Request{Mode: ModeTimerBound, Timeout: 10 * time.Millisecond})
			if err != nil {
				t.Fatalf("restart after failure: %v", err)
			}
			waitDone(t, r2, time.Second)
		})
	}
}

func TestNotifierPanicDoesNotReemit(t *testing.T) {
	var calls atomic.Int32
	s := NewSynchronizer("p", NotifierFunc(func(string, Outcome) {
		calls.Add(1)
		panic("host exploded")
	}))

	r, err := s.Start(context.Background(), Request{Mode: ModeTimerBound, Timeout: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, r, time.Second)
	time.Sleep(20 * time.Millisecond)

	if calls.Load() != 1 {
		t.Fatalf("notifier called %d times, want 1", calls.Load())
	}
	if s.Status().Phase != PhaseIdle {
		t.Fatalf("expected idle after notifier panic, got %s", s.Status().Phase)
	}
}

func TestDeviceBoundCompletesWhenDeviceDone(t *testing.T) {
	rec := &recorder{}
	s := NewSynchronizer("p", rec)
	dev := device.NewMock("COM1")
	dev.Microsteps = 4
	dev.StepsPerPoll = 100

	r, err := s.Start(context.Background(), Request{
		Mode:         ModeDeviceBound,
		Proxy:        dev,
		Host:         HostContext{Running: true},
		Options:      Options{Amount: 10, RatePerMinute: 60},
		StepsPerUnit: 50,
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, r, 2*time.Second)

	moves := dev.Moves()
	if len(moves) != 1 {
		t.Fatalf("expected one move, got %d", len(moves))
	}
	if moves[0].Steps != 2000 || moves[0].StepsPerSecond != 200 {
		t.Fatalf("unexpected move %+v", moves[0])
	}
	if outcome, err := r.Result(); outcome != OutcomeContinue || err != nil {
		t.Fatalf("Result() = %s, %v", outcome, err)
	}
	if n := len(rec.emissions()); n != 1 {
		t.Fatalf("expected one emission, got %d", n)
	}
}

func TestDeviceBoundSkipped(t *testing.T) {
	tests := []struct {
		name  string
		proxy device.Proxy
		host  HostContext
	}{
		{name: "no session", proxy: nil, host: HostContext{Running: true}},
		{name: "host idle", proxy: device.NewMock("COM1"), host: HostContext{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			s := NewSynchronizer("p", rec)
			r, err := s.Start(context.Background(), Request{Mode: ModeDeviceBound, Proxy: tt.proxy, Host: tt.host, StepsPerUnit: 1})
			if err != nil {
				t.Fatal(err)
			}
			waitDone(t, r, time.Second)

			if outcome, _ := r.Result(); outcome != OutcomeContinue {
				t.Fatalf("outcome = %s", outcome)
			}
			if m, ok := tt.proxy.(*device.Mock); ok && len(m.Moves()) != 0 {
				t.Fatalf("device command issued while skipping")
			}
		})
	}
}

func TestDeviceBoundFailures(t *testing.T) {
	boom := errors.New("io error")
	tests := []struct {
		name    string
		mutate  func(*device.Mock)
		opts    Options
		wantErr any
	}{
		{name: "microstep read", mutate: func(m *device.Mock) { m.MicrostepErr = boom }, opts: Options{Amount: 1, RatePerMinute: 1}, wantErr: &StepComputationError{}},
		{name: "nan amount", mutate: func(*device.Mock) {}, opts: Options{Amount: math.NaN(), RatePerMinute: 1}, wantErr: &StepComputationError{}},
		{name: "move", mutate: func(m *device.Mock) { m.MoveErr = boom }, opts: Options{Amount: 1, RatePerMinute: 1}, wantErr: &DeviceCommandError{}},
		{name: "poll", mutate: func(m *device.Mock) { m.RemainingErr = boom }, opts: Options{Amount: 1, RatePerMinute: 1}, wantErr: &DeviceCommandError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			s := NewSynchronizer("p", rec)
			dev := device.NewMock("COM1")
			tt.mutate(dev)

			r, err := s.Start(context.Background(), Request{
				Mode:         ModeDeviceBound,
				Proxy:        dev,
				Host:         HostContext{Realtime: true},
				Options:      tt.opts,
				StepsPerUnit: 1,
				PollInterval: time.Millisecond,
			})
			if err != nil {
				t.Fatal(err)
			}
			waitDone(t, r, time.Second)

			outcome, runErr := r.Result()
			if outcome != OutcomeFail {
				t.Fatalf("outcome = %s, want Fail", outcome)
			}
			switch tt.wantErr.(type) {
			case *StepComputationError:
				var e *StepComputationError
				if !errors.As(runErr, &e) {
					t.Fatalf("expected StepComputationError, got %v", runErr)
				}
			case *DeviceCommandError:
				var e *DeviceCommandError
				if !errors.As(runErr, &e) {
					t.Fatalf("expected DeviceCommandError, got %v", runErr)
				}
			}
			if n := len(rec.emissions()); n != 1 {
				t.Fatalf("expected one emission, got %d", n)
			}
			if s.Status().Phase != PhaseIdle {
				t.Fatalf("expected idle after failure")
			}
		})
	}
}

// A device that never reaches zero keeps the step open forever. This is a
// known liveness gap; the harness only bounds how long it watches.
func TestDeviceBoundStuckDeviceNeverCompletes(t *testing.T) {
	rec := &recorder{}
	s := NewSynchronizer("p", rec)
	dev := device.NewMock("COM1")
	dev.StepsPerPoll = 0

	r, err := s.Start(context.Background(), Request{
		Mode:         ModeDeviceBound,
		Proxy:        dev,
		Host:         HostContext{Running: true},
		Options:      Options{Amount: 1, RatePerMinute: 60},
		StepsPerUnit: 1,
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-r.Done():
		t.Fatalf("stuck device step completed")
	case <-time.After(200 * time.Millisecond):
	}
	if n := len(rec.emissions()); n != 0 {
		t.Fatalf("expected no emission, got %d", n)
	}
	if st := s.Status(); st.Phase != PhaseRunning || st.Mode != ModeDeviceBound {
		t.Fatalf("unexpected status %+v", st)
	}

	if _, err := s.Start(context.Background(), Request{Mode: ModeDeviceBound}); !errors.Is(err, ErrStepInProgress) {
		t.Fatalf("expected ErrStepInProgress, got %v", err)
	}

	s.Shutdown()
	waitDone(t, r, time.Second)
	if n := len(rec.emissions()); n != 0 {
		t.Fatalf("shutdown emitted an outcome")
	}
}

func TestNotifierCanStartNextStep(t *testing.T) {
	var s *Synchronizer
	next := make(chan *Run, 1)
	var count atomic.Int32
	s = NewSynchronizer("p", NotifierFunc(func(string, Outcome) {
		if count.Add(1) == 1 {
			r, err := s.Start(context.Background(), Request{Mode: ModeTimerBound, Timeout: 5 * time.Millisecond})
			if err != nil {
				t.Errorf("nested Start failed: %v", err)
			}
			next <- r
		}
	}))

	r, err := s.Start(context.Background(), Request{Mode: ModeTimerBound, Timeout: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, r, time.Second)
	waitDone(t, <-next, time.Second)

	if count.Load() != 2 {
		t.Fatalf("expected 2 emissions, got %d", count.Load())
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name         string
		stepsPerUnit float64
		microsteps   int
		opts         Options
		want         Motion
		wantErr      bool
	}{
		{name: "basic", stepsPerUnit: 10, microsteps: 16, opts: Options{Amount: 2.5, RatePerMinute: 30}, want: Motion{Steps: 400, StepsPerSecond: 80}},
		{name: "reverse", stepsPerUnit: 10, microsteps: 1, opts: Options{Amount: -1, RatePerMinute: 6}, want: Motion{Steps: -10, StepsPerSecond: 1}},
		{name: "zero amount", stepsPerUnit: 10, microsteps: 1, opts: Options{}, want: Motion{}},
		{name: "zero microsteps", stepsPerUnit: 10, microsteps: 0, opts: Options{Amount: 1, RatePerMinute: 1}, wantErr: true},
		{name: "zero rate", stepsPerUnit: 10, microsteps: 1, opts: Options{Amount: 1}, wantErr: true},
		{name: "negative steps per unit", stepsPerUnit: -1, microsteps: 1, opts: Options{Amount: 1, RatePerMinute: 1}, wantErr: true},
		{name: "infinite rate", stepsPerUnit: 1, microsteps: 1, opts: Options{Amount: 1, RatePerMinute: math.Inf(1)}, wantErr: true},
		{name: "overflow", stepsPerUnit: 1e18, microsteps: 256, opts: Options{Amount: 1e6, RatePerMinute: 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.stepsPerUnit, tt.microsteps, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Compute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("Compute() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
