package step

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal value of one step.
type Outcome string

const (
	OutcomeContinue Outcome = "Continue"
	OutcomeRepeat   Outcome = "Repeat"
	OutcomeFail     Outcome = "Fail"
)

// Mode is the strategy a step uses to decide it is complete.
type Mode string

const (
	// ModeDeviceBound completes when the device reports zero steps remaining.
	ModeDeviceBound Mode = "DeviceBound"
	// ModeTimerBound completes when the step timeout elapses.
	ModeTimerBound Mode = "TimerBound"
)

// Phase is a state of the Synchronizer.
type Phase string

const (
	PhaseIdle      Phase = "Idle"
	PhaseStarting  Phase = "Starting"
	PhaseRunning   Phase = "Running"
	PhaseCompleted Phase = "Completed"
)

// Options are the per-step parameters supplied by the host.
type Options struct {
	// Amount is how far to move, in host units (e.g. microliters).
	Amount float64 `json:"amount"`
	// RatePerMinute is the speed in host units per minute.
	RatePerMinute float64 `json:"ratePerMinute"`
}

// HostContext is the part of the host's state a step depends on. It is
// passed explicitly instead of being read from process-wide state.
type HostContext struct {
	StepNumber int  `json:"stepNumber"`
	Realtime   bool `json:"realtime"`
	Running    bool `json:"running"`
}

// Active reports whether device commands may be issued.
func (h HostContext) Active() bool {
	return h.Realtime || h.Running
}

// Notifier receives the outcome of each step, exactly once per step.
type Notifier interface {
	NotifyStepComplete(plugin string, outcome Outcome)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(plugin string, outcome Outcome)

func (f NotifierFunc) NotifyStepComplete(plugin string, outcome Outcome) {
	f(plugin, outcome)
}

// Status is a snapshot of the Synchronizer for display.
type Status struct {
	Phase       Phase     `json:"phase"`
	Mode        Mode      `json:"mode,omitempty"`
	RunID       string    `json:"runID,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	LastRunID   string    `json:"lastRunID,omitempty"`
	LastOutcome Outcome   `json:"lastOutcome,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

// Motion is the move command derived from Options.
type Motion struct {
	Steps          int64
	StepsPerSecond float64
}

// runID returns a fresh identifier for a run.
func runID() string {
	return uuid.NewString()
}
