package step

import (
	"errors"
	"fmt"
)

// ErrStepInProgress is returned by Start while a device-bound step has not
// finished. Device-bound steps cannot be cancelled.
var ErrStepInProgress = errors.New("a device-bound step is still in progress")

// StepComputationError means the move parameters could not be derived.
type StepComputationError struct {
	Err error
}

func (e *StepComputationError) Error() string {
	return fmt.Sprintf("failed to compute step parameters: %v", e.Err)
}

func (e *StepComputationError) Unwrap() error { return e.Err }

// DeviceCommandError means a command sent to the device failed.
type DeviceCommandError struct {
	Op  string
	Err error
}

func (e *DeviceCommandError) Error() string {
	return fmt.Sprintf("device command %s failed: %v", e.Op, e.Err)
}

func (e *DeviceCommandError) Unwrap() error { return e.Err }

// TimerCallbackError means a tick or timer callback failed or panicked.
type TimerCallbackError struct {
	Err error
}

func (e *TimerCallbackError) Error() string {
	return fmt.Sprintf("step timer callback failed: %v", e.Err)
}

func (e *TimerCallbackError) Unwrap() error { return e.Err }
