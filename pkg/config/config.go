package config

import "time"

// Store is the persisted key-value configuration shared by every plugin of
// the host. Values are grouped in one section per plugin name.
//
// A Store is owned by the host. Other components may change a section
// between two calls, so callers must re-read instead of caching.
type Store interface {
	// Get returns a copy of the section of the given plugin. A missing
	// section is returned as an empty map.
	Get(plugin string) (map[string]any, error)
	// Set merges values into the section of the given plugin.
	Set(plugin string, values map[string]any) error
}

// Config is the typed view of the controller's section of a Store.
type Config interface {
	LastKnownPort() (string, bool)
	StepTimeout() time.Duration
	StepsPerUnit() float64
	BoardID() string
	FirmwareDir() string
	BaudRate() int
	PollInterval() time.Duration
	AutoReflash() bool
	ReconnectSchedule() string
	StepMode() StepMode

	SetLastKnownPort(string) error
	SetStepTimeout(time.Duration) error
	SetValues(map[string]any) error

	// Values returns the raw section with defaults applied.
	Values() map[string]any
}

// StepMode selects how a step decides it is complete.
type StepMode string

const (
	// StepModeDevice waits until the device reports zero steps remaining.
	StepModeDevice StepMode = "device"
	// StepModeTimer waits for step_timeout_ms to elapse.
	StepModeTimer StepMode = "timer"
)

// Keys of the controller's section.
const (
	KeyLastKnownPort     = "last_known_port"
	KeyStepTimeoutMS     = "step_timeout_ms"
	KeyStepsPerUnit      = "steps_per_unit"
	KeyBoardID           = "board_id"
	KeyFirmwareDir       = "firmware_dir"
	KeyBaudRate          = "baud_rate"
	KeyPollIntervalMS    = "poll_interval_ms"
	KeyAutoReflash       = "auto_reflash"
	KeyReconnectSchedule = "reconnect_schedule"
	KeyStepMode          = "step_mode"
)
