package events

import "encoding/json"

// Event name constants
const (
	StepComplete     = "step.complete"
	StepTick         = "step.tick"
	DeviceState      = "device.state"
	FirmwareMismatch = "device.firmware"
	DeviceMessage    = "device.message"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// StepCompleteEvent is the typed payload for step.complete.
type StepCompleteEvent struct {
	Plugin  string `json:"plugin"`
	Outcome string `json:"outcome"`
	Ts      int64  `json:"ts"`
}

// StepTickEvent is the typed payload for step.tick, sent once when a
// timer-bound step starts waiting.
type StepTickEvent struct {
	Plugin     string `json:"plugin"`
	RunID      string `json:"runID"`
	StepNumber int    `json:"stepNumber"`
	Ts         int64  `json:"ts"`
}

// DeviceStateEvent is the typed payload for device.state.
type DeviceStateEvent struct {
	State     string `json:"state"`
	Port      string `json:"port,omitempty"`
	Device    string `json:"device,omitempty"`
	Warning   bool   `json:"warning"`
	LastError string `json:"lastError,omitempty"`
	Ts        int64  `json:"ts"`
}

// FirmwareMismatchEvent is the typed payload for device.firmware.
type FirmwareMismatchEvent struct {
	Device        string `json:"device"`
	RemoteVersion string `json:"remoteVersion"`
	HostVersion   string `json:"hostVersion"`
	Reflash       bool   `json:"reflash"`
	Ts            int64  `json:"ts"`
}

// DeviceMessageEvent is the typed payload for device.message.
type DeviceMessageEvent struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.StepCompleteEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Plugin, payload.Outcome)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
