package controller

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoPortsAvailable is returned by Connect when no serial port exists.
	ErrNoPortsAvailable = errors.New("no serial ports available")

	// ErrConnectionExhausted is returned by Connect when every port failed.
	ErrConnectionExhausted = errors.New("could not connect to the device on any port")

	// ErrNoDeviceToFlash is returned by Reflash when no device can be found.
	ErrNoDeviceToFlash = errors.New("no device to flash")

	// ErrNotConnected is returned by operations that need a device session.
	ErrNotConnected = errors.New("device not connected")
)

// PortAttempt is one failed attempt to open a port.
type PortAttempt struct {
	Port string
	Err  error
}

// ConnectionExhaustedError lists every failed attempt. It matches
// ErrConnectionExhausted with errors.Is.
type ConnectionExhaustedError struct {
	Attempts []PortAttempt
}

func (e *ConnectionExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Port, a.Err))
	}
	return fmt.Sprintf("%v (%s)", ErrConnectionExhausted, strings.Join(parts, "; "))
}

func (e *ConnectionExhaustedError) Is(target error) bool {
	return target == ErrConnectionExhausted
}

// WrongDeviceTypeError means the firmware on the port belongs to another
// kind of device.
type WrongDeviceTypeError struct {
	DisplayName string
	PackageName string
	Expected    string
}

func (e *WrongDeviceTypeError) Error() string {
	return fmt.Sprintf("device is not a %s (found %s)", e.Expected, e.DisplayName)
}

// FlashFailedError wraps the cause of a failed firmware upload.
type FlashFailedError struct {
	Port string
	Err  error
}

func (e *FlashFailedError) Error() string {
	return fmt.Sprintf("problem flashing firmware on %s: %v", e.Port, e.Err)
}

func (e *FlashFailedError) Unwrap() error { return e.Err }

// IdentityError means the device identity could not be read.
type IdentityError struct {
	Port string
	Err  error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("failed to read device identity on %s: %v", e.Port, e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }
