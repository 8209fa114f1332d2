package device

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by a Mock after Close.
var ErrClosed = errors.New("device closed")

var _ Proxy = &Mock{}

// Mock is an in-memory device. Each call to StepsRemaining advances the
// pending move by StepsPerPoll steps, which makes it usable both in tests and
// in the daemon's --mock mode.
type Mock struct {
	PortName      string
	Props         Properties
	HostPackage   string
	HostVersion   string
	RemoteVersion string
	Microsteps    int
	StepsPerPoll  int64
	DeviceConfig  map[string]any
	PropertiesErr error
	MoveErr       error
	RemainingErr  error
	MicrostepErr  error

	mu        sync.Mutex
	closed    bool
	remaining int64
	moves     []MockMove
}

// MockMove records one Move call.
type MockMove struct {
	Steps          int64
	StepsPerSecond float64
}

// NewMock returns a Mock whose firmware matches the host.
func NewMock(port string) *Mock {
	return &Mock{
		PortName:      port,
		Props:         Properties{PackageName: "base_node", DisplayName: "Base Node"},
		HostPackage:   "base_node",
		HostVersion:   "1.0",
		RemoteVersion: "1.0",
		Microsteps:    16,
		StepsPerPoll:  1000,
		DeviceConfig:  map[string]any{},
	}
}

func (m *Mock) check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Mock) Port() string { return m.PortName }

func (m *Mock) Properties(_ context.Context) (Properties, error) {
	if err := m.check(); err != nil {
		return Properties{}, err
	}
	if m.PropertiesErr != nil {
		return Properties{}, m.PropertiesErr
	}
	return m.Props, nil
}

func (m *Mock) HostPackageName() string     { return m.HostPackage }
func (m *Mock) HostSoftwareVersion() string { return m.HostVersion }

func (m *Mock) RemoteSoftwareVersion(_ context.Context) (string, error) {
	if err := m.check(); err != nil {
		return "", err
	}
	return m.RemoteVersion, nil
}

func (m *Mock) MicrostepSetting(_ context.Context) (int, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	if m.MicrostepErr != nil {
		return 0, m.MicrostepErr
	}
	return m.Microsteps, nil
}

func (m *Mock) Move(_ context.Context, steps int64, stepsPerSecond float64) error {
	if err := m.check(); err != nil {
		return err
	}
	if m.MoveErr != nil {
		return m.MoveErr
	}

	logrus.WithFields(logrus.Fields{
		"port":           m.PortName,
		"steps":          steps,
		"stepsPerSecond": stepsPerSecond,
	}).Trace("mock device move")

	m.mu.Lock()
	defer m.mu.Unlock()
	if steps < 0 {
		steps = -steps
	}
	m.remaining = steps
	m.moves = append(m.moves, MockMove{Steps: steps, StepsPerSecond: stepsPerSecond})
	return nil
}

func (m *Mock) StepsRemaining(_ context.Context) (int64, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	if m.RemainingErr != nil {
		return 0, m.RemainingErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ret := m.remaining
	m.remaining -= m.StepsPerPoll
	if m.remaining < 0 {
		m.remaining = 0
	}
	return ret, nil
}

func (m *Mock) Config(_ context.Context) (map[string]any, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make(map[string]any, len(m.DeviceConfig))
	for k, v := range m.DeviceConfig {
		ret[k] = v
	}
	return ret, nil
}

func (m *Mock) UpdateConfig(_ context.Context, values map[string]any) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeviceConfig == nil {
		m.DeviceConfig = map[string]any{}
	}
	for k, v := range values {
		m.DeviceConfig[k] = v
	}
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Moves returns the Move calls received so far.
func (m *Mock) Moves() []MockMove {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMove(nil), m.moves...)
}

// SetRemaining overrides the pending step count.
func (m *Mock) SetRemaining(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = n
}
