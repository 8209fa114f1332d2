package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodectl/nodectl/pkg/device"
	"github.com/nodectl/nodectl/pkg/firmware"
)

const mockPort = "mock0"

// mockHardware simulates one device on one port. Its firmware starts out
// matching the host and can be changed to exercise reflashing.
type mockHardware struct {
	hostPackage string
	hostVersion string

	mu            sync.Mutex
	remoteVersion string
	deviceConfig  map[string]any
}

func newMockHardware(hostPackage, hostVersion string) *mockHardware {
	if hostPackage == "" {
		hostPackage = "base_node"
	}
	if hostVersion == "" {
		hostVersion = "1.0"
	}
	return &mockHardware{
		hostPackage:   hostPackage,
		hostVersion:   hostVersion,
		remoteVersion: hostVersion,
		deviceConfig:  map[string]any{"microsteps": 16},
	}
}

func (h *mockHardware) hardware() hardware {
	return hardware{
		ports:    device.PortEnumeratorFunc(func() ([]string, error) { return []string{mockPort}, nil }),
		opener:   device.OpenerFunc(h.open),
		uploader: firmware.UploaderFunc(h.upload),
	}
}

func (h *mockHardware) open(_ context.Context, port string) (device.Proxy, error) {
	if port != mockPort {
		return nil, &mockPortError{port: port}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	m := device.NewMock(port)
	m.Props.PackageName = h.hostPackage
	m.HostPackage = h.hostPackage
	m.HostVersion = h.hostVersion
	m.RemoteVersion = h.remoteVersion
	// Carry the device config over sessions, as the EEPROM would.
	m.DeviceConfig = h.deviceConfig
	return m, nil
}

func (h *mockHardware) upload(ctx context.Context, boardID string, _ firmware.Selector, port string) error {
	logrus.WithFields(logrus.Fields{
		"board": boardID,
		"port":  port,
	}).Info("mock device: flashing firmware")

	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	h.setRemoteVersion(h.hostVersion)
	return nil
}

func (h *mockHardware) setRemoteVersion(v string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remoteVersion = v
}

type mockPortError struct {
	port string
}

func (e *mockPortError) Error() string {
	return "mock device: no device on " + e.port
}
