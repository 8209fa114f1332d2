// Package device defines the capabilities the controller consumes from a
// serial-attached microcontroller:
//
//   - Proxy: an open RPC session with one device on one port
//   - Opener: opens a Proxy on a named port
//   - PortEnumerator: lists the candidate serial ports
//
// The controller depends only on these contracts, so it can be driven by the
// serial implementation in serialrpc or by the in-memory Mock.
package device

import (
	"context"
)

// Properties are the identity fields reported by the firmware.
type Properties struct {
	PackageName string `json:"package_name"`
	DisplayName string `json:"display_name"`
}

// Proxy is an open session with a device.
type Proxy interface {
	// Port returns the serial port the session is bound to.
	Port() string
	// Properties reads the identity reported by the firmware.
	Properties(ctx context.Context) (Properties, error)
	// HostPackageName is the package name the host driver expects.
	HostPackageName() string
	// HostSoftwareVersion is the firmware version the host driver expects.
	HostSoftwareVersion() string
	// RemoteSoftwareVersion reads the version of the running firmware.
	RemoteSoftwareVersion(ctx context.Context) (string, error)
	MicrostepSetting(ctx context.Context) (int, error)
	Move(ctx context.Context, steps int64, stepsPerSecond float64) error
	StepsRemaining(ctx context.Context) (int64, error)
	Config(ctx context.Context) (map[string]any, error)
	UpdateConfig(ctx context.Context, values map[string]any) error
	Close() error
}

// Opener opens a Proxy on a port.
type Opener interface {
	Open(ctx context.Context, port string) (Proxy, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, port string) (Proxy, error)

func (f OpenerFunc) Open(ctx context.Context, port string) (Proxy, error) {
	return f(ctx, port)
}

// PortEnumerator lists the serial ports present on the host, in a stable
// order. An empty list is a valid result.
type PortEnumerator interface {
	ListPorts() ([]string, error)
}

// PortEnumeratorFunc adapts a function to PortEnumerator.
type PortEnumeratorFunc func() ([]string, error)

func (f PortEnumeratorFunc) ListPorts() ([]string, error) {
	return f()
}

// Identity is a read-only snapshot of who the device is and which
// firmware it runs, taken during reconciliation.
type Identity struct {
	PackageName           string `json:"packageName"`
	DisplayName           string `json:"displayName"`
	HostPackageName       string `json:"hostPackageName"`
	HostSoftwareVersion   string `json:"hostSoftwareVersion"`
	RemoteSoftwareVersion string `json:"remoteSoftwareVersion"`
}

// ReadIdentity collects an Identity from an open proxy.
func ReadIdentity(ctx context.Context, p Proxy) (Identity, error) {
	props, err := p.Properties(ctx)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{
		PackageName:         props.PackageName,
		DisplayName:         props.DisplayName,
		HostPackageName:     p.HostPackageName(),
		HostSoftwareVersion: p.HostSoftwareVersion(),
	}
	// The remote version is only meaningful for the right kind of device.
	if id.PackageName != id.HostPackageName {
		return id, nil
	}
	id.RemoteSoftwareVersion, err = p.RemoteSoftwareVersion(ctx)
	if err != nil {
		return Identity{}, err
	}
	return id, nil
}

// VersionsMatch reports whether the firmware is the one the host expects.
func (i Identity) VersionsMatch() bool {
	return i.HostSoftwareVersion == i.RemoteSoftwareVersion
}
