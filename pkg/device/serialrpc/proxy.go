// Package serialrpc talks to base-node firmware over a serial port using
// newline-delimited JSON requests:
//
//	-> {"id":1,"method":"properties"}
//	<- {"id":1,"result":{"package_name":"base_node","display_name":"Base Node"}}
//
// Each request carries an id and the firmware answers with the same id and
// either a result or an error string.
package serialrpc

import (
	"context"
	"io"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/nodectl/nodectl/pkg/device"
)

// RPC method names understood by the firmware.
const (
	MethodProperties      = "properties"
	MethodSoftwareVersion = "software_version"
	MethodMicrostep       = "microstep_setting"
	MethodMove            = "move"
	MethodStepsRemaining  = "steps_remaining"
	MethodConfig          = "config"
	MethodUpdateConfig    = "update_config"
)

var _ device.Proxy = &Proxy{}

// Proxy is a device.Proxy over an RPC connection.
type Proxy struct {
	port        string
	hostPackage string
	hostVersion string
	c           *conn
}

// NewProxy wraps an already open byte stream.
func NewProxy(port string, rwc io.ReadWriteCloser, hostPackage, hostVersion string) *Proxy {
	return &Proxy{
		port:        port,
		hostPackage: hostPackage,
		hostVersion: hostVersion,
		c:           newConn(rwc),
	}
}

func (p *Proxy) Port() string                { return p.port }
func (p *Proxy) HostPackageName() string     { return p.hostPackage }
func (p *Proxy) HostSoftwareVersion() string { return p.hostVersion }

func (p *Proxy) Properties(ctx context.Context) (device.Properties, error) {
	var props device.Properties
	err := p.c.call(ctx, MethodProperties, nil, &props)
	return props, err
}

func (p *Proxy) RemoteSoftwareVersion(ctx context.Context) (string, error) {
	var v string
	err := p.c.call(ctx, MethodSoftwareVersion, nil, &v)
	return v, err
}

func (p *Proxy) MicrostepSetting(ctx context.Context) (int, error) {
	var v int
	err := p.c.call(ctx, MethodMicrostep, nil, &v)
	return v, err
}

func (p *Proxy) Move(ctx context.Context, steps int64, stepsPerSecond float64) error {
	params := map[string]any{
		"steps":            steps,
		"steps_per_second": stepsPerSecond,
	}
	return p.c.call(ctx, MethodMove, params, nil)
}

func (p *Proxy) StepsRemaining(ctx context.Context) (int64, error) {
	var v int64
	err := p.c.call(ctx, MethodStepsRemaining, nil, &v)
	return v, err
}

func (p *Proxy) Config(ctx context.Context) (map[string]any, error) {
	v := map[string]any{}
	err := p.c.call(ctx, MethodConfig, nil, &v)
	return v, err
}

func (p *Proxy) UpdateConfig(ctx context.Context, values map[string]any) error {
	return p.c.call(ctx, MethodUpdateConfig, values, nil)
}

func (p *Proxy) Close() error {
	logrus.WithField("port", p.port).Debug("closing device proxy")
	return p.c.Close()
}

var _ device.Opener = &Opener{}

// Opener opens serial ports and verifies that something speaking the RPC
// protocol answers on them.
type Opener struct {
	HostPackage string
	HostVersion string
	BaudRate    int
	// ResetDelay is how long to wait after opening for the board to come
	// out of the reset triggered by DTR.
	ResetDelay time.Duration
	// ProbeTimeout bounds the properties request sent after opening.
	ProbeTimeout time.Duration
}

func NewOpener(hostPackage, hostVersion string, baudRate int) *Opener {
	return &Opener{
		HostPackage:  hostPackage,
		HostVersion:  hostVersion,
		BaudRate:     baudRate,
		ResetDelay:   2 * time.Second,
		ProbeTimeout: 2 * time.Second,
	}
}

func (o *Opener) Open(ctx context.Context, port string) (device.Proxy, error) {
	logrus.WithFields(logrus.Fields{
		"port":     port,
		"baudRate": o.BaudRate,
	}).Debug("opening serial port")

	sp, err := serial.Open(port, &serial.Mode{BaudRate: o.BaudRate})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open serial port %s", port)
	}

	if o.ResetDelay > 0 {
		select {
		case <-time.After(o.ResetDelay):
		case <-ctx.Done():
			_ = sp.Close()
			return nil, ctx.Err()
		}
	}
	if err := sp.ResetInputBuffer(); err != nil {
		logrus.WithError(err).WithField("port", port).Debug("failed to reset input buffer")
	}

	p := NewProxy(port, sp, o.HostPackage, o.HostVersion)
	if err := probe(ctx, p, o.ProbeTimeout); err != nil {
		_ = p.Close()
		return nil, pkgerrors.Wrapf(err, "no rpc response on %s", port)
	}

	return p, nil
}

func probe(ctx context.Context, p *Proxy, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := p.Properties(ctx)
	return err
}
