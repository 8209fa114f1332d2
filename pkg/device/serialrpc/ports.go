package serialrpc

import (
	"sort"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/nodectl/nodectl/pkg/device"
)

var _ device.PortEnumerator = Enumerator{}

// Enumerator lists the serial ports of the host.
type Enumerator struct{}

func (Enumerator) ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list serial ports")
	}
	// The OS does not guarantee an order. Sort so that fallback attempts
	// are reproducible between runs.
	sort.Strings(ports)

	logrus.WithField("ports", ports).Trace("enumerated serial ports")

	return ports, nil
}
