package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Connect opens a session with the device. The remembered port is tried
// first, then every enumerated port in order. The port that worked is
// persisted as last_known_port. An existing session is closed first.
func (c *Controller) Connect(ctx context.Context) (*Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.connect(ctx)
}

func (c *Controller) connect(ctx context.Context) (*Session, error) {
	c.teardown("reconnect")

	ports, err := c.ports.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPortsAvailable, err)
	}
	if len(ports) == 0 {
		return nil, ErrNoPortsAvailable
	}

	var attempts []PortAttempt
	tried := make(map[string]bool, len(ports)+1)

	candidates := make([]string, 0, len(ports)+1)
	if last, ok := c.conf.LastKnownPort(); ok {
		candidates = append(candidates, last)
	}
	candidates = append(candidates, ports...)

	for _, port := range candidates {
		if tried[port] {
			continue
		}
		tried[port] = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger := logrus.WithFields(logrus.Fields{
			"port":    port,
			"attempt": len(attempts) + 1,
		})
		logger.Debug("trying to connect to device")

		proxy, err := c.opener.Open(ctx, port)
		if err != nil {
			logger.WithError(err).Info("could not connect to device")
			attempts = append(attempts, PortAttempt{Port: port, Err: err})
			continue
		}

		sess := &Session{proxy: proxy, port: port, openedAt: time.Now()}
		c.mu.Lock()
		c.session = sess
		c.mu.Unlock()

		if err := c.conf.SetLastKnownPort(port); err != nil {
			logger.WithError(err).Warn("failed to persist last known port")
		}
		logger.Info("connected to device")
		c.setState(StateConnected, nil)
		return sess, nil
	}

	return nil, &ConnectionExhaustedError{Attempts: attempts}
}
