package controller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodectl/nodectl/pkg/config"
	"github.com/nodectl/nodectl/pkg/step"
)

// Protocol is the step the host is positioned on when a protocol is loaded.
type Protocol struct {
	Host    step.HostContext `json:"host"`
	Options step.Options     `json:"options"`
}

// OnEnable is called when the plugin is enabled. It drops any old session,
// checks the device and, when a protocol is loaded, runs its current step.
// The returned Run is nil when no step was started.
func (c *Controller) OnEnable(ctx context.Context, proto *Protocol) (*step.Run, error) {
	c.opMu.Lock()
	c.teardown("enable")
	_, _ = c.checkDevice(ctx)
	c.opMu.Unlock()

	if proto == nil {
		return nil, nil
	}
	return c.OnStepRun(ctx, proto.Host, proto.Options)
}

// OnDisable is called when the plugin is disabled. It closes the session and,
// when a protocol is loaded, runs its current step, which completes right away
// since no device is connected.
//
// A device-bound step still polling the closed session fails on its next
// poll. OnDisable waits for that, so the step it starts is not refused.
func (c *Controller) OnDisable(ctx context.Context, proto *Protocol) (*step.Run, error) {
	c.opMu.Lock()
	pending := c.sync.Active()
	c.teardown("disable")
	c.setState(StateDisconnected, nil)
	c.opMu.Unlock()

	if pending != nil && pending.Mode() == step.ModeDeviceBound {
		c.awaitRun(ctx, pending)
	}

	if proto == nil {
		return nil, nil
	}
	return c.OnStepRun(ctx, proto.Host, proto.Options)
}

// awaitRun waits until run has completed, for at most one poll.
func (c *Controller) awaitRun(ctx context.Context, run *step.Run) {
	wait := time.NewTimer(c.conf.PollInterval() + c.callTimeout)
	defer wait.Stop()

	select {
	case <-run.Done():
	case <-wait.C:
		logrus.WithField("runID", run.ID()).Warn("device-bound step did not end after disable")
	case <-ctx.Done():
	}
}

// OnStepRun starts a step of the protocol. It returns as soon as the step
// is started; the outcome goes to the step notifier.
func (c *Controller) OnStepRun(ctx context.Context, host step.HostContext, opts step.Options) (*step.Run, error) {
	req := step.Request{
		Mode:         step.ModeDeviceBound,
		Host:         host,
		Options:      opts,
		StepsPerUnit: c.conf.StepsPerUnit(),
		Timeout:      c.conf.StepTimeout(),
		PollInterval: c.conf.PollInterval(),
	}
	if c.conf.StepMode() == config.StepModeTimer {
		req.Mode = step.ModeTimerBound
	}
	if sess := c.Session(); sess != nil {
		req.Proxy = sess.proxy
	}

	run, err := c.sync.Start(ctx, req)
	if err != nil {
		logrus.WithError(err).WithField("stepNumber", host.StepNumber).Warn("step not started")
		return nil, err
	}
	return run, nil
}

// DeviceConfig returns the configuration stored on the device.
func (c *Controller) DeviceConfig(ctx context.Context) (map[string]any, error) {
	sess := c.Session()
	if sess == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := c.deviceCall(ctx)
	defer cancel()
	return sess.proxy.Config(ctx)
}

// EditDeviceConfig writes values to the configuration stored on the device
// and returns the updated configuration.
func (c *Controller) EditDeviceConfig(ctx context.Context, values map[string]any) (map[string]any, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess := c.Session()
	if sess == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := c.deviceCall(ctx)
	defer cancel()
	if err := sess.proxy.UpdateConfig(ctx, values); err != nil {
		return nil, err
	}
	logrus.WithField("keys", len(values)).Info("updated device configuration")
	return sess.proxy.Config(ctx)
}
