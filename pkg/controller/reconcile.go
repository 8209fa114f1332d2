package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nodectl/nodectl/pkg/device"
)

// ReconcileStatus is the verdict of a reconciliation.
type ReconcileStatus string

const (
	StatusReconciled ReconcileStatus = "Reconciled"
	// StatusReconciledWithWarning means the device runs other firmware and
	// the user declined to reflash it.
	StatusReconciledWithWarning ReconcileStatus = "ReconciledWithWarning"
)

// ReconcileResult is the outcome of a successful reconciliation.
type ReconcileResult struct {
	Session   *Session
	Identity  device.Identity
	Status    ReconcileStatus
	Reflashed bool
}

// Reconcile checks that the device on sess is the expected kind of device
// and runs the expected firmware. On a version mismatch the Confirmer is
// asked whether to reflash; if it agrees, the device is reflashed and
// reconciled again on the new session.
func (c *Controller) Reconcile(ctx context.Context, sess *Session) (ReconcileResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	res, err := c.reconcile(ctx, sess)
	var handled handledError
	if errors.As(err, &handled) {
		err = handled.error
	}
	return res, err
}

func (c *Controller) reconcile(ctx context.Context, sess *Session) (ReconcileResult, error) {
	if sess == nil {
		return ReconcileResult{}, ErrNotConnected
	}

	readCtx, cancel := c.deviceCall(ctx)
	id, err := device.ReadIdentity(readCtx, sess.proxy)
	cancel()
	if err != nil {
		return ReconcileResult{}, &IdentityError{Port: sess.port, Err: err}
	}
	logger := logrus.WithFields(logrus.Fields{
		"port":          sess.port,
		"device":        id.DisplayName,
		"packageName":   id.PackageName,
		"remoteVersion": id.RemoteSoftwareVersion,
		"hostVersion":   id.HostSoftwareVersion,
	})

	if id.PackageName != id.HostPackageName {
		return ReconcileResult{}, &WrongDeviceTypeError{
			DisplayName: id.DisplayName,
			PackageName: id.PackageName,
			Expected:    id.HostPackageName,
		}
	}

	if id.VersionsMatch() {
		logger.Info("device firmware is up to date")
		c.adopt(id, StateReady, false)
		return ReconcileResult{Session: sess, Identity: id, Status: StatusReconciled}, nil
	}

	mismatch := VersionMismatch{
		DisplayName:   id.DisplayName,
		RemoteVersion: id.RemoteSoftwareVersion,
		HostVersion:   id.HostSoftwareVersion,
	}
	warned := ReconcileResult{Session: sess, Identity: id, Status: StatusReconciledWithWarning}

	c.mu.Lock()
	reflashing := c.reflashing
	c.mu.Unlock()
	if reflashing {
		logger.Warn("firmware still does not match after reflash")
		c.adopt(id, StateMismatched, true)
		return warned, nil
	}

	ok, err := c.confirmer.ConfirmReflash(ctx, mismatch)
	if err != nil {
		logger.WithError(err).Warn("reflash confirmation failed, keeping current firmware")
		ok = false
	}
	if !ok {
		logger.Warn("device firmware does not match the host driver")
		c.ui.Warn("Firmware version mismatch", fmt.Sprintf(
			"The %s has firmware version %s, but the driver is version %s.",
			mismatch.DisplayName, mismatch.RemoteVersion, mismatch.HostVersion))
		c.adopt(id, StateMismatched, true)
		return warned, nil
	}

	logger.Info("reflashing device firmware")
	rep := c.reflash(ctx)
	if rep.flashErr != nil {
		logger.WithError(rep.flashErr).Warn("reflash failed")
	}
	res := rep.post
	res.Reflashed = rep.flashErr == nil
	if rep.postErr != nil {
		return res, handledError{rep.postErr}
	}
	return res, nil
}

// handledError is an error that was already reported by degrade.
type handledError struct{ error }

func (e handledError) Unwrap() error { return e.error }

// adopt records a verified identity.
func (c *Controller) adopt(id device.Identity, s State, warning bool) {
	c.mu.Lock()
	c.identity = &id
	c.warning = warning
	c.mu.Unlock()
	c.setState(s, nil)
}

// CheckDevice connects and reconciles. Failures never propagate: they are
// logged, shown to the user, and leave the Controller disconnected.
func (c *Controller) CheckDevice(ctx context.Context) (ReconcileResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.checkDevice(ctx)
}

func (c *Controller) checkDevice(ctx context.Context) (ReconcileResult, error) {
	sess, err := c.connect(ctx)
	if err != nil {
		c.degrade(err)
		return ReconcileResult{}, err
	}
	res, err := c.reconcile(ctx, sess)
	var handled handledError
	if errors.As(err, &handled) {
		return ReconcileResult{}, handled.error
	}
	if err != nil {
		c.degrade(err)
		return ReconcileResult{}, err
	}
	return res, nil
}

// degrade closes the session after a failed check.
func (c *Controller) degrade(err error) {
	logrus.WithError(err).WithField("plugin", c.plugin).Warn("device check failed")

	var wrong *WrongDeviceTypeError
	switch {
	case errors.As(err, &wrong):
		c.ui.Warn("Wrong device", fmt.Sprintf(
			"The connected device is a %s, not a %s.", wrong.DisplayName, wrong.Expected))
	case errors.Is(err, ErrNoPortsAvailable), errors.Is(err, ErrConnectionExhausted):
		c.ui.Warn("Device not found", "Could not connect to the device on any serial port.")
	default:
		c.ui.Warn("Device error", err.Error())
	}

	c.teardown("check failed")
	c.setState(StateDisconnected, err)
}
