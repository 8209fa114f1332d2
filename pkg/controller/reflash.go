package controller

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

type reflashReport struct {
	flashErr error
	// post is the device check that always follows a reflash.
	post    ReconcileResult
	postErr error
}

// Reflash uploads the firmware that matches the host driver to the device.
// Without a session, the device is looked up first. The device is checked
// again afterwards whatever the outcome.
//
// Cancelling ctx does not stop a reflash once it started: an upload killed
// halfway leaves the board without a working firmware. The upload is bounded
// by its own timeout instead.
func (c *Controller) Reflash(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.reflash(ctx).flashErr
}

func (c *Controller) reflash(ctx context.Context) (rep reflashReport) {
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	c.reflashing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.reflashing = false
		c.mu.Unlock()
	}()

	if c.Session() == nil {
		if _, err := c.checkDevice(ctx); err != nil {
			logrus.WithError(err).Warn("no device to flash")
			rep.flashErr = ErrNoDeviceToFlash
			return rep
		}
	}
	sess := c.Session()
	if sess == nil {
		rep.flashErr = ErrNoDeviceToFlash
		return rep
	}

	defer func() {
		rep.post, rep.postErr = c.checkDevice(ctx)
	}()

	port := sess.port
	hostVersion := sess.proxy.HostSoftwareVersion()
	boardID := c.conf.BoardID()
	logger := logrus.WithFields(logrus.Fields{
		"port":        port,
		"board":       boardID,
		"hostVersion": hostVersion,
	})

	c.teardown("reflash")
	c.setState(StateFlashing, nil)

	logger.Info("uploading firmware")
	if err := c.upload(ctx, boardID, hostVersion, port); err != nil {
		rep.flashErr = &FlashFailedError{Port: port, Err: err}
		logger.WithError(err).Error("problem flashing firmware")
		c.ui.Warn("Firmware update failed", rep.flashErr.Error())
		return rep
	}

	logger.Info("firmware updated")
	c.ui.Info("Firmware update", "Firmware updated successfully.")
	return rep
}

// upload runs the uploader, turning a panic into an error.
func (c *Controller) upload(ctx context.Context, boardID, hostVersion, port string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("uploader panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, c.flashTimeout)
	defer cancel()
	return c.uploader.Upload(ctx, boardID, c.selector(hostVersion), port)
}
