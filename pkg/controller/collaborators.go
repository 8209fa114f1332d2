package controller

import (
	"context"

	"github.com/sirupsen/logrus"
)

// VersionMismatch is the decision put to the user when the firmware does
// not match the host driver.
type VersionMismatch struct {
	DisplayName   string `json:"displayName"`
	RemoteVersion string `json:"remoteVersion"`
	HostVersion   string `json:"hostVersion"`
}

// Confirmer decides whether a mismatched device gets reflashed.
type Confirmer interface {
	ConfirmReflash(ctx context.Context, m VersionMismatch) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, m VersionMismatch) (bool, error)

func (f ConfirmFunc) ConfirmReflash(ctx context.Context, m VersionMismatch) (bool, error) {
	return f(ctx, m)
}

// AutoConfirm always answers with yes.
func AutoConfirm(yes bool) Confirmer {
	return ConfirmFunc(func(_ context.Context, m VersionMismatch) (bool, error) {
		logrus.WithFields(logrus.Fields{
			"device":        m.DisplayName,
			"remoteVersion": m.RemoteVersion,
			"hostVersion":   m.HostVersion,
			"reflash":       yes,
		}).Info("firmware version mismatch, answered by policy")
		return yes, nil
	})
}

// UserNotifier shows operator-facing messages.
type UserNotifier interface {
	Info(title, message string)
	Warn(title, message string)
}

// LogNotifier writes operator messages to the log.
type LogNotifier struct{}

func (LogNotifier) Info(title, message string) {
	logrus.WithField("title", title).Info(message)
}

func (LogNotifier) Warn(title, message string) {
	logrus.WithField("title", title).Warn(message)
}
