// Package controller owns the device session of the plugin. It connects to
// the device, reconciles its firmware with the host driver and starts the
// steps of the host's protocol.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodectl/nodectl/pkg/config"
	"github.com/nodectl/nodectl/pkg/device"
	"github.com/nodectl/nodectl/pkg/firmware"
	"github.com/nodectl/nodectl/pkg/step"
)

// State is the connection state of a Controller.
type State string

const (
	StateDisconnected State = "Disconnected"
	// StateConnected means a port is open but the device is not verified yet.
	StateConnected State = "Connected"
	StateReady     State = "Ready"
	// StateMismatched means the device is usable but runs other firmware.
	StateMismatched State = "VersionMismatch"
	StateFlashing   State = "Flashing"
)

// Session is an open device connection bound to one port. Sessions are
// created by Connect only and closed by the Controller.
type Session struct {
	proxy    device.Proxy
	port     string
	openedAt time.Time
}

func (s *Session) Proxy() device.Proxy { return s.proxy }
func (s *Session) Port() string        { return s.port }
func (s *Session) OpenedAt() time.Time { return s.openedAt }

// Status is a snapshot of a Controller for display.
type Status struct {
	Plugin    string           `json:"plugin"`
	State     State            `json:"state"`
	Port      string           `json:"port,omitempty"`
	Identity  *device.Identity `json:"identity,omitempty"`
	Warning   bool             `json:"warning"`
	LastError string           `json:"lastError,omitempty"`
	Step      step.Status      `json:"step"`
}

// SelectorFunc returns the firmware selector for a host driver version.
type SelectorFunc func(hostVersion string) firmware.Selector

// Dependencies are the collaborators of a Controller. Ports, Opener, Uploader
// and Config are required.
type Dependencies struct {
	Plugin    string
	Ports     device.PortEnumerator
	Opener    device.Opener
	Uploader  firmware.Uploader
	Config    config.Config
	Notifier  step.Notifier
	Confirmer Confirmer
	UI        UserNotifier
	// Selector defaults to firmware.DirSelector over Config.FirmwareDir.
	Selector SelectorFunc
	// StepHooks are passed to the synchronizer.
	StepHooks step.Hooks
}

const (
	// deviceCallTimeout bounds one identity or configuration request.
	deviceCallTimeout = 5 * time.Second
	// defaultFlashTimeout bounds one firmware upload.
	defaultFlashTimeout = 5 * time.Minute
)

// Controller serializes every connection, reconciliation and reflash. Only
// one of them runs at a time.
type Controller struct {
	plugin    string
	ports     device.PortEnumerator
	opener    device.Opener
	uploader  firmware.Uploader
	conf      config.Config
	confirmer Confirmer
	ui        UserNotifier
	selector  SelectorFunc
	sync      *step.Synchronizer

	callTimeout  time.Duration
	flashTimeout time.Duration

	listeners []func(Status)

	// opMu serializes operations that touch the device.
	opMu sync.Mutex

	// mu guards the fields below.
	mu         sync.Mutex
	session    *Session
	state      State
	identity   *device.Identity
	warning    bool
	lastErr    error
	reflashing bool
}

func New(deps Dependencies) *Controller {
	if deps.Ports == nil || deps.Opener == nil || deps.Uploader == nil || deps.Config == nil {
		panic("controller: ports, opener, uploader and config are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = step.NotifierFunc(func(plugin string, outcome step.Outcome) {
			logrus.WithFields(logrus.Fields{"plugin": plugin, "outcome": outcome}).Info("step complete")
		})
	}
	if deps.Confirmer == nil {
		deps.Confirmer = AutoConfirm(false)
	}
	if deps.UI == nil {
		deps.UI = LogNotifier{}
	}
	if deps.Selector == nil {
		conf := deps.Config
		deps.Selector = func(hostVersion string) firmware.Selector {
			return firmware.DirSelector(conf.FirmwareDir(), hostVersion)
		}
	}

	return &Controller{
		plugin:    deps.Plugin,
		ports:     deps.Ports,
		opener:    deps.Opener,
		uploader:  deps.Uploader,
		conf:      deps.Config,
		confirmer: deps.Confirmer,
		ui:        deps.UI,
		selector:  deps.Selector,
		sync:      step.NewSynchronizer(deps.Plugin, deps.Notifier, step.WithHooks(deps.StepHooks)),
		state:     StateDisconnected,

		callTimeout:  deviceCallTimeout,
		flashTimeout: defaultFlashTimeout,
	}
}

// OnStateChange registers a callback that receives a Status every time the
// connection state changes. It must be called before the Controller is used.
func (c *Controller) OnStateChange(fn func(Status)) {
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) Plugin() string { return c.plugin }

// Synchronizer returns the step synchronizer owned by the Controller.
func (c *Controller) Synchronizer() *step.Synchronizer { return c.sync }

// Status returns a snapshot of the Controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := c.statusLocked()
	c.mu.Unlock()
	st.Step = c.sync.Status()
	return st
}

func (c *Controller) statusLocked() Status {
	st := Status{
		Plugin:  c.plugin,
		State:   c.state,
		Warning: c.warning,
	}
	if c.session != nil {
		st.Port = c.session.port
	}
	if c.identity != nil {
		id := *c.identity
		st.Identity = &id
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Session returns the open session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connected reports whether a device session exists.
func (c *Controller) Connected() bool {
	return c.Session() != nil
}

// deviceCall bounds one request to the device. A device that stops answering
// must not hold opMu forever.
func (c *Controller) deviceCall(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// setState records a transition and tells the listeners about it.
func (c *Controller) setState(s State, err error) {
	c.mu.Lock()
	changed := c.state != s || err != nil
	c.state = s
	c.lastErr = err
	if s == StateDisconnected || s == StateFlashing {
		c.identity = nil
		c.warning = false
	}
	st := c.statusLocked()
	c.mu.Unlock()

	if !changed {
		return
	}
	logrus.WithFields(logrus.Fields{
		"plugin": c.plugin,
		"state":  s,
		"port":   st.Port,
	}).Debug("controller state changed")
	for _, fn := range c.listeners {
		fn(st)
	}
}

// teardown closes the session, if any.
func (c *Controller) teardown(reason string) {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess == nil {
		return
	}
	logger := logrus.WithFields(logrus.Fields{"port": sess.port, "reason": reason})
	if err := sess.proxy.Close(); err != nil {
		logger.WithError(err).Warn("failed to close device session")
	} else {
		logger.Info("closed device session")
	}
}

// Close cancels any pending step and closes the session. It is meant for
// process exit.
func (c *Controller) Close() error {
	c.sync.Shutdown()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardown("shutdown")
	c.setState(StateDisconnected, nil)
	return nil
}
