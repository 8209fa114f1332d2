package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nodectl/nodectl/pkg/config"
	"github.com/nodectl/nodectl/pkg/controller"
	"github.com/nodectl/nodectl/pkg/device"
	"github.com/nodectl/nodectl/pkg/device/serialrpc"
	"github.com/nodectl/nodectl/pkg/events"
	"github.com/nodectl/nodectl/pkg/firmware"
	"github.com/nodectl/nodectl/pkg/step"
)

// Options configure the daemon.
type Options struct {
	ConfigPath     string
	UnixSocketPath string
	Plugin         string
	AllowNonRoot   bool
	// HostPackage and HostVersion describe the firmware this driver expects.
	HostPackage string
	HostVersion string
	// Avrdude is the avrdude executable used for reflashing.
	Avrdude string
	// Mock replaces the serial device with an in-memory one.
	Mock bool
}

// hardware is how the daemon reaches devices.
type hardware struct {
	ports    device.PortEnumerator
	opener   device.Opener
	uploader firmware.Uploader
}

func serialHardware(opts Options, conf config.Config) hardware {
	return hardware{
		ports:    serialrpc.Enumerator{},
		opener:   serialrpc.NewOpener(opts.HostPackage, opts.HostVersion, conf.BaudRate()),
		uploader: firmware.NewAvrdude(firmware.WithBinary(opts.Avrdude)),
	}
}

type daemon struct {
	conf      *config.AppConfig
	hub       *events.EventHub
	ctrl      *controller.Controller
	ports     device.PortEnumerator
	reconnect *Scheduler
}

func newDaemon(conf *config.AppConfig, hw hardware) *daemon {
	d := &daemon{
		conf:  conf,
		hub:   events.NewEventHub(),
		ports: hw.ports,
	}

	d.ctrl = controller.New(controller.Dependencies{
		Plugin:    conf.Plugin(),
		Ports:     hw.ports,
		Opener:    hw.opener,
		Uploader:  hw.uploader,
		Config:    conf,
		Notifier:  d.hub,
		Confirmer: controller.ConfirmFunc(d.confirmReflash),
		UI:        d.hub,
		StepHooks: step.Hooks{Tick: d.publishTick},
	})
	d.ctrl.OnStateChange(d.publishState)

	d.reconnect = NewScheduler(d.reconnectTask, func(err error) {
		logrus.WithError(err).Debug("scheduled reconnect failed")
	})

	return d
}

// confirmReflash answers a firmware mismatch with the auto_reflash setting.
// The daemon has nobody to ask, so clients are told through an event.
func (d *daemon) confirmReflash(_ context.Context, m controller.VersionMismatch) (bool, error) {
	reflash := d.conf.AutoReflash()
	logrus.WithFields(logrus.Fields{
		"device":        m.DisplayName,
		"remoteVersion": m.RemoteVersion,
		"hostVersion":   m.HostVersion,
		"reflash":       reflash,
	}).Warn("firmware version mismatch")
	d.hub.Publish(events.FirmwareMismatch, events.FirmwareMismatchEvent{
		Device:        m.DisplayName,
		RemoteVersion: m.RemoteVersion,
		HostVersion:   m.HostVersion,
		Reflash:       reflash,
		Ts:            time.Now().Unix(),
	})
	return reflash, nil
}

// publishTick tells clients that a timer-bound step is waiting.
func (d *daemon) publishTick(info step.RunInfo) error {
	d.hub.Publish(events.StepTick, events.StepTickEvent{
		Plugin:     d.conf.Plugin(),
		RunID:      info.ID,
		StepNumber: info.Host.StepNumber,
		Ts:         time.Now().Unix(),
	})
	return nil
}

func (d *daemon) publishState(st controller.Status) {
	ev := events.DeviceStateEvent{
		State:     string(st.State),
		Port:      st.Port,
		Warning:   st.Warning,
		LastError: st.LastError,
		Ts:        time.Now().Unix(),
	}
	if st.Identity != nil {
		ev.Device = st.Identity.DisplayName
	}
	d.hub.Publish(events.DeviceState, ev)
}

func (d *daemon) reconnectTask() error {
	if d.ctrl.Connected() {
		return nil
	}
	logrus.Debug("device disconnected, trying to reconnect")
	_, err := d.ctrl.CheckDevice(context.Background())
	return err
}

// applySchedule installs the reconnect_schedule from the config.
func (d *daemon) applySchedule() {
	expr := d.conf.ReconnectSchedule()
	if err := d.reconnect.Schedule(expr); err != nil {
		logrus.WithError(err).Error("failed to apply reconnect schedule")
		return
	}
	if next, _ := d.reconnect.Status(); !next.IsZero() {
		logrus.WithField("next", next.Format(time.DateTime)).Debug("reconnect scheduled")
	}
}

func (d *daemon) shutdown() {
	d.reconnect.Stop()
	logrus.Info("closing device session")
	if err := d.ctrl.Close(); err != nil {
		logrus.Errorf("failed to close device session: %v", err)
	}
}

func Run(opts Options) error {
	store, err := config.NewFile(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to parse config during startup: %w", err)
	}
	conf := config.NewAppConfig(store, opts.Plugin)
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	hw := serialHardware(opts, conf)
	if opts.Mock {
		logrus.Warn("using an in-memory mock device")
		hw = newMockHardware(opts.HostPackage, opts.HostVersion).hardware()
	}
	d := newDaemon(conf, hw)

	gin.SetMode(gin.ReleaseMode)
	router := d.routes()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := store.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
			d.applySchedule()
		}
	}()

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(d.hub.Close)

	// A socket left behind by a crashed daemon would make Listen fail.
	if fi, err := os.Stat(opts.UnixSocketPath); err == nil && fi.Mode()&os.ModeSocket != 0 {
		logrus.WithField("path", opts.UnixSocketPath).Debug("removing stale socket")
		_ = os.Remove(opts.UnixSocketPath)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", opts.UnixSocketPath)
	if err != nil {
		return err
	}

	if opts.AllowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", opts.UnixSocketPath)
		if err := os.Chmod(opts.UnixSocketPath, 0777); err != nil {
			_ = l.Close()
			return err
		}
	}

	serveErr := make(chan error, 1)
	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	go func() {
		if _, err := d.ctrl.OnEnable(context.Background(), nil); err != nil {
			logrus.WithError(err).Warn("failed to enable controller")
		}
	}()

	d.applySchedule()
	d.reconnect.Start()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	select {
	case sig := <-sigc:
		logrus.Infof("caught signal \"%s\": shutting down.", sig)
	case err = <-serveErr:
		logrus.WithError(err).Error("http server failed")
	}

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	d.shutdown()

	logrus.Info("exiting")
	return err
}
