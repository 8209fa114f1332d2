// Package service installs nodectl as a systemd service.
package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	unitPath = "/etc/systemd/system/nodectl.service"
	unitName = "nodectl.service"

	// systemctl runs the service manager. Replaced in tests.
	systemctl = func(args ...string) error {
		return exec.Command("systemctl", args...).Run()
	}
)

const unitTemplate = `[Unit]
Description=nodectl device daemon
After=network.target

[Service]
Type=simple
ExecStart=/path/to/nodectl daemon
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// InstallOptions are the daemon arguments baked into the unit.
type InstallOptions struct {
	ConfigPath     string
	UnixSocketPath string
	Plugin         string
	AllowNonRoot   bool
	Mock           bool
}

func (o InstallOptions) args() []string {
	var args []string
	if o.ConfigPath != "" {
		args = append(args, "--config", o.ConfigPath)
	}
	if o.UnixSocketPath != "" {
		args = append(args, "--daemon-socket", o.UnixSocketPath)
	}
	if o.Plugin != "" {
		args = append(args, "--plugin", o.Plugin)
	}
	if o.AllowNonRoot {
		args = append(args, "--allow-non-root-access")
	}
	if o.Mock {
		args = append(args, "--mock")
	}
	return args
}

// unit renders the service unit for the executable at exePath.
func unit(exePath string, opts InstallOptions) string {
	execStart := strings.Join(append([]string{exePath, "daemon"}, opts.args()...), " ")
	return strings.ReplaceAll(unitTemplate, "/path/to/nodectl daemon", execStart)
}

func Install(opts InstallOptions) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	return install(exePath, opts)
}

func install(exePath string, opts InstallOptions) error {
	logrus.Infof("writing service unit to %s", filepath.Dir(unitPath))

	if err := os.MkdirAll(filepath.Dir(unitPath), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(unitPath), err)
	}

	// warn if the file already exists
	if _, err := os.Stat(unitPath); err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	if err := os.WriteFile(unitPath, []byte(unit(exePath, opts)), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	if err := systemctl("daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}

	logrus.Infof("starting nodectl")

	if err := systemctl("enable", "--now", unitName); err != nil {
		return fmt.Errorf("failed to enable %s: %w", unitName, err)
	}

	return nil
}
