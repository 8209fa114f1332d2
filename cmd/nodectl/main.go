package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nodectl/nodectl/pkg/client"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/nodectl.sock"
	configPath     = "/etc/nodectl.json"
	pluginName     = "base-node"
)

var (
	gBasic        = "Basic:"
	gDevice       = "Device:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gDevice,
		gAdvanced,
	}
)

var apiClient *client.Client

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: nodectl daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'nodectl daemon'.")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or restart the daemon with the '--allow-non-root-access' flag to grant permissions to your user")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodectl",
		Short: "nodectl controls a serial-attached motor node from an automation host",
		Long: `nodectl controls a serial-attached motor node from an automation host.

It finds the device on one of the serial ports, keeps its firmware in line
with the driver, and runs the steps of a protocol on it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := setupLogger(); err != nil {
				return err
			}
			apiClient = client.NewClient(unixSocketPath)
			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "nodectl daemon unix socket path")
	globalFlags.StringVar(&pluginName, "plugin", pluginName, "name of the config section used by the daemon")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewConnectCommand(),
		NewEnableCommand(),
		NewDisableCommand(),
		NewStepCommand(),
		NewReflashCommand(),
		NewPortsCommand(),
		NewConfigCommand(),
		NewDeviceConfigCommand(),
		NewEventsCommand(),
		NewReconnectCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
