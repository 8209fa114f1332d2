package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nodectl/nodectl/pkg/version"
)

// NewVersionCommand .
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Print version",
		GroupID: gBasic,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)

			daemonVersion, err := apiClient.GetVersion()
			if err != nil {
				logrus.WithError(err).Debug("could not get daemon version")
				return
			}
			if daemonVersion != version.Version {
				logrus.Warnf("nodectl daemon version %s does not match client version %s", daemonVersion, version.Version)
			}
		},
	}
}

// NewConnectCommand .
func NewConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "connect",
		Short:   "Look for the device and check its firmware",
		GroupID: gDevice,
		Long: `Look for the device and check its firmware.

The port the device was last found on is tried first, then every other
serial port of the host.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.Connect()
			if err != nil {
				return fmt.Errorf("failed to connect: %v", err)
			}
			printStatus(cmd, st)
			return nil
		},
	}
}

// NewReflashCommand .
func NewReflashCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reflash",
		Short:   "Flash the driver's firmware onto the device",
		GroupID: gDevice,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Reflash()
			if err != nil {
				return fmt.Errorf("failed to reflash: %v", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}

// NewPortsCommand .
func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ports",
		Short:   "List serial ports",
		GroupID: gDevice,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := apiClient.GetPorts()
			if err != nil {
				return err
			}
			if len(p.Ports) == 0 {
				cmd.Println("No serial ports found.")
				return nil
			}
			for _, port := range p.Ports {
				if port == p.Current {
					cmd.Printf("%s %s\n", bold("%s", port), bool2Text(true))
					continue
				}
				cmd.Println(port)
			}
			return nil
		},
	}
}
