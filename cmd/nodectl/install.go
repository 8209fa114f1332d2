package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nodectl/nodectl/pkg/utils/service"
)

var gInstallation = "Installation:"

func init() {
	commandGroups = append(commandGroups, gInstallation)
}

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	opts := service.InstallOptions{}

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install nodectl daemon as a systemd service",
		GroupID: gInstallation,
		Long: `Install nodectl daemon as a systemd service (system-wide).

This makes nodectl run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the nodectl daemon. Use --allow-non-root-access to let other users control the device without sudo.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.ConfigPath = configPath
			opts.UnixSocketPath = unixSocketPath
			opts.Plugin = pluginName

			if err := service.Install(opts); err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("`systemd' will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run ``nodectl install'' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.AllowNonRoot, "allow-non-root-access", false, "Allow non-root users to access nodectl daemon.")
	cmd.Flags().BoolVar(&opts.Mock, "mock", false, "Run the daemon against an in-memory device.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall nodectl daemon",
		GroupID: gInstallation,
		Long: `Uninstall nodectl daemon from systemd (system-wide).

This stops nodectl and removes its service unit.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := service.Uninstall(); err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			cmd.Println("successfully uninstalled")
			cmd.Printf("Your config is kept in %s, in case you want to use `nodectl' again.\n", configPath)

			return nil
		},
	}
}
