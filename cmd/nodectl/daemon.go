package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nodectl/nodectl/pkg/daemon"
	"github.com/nodectl/nodectl/pkg/version"
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	opts := daemon.Options{
		HostPackage: "base_node",
		HostVersion: "1.0",
		Avrdude:     "avrdude",
	}

	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run nodectl daemon in the foreground",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
				"plugin":  pluginName,
			}).Info("nodectl daemon starting")

			opts.ConfigPath = configPath
			opts.UnixSocketPath = unixSocketPath
			opts.Plugin = pluginName
			return daemon.Run(opts)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&opts.AllowNonRoot, "allow-non-root-access", false,
		"Allow non-root users to access the daemon.")
	f.StringVar(&opts.HostPackage, "host-package", opts.HostPackage,
		"Package name the device firmware must report.")
	f.StringVar(&opts.HostVersion, "host-version", opts.HostVersion,
		"Firmware version this driver expects.")
	f.StringVar(&opts.Avrdude, "avrdude", opts.Avrdude,
		"avrdude executable used to flash firmware.")
	f.BoolVar(&opts.Mock, "mock", false,
		"Use an in-memory device instead of serial ports.")

	return cmd
}
