package main

import (
	"github.com/spf13/cobra"
)

// NewConfigCommand .
func NewConfigCommand() *cobra.Command {
	return newValuesCommand("config", "the daemon configuration", gAdvanced,
		func() (map[string]any, error) { return apiClient.GetConfig() },
		func(v map[string]any) (map[string]any, error) { return apiClient.SetConfig(v) },
	)
}

// NewDeviceConfigCommand .
func NewDeviceConfigCommand() *cobra.Command {
	return newValuesCommand("device-config", "the configuration stored on the device", gDevice,
		func() (map[string]any, error) { return apiClient.GetDeviceConfig() },
		func(v map[string]any) (map[string]any, error) { return apiClient.SetDeviceConfig(v) },
	)
}
