package main

import (
	"encoding/json"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nodectl/nodectl/pkg/controller"
)

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the device",
		Long:    `Get the device connection, firmware versions, and the state of the current step.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			printStatus(cmd, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")

	return cmd
}

func printStatus(cmd *cobra.Command, st *controller.Status) {
	cmd.Println(bold("Device:"))
	cmd.Printf("  Plugin: %s\n", bold("%s", st.Plugin))
	cmd.Printf("  State: %s\n", stateText(st.State))
	if st.Port != "" {
		cmd.Printf("  Port: %s\n", bold("%s", st.Port))
	}
	if st.LastError != "" {
		cmd.Printf("  Last error: %s\n", color.RedString(st.LastError))
	}

	if id := st.Identity; id != nil {
		cmd.Println()
		cmd.Println(bold("Firmware:"))
		cmd.Printf("  Device: %s (%s)\n", bold("%s", id.DisplayName), id.PackageName)
		cmd.Printf("  Device version: %s\n", bold("%s", id.RemoteSoftwareVersion))
		cmd.Printf("  Driver version: %s\n", bold("%s", id.HostSoftwareVersion))
		cmd.Printf("  Versions match: %s\n", bool2Text(!st.Warning))
		if st.Warning {
			cmd.Println("    Run 'nodectl reflash' to update the device firmware.")
		}
	}

	cmd.Println()
	cmd.Println(bold("Step:"))
	cmd.Printf("  Phase: %s\n", bold("%s", st.Step.Phase))
	if st.Step.Mode != "" {
		cmd.Printf("  Mode: %s\n", st.Step.Mode)
	}
	if st.Step.RunID != "" {
		cmd.Printf("  Run: %s (started %s)\n", st.Step.RunID, st.Step.StartedAt.Format("15:04:05"))
	}
	if st.Step.LastOutcome != "" {
		cmd.Printf("  Last outcome: %s\n", outcomeText(string(st.Step.LastOutcome)))
	}
	if st.Step.LastError != "" {
		cmd.Printf("  Last step error: %s\n", color.RedString(st.Step.LastError))
	}
}

func stateText(s controller.State) string {
	switch s {
	case controller.StateReady:
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	case controller.StateConnected, controller.StateFlashing:
		return color.New(color.Bold, color.FgYellow).Sprint(s)
	default:
		return color.New(color.Bold, color.FgRed).Sprint(s)
	}
}

func outcomeText(o string) string {
	switch o {
	case "Continue":
		return color.GreenString(o)
	case "Repeat":
		return color.YellowString(o)
	default:
		return color.RedString(o)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
