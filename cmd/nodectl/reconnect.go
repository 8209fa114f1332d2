package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nodectl/nodectl/pkg/client"
)

// NewReconnectCommand .
func NewReconnectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reconnect",
		Short:   "Show the reconnect schedule",
		GroupID: gDevice,
		Long: `Show the reconnect schedule.

The daemon tries to find a disconnected device on the cron schedule set by
reconnect_schedule. Use "nodectl config set reconnect_schedule=<expr>" to
change it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := apiClient.GetReconnect()
			if err != nil {
				return fmt.Errorf("failed to get reconnect schedule: %v", err)
			}
			cmd.Println(reconnectText(r))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled reconnect",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := apiClient.SkipReconnect()
			if err != nil {
				return fmt.Errorf("failed to skip reconnect: %v", err)
			}
			cmd.Println(reconnectText(r))
			return nil
		},
	})

	return cmd
}

func reconnectText(r *client.Reconnect) string {
	if r.Next == nil {
		return "no reconnect scheduled"
	}
	return fmt.Sprintf("next reconnect at %s (%s)", r.Next.Local().Format(time.DateTime), r.Schedule)
}
