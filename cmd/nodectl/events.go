package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nodectl/nodectl/pkg/events"
)

// NewEventsCommand .
func NewEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		Short:   "Follow events from the daemon",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			for ev := range apiClient.SubscribeEvents(ctx) {
				line, err := formatEvent(ev)
				if err != nil {
					logrus.WithError(err).WithField("event", ev.Name).Warn("failed to decode event")
					continue
				}
				cmd.Printf("%s %s\n", time.Now().Format(time.Kitchen), line)
			}
			return nil
		},
	}
}

func formatEvent(ev events.Event) (string, error) {
	switch ev.Name {
	case events.StepComplete:
		p, err := events.DecodeAs[events.StepCompleteEvent](ev)
		if err != nil {
			return "", err
		}
		return bold("step") + " " + p.Plugin + ": " + outcomeText(p.Outcome), nil
	case events.StepTick:
		p, err := events.DecodeAs[events.StepTickEvent](ev)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s: step %d waiting", bold("step"), p.Plugin, p.StepNumber), nil
	case events.DeviceState:
		p, err := events.DecodeAs[events.DeviceStateEvent](ev)
		if err != nil {
			return "", err
		}
		line := bold("device") + " " + p.State
		if p.Device != "" {
			line += " " + p.Device
		}
		if p.Port != "" {
			line += " on " + p.Port
		}
		if p.LastError != "" {
			line += ": " + color.RedString(p.LastError)
		}
		return line, nil
	case events.FirmwareMismatch:
		p, err := events.DecodeAs[events.FirmwareMismatchEvent](ev)
		if err != nil {
			return "", err
		}
		return bold("firmware") + " " + p.Device + " has " + p.RemoteVersion +
			", driver expects " + p.HostVersion + ", reflash " + bool2Text(p.Reflash), nil
	case events.DeviceMessage:
		p, err := events.DecodeAs[events.DeviceMessageEvent](ev)
		if err != nil {
			return "", err
		}
		title := p.Title
		if p.Level == "warning" {
			title = color.YellowString(title)
		}
		return bold("message") + " " + title + ": " + p.Message, nil
	default:
		return ev.Name + " " + string(ev.Data), nil
	}
}
