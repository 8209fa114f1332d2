package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nodectl/nodectl/pkg/controller"
	"github.com/nodectl/nodectl/pkg/step"
)

// protocolFlags build the Protocol sent with enable, disable and step.
type protocolFlags struct {
	stepNumber int
	amount     float64
	rate       float64
	running    bool
	realtime   bool
}

func (f *protocolFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVar(&f.stepNumber, "step", 0, "Number of the protocol step")
	fl.Float64Var(&f.amount, "amount", 0, "Amount to move, in host units")
	fl.Float64Var(&f.rate, "rate", 0, "Rate in host units per minute")
	fl.BoolVar(&f.running, "running", false, "The protocol is running")
	fl.BoolVar(&f.realtime, "realtime", false, "The host is in realtime mode")
}

func (f *protocolFlags) protocol() controller.Protocol {
	return controller.Protocol{
		Host: step.HostContext{
			StepNumber: f.stepNumber,
			Realtime:   f.realtime,
			Running:    f.running,
		},
		Options: step.Options{
			Amount:        f.amount,
			RatePerMinute: f.rate,
		},
	}
}

// lifecycleProtocol returns nil unless a protocol flag was given, so the
// daemon only runs a step when asked to.
func (f *protocolFlags) lifecycleProtocol(cmd *cobra.Command) *controller.Protocol {
	for _, name := range []string{"step", "amount", "rate", "running", "realtime"} {
		if cmd.Flags().Changed(name) {
			p := f.protocol()
			return &p
		}
	}
	return nil
}

func newLifecycleCommand(use, short string, call func(*controller.Protocol) (*controller.Status, error)) *cobra.Command {
	var f protocolFlags

	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		GroupID: gBasic,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := call(f.lifecycleProtocol(cmd))
			if err != nil {
				return fmt.Errorf("failed to %s: %v", use, err)
			}
			logrus.Infof("successfully called %s", use)
			printStatus(cmd, st)
			return nil
		},
	}
	f.register(cmd)

	return cmd
}

// NewEnableCommand .
func NewEnableCommand() *cobra.Command {
	return newLifecycleCommand("enable", "Connect to the device and, with protocol flags, run a step",
		func(p *controller.Protocol) (*controller.Status, error) { return apiClient.Enable(p) })
}

// NewDisableCommand .
func NewDisableCommand() *cobra.Command {
	return newLifecycleCommand("disable", "Close the device session and, with protocol flags, run a step",
		func(p *controller.Protocol) (*controller.Status, error) { return apiClient.Disable(p) })
}

// NewStepCommand .
func NewStepCommand() *cobra.Command {
	var f protocolFlags

	cmd := &cobra.Command{
		Use:     "step",
		Short:   "Run one protocol step on the device",
		GroupID: gBasic,
		Long: `Run one protocol step on the device.

The daemon answers as soon as the step is started. Use 'nodectl events' to
see its outcome.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			started, err := apiClient.RunStep(f.protocol())
			if err != nil {
				return fmt.Errorf("failed to run step: %v", err)
			}
			cmd.Printf("Step %s started (%s)\n", bold("%s", started.RunID), started.Mode)
			return nil
		},
	}
	f.register(cmd)

	return cmd
}
