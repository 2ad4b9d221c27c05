package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blelight/internal/color"
	"github.com/chaz8081/blelight/internal/events"
	"github.com/chaz8081/blelight/internal/session"
)

func newSetCmd(flags *globalFlags) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "set <color>",
		Short: "Connect, write one color and exit",
		Example: `  blelight set "#FF8800"
  blelight set 255 136 0`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := color.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}

			bus := events.New()
			ctrl := newController(cfg, logger, bus)
			defer func() { _ = ctrl.Close() }()

			if err := setColor(ctrl, bus, c, timeout); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", c.Hex())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}

// setColor connects, submits c and waits for the write to succeed or fail.
func setColor(ctrl *session.Controller, bus *events.Bus, c color.Color, timeout time.Duration) error {
	outcome := make(chan error, 1)
	report := func(err error) {
		select {
		case outcome <- err:
		default:
		}
	}
	defer bus.Subscribe(func(e events.ColorWrittenEvent) {
		if e.Color == c {
			report(nil)
		}
	})()
	defer bus.Subscribe(func(e events.WriteFailedEvent) {
		if e.Color == c {
			report(errors.New(e.Error))
		}
	})()

	deadline := time.After(timeout)
	if err := waitConnected(ctrl, deadline); err != nil {
		return err
	}

	if !ctrl.SubmitColor(c) {
		return fmt.Errorf("light connected but its color characteristic was not found")
	}
	select {
	case err := <-outcome:
		if err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		return nil
	case <-deadline:
		return fmt.Errorf("no write outcome within %s", timeout)
	}
}

// waitConnected starts a session and blocks until it is Connected or the
// attempt ends some other way.
func waitConnected(ctrl *session.Controller, deadline <-chan time.Time) error {
	sub := ctrl.Subscribe()
	defer sub.Close()

	ctrl.StartSession()
	for {
		select {
		case s, ok := <-sub.C:
			if !ok {
				return errors.New("controller closed")
			}
			switch s {
			case session.Connected:
				return nil
			case session.PermissionDenied:
				return errors.New("bluetooth permission missing")
			case session.Disconnected:
				return errors.New("could not connect to the light")
			}
		case <-deadline:
			return fmt.Errorf("not connected in time (state %s)", ctrl.State())
		}
	}
}
