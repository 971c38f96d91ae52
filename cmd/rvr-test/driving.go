package main

import (
	"time"

	"go.uber.org/multierr"

	"github.com/rafftod/rvr-foraging/rvr"
	"github.com/rafftod/rvr-foraging/soak"
)

type DrivingCommand struct {
	Target       string        `long:"target" default:"sim" description:"Robot to exercise: sim, sim:<color>, or a registered transport target"`
	Speed        float64       `long:"speed" default:"0.5" description:"Tread speed in m/s"`
	Tick         time.Duration `long:"tick" default:"1s" description:"Drive command period"`
	BatteryEvery time.Duration `long:"battery-every" default:"120s" description:"Battery poll period"`
	Duration     time.Duration `long:"duration" description:"Stop after this long (default: run until interrupted)"`
}

func (c *DrivingCommand) Execute(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	logger := newLogger("rvr-test.driving")

	robot, err := rvr.Open(ctx, c.Target, logger)
	if err != nil {
		return err
	}
	metrics := maybeServeMetrics(logger)

	// The driving loop itself never touches the battery; a side poller
	// keeps the gauge in the logs on the usual cadence.
	poller := soak.NewBatteryPoller(robot, c.BatteryEvery, logger, metrics)
	poller.Start(ctx)

	runErr := soak.RunDriving(ctx, robot, logger, soak.DrivingOptions{
		Speed:    c.Speed,
		Tick:     c.Tick,
		Duration: c.Duration,
		Metrics:  metrics,
	})

	poller.Stop()
	return multierr.Combine(runErr, robot.Close())
}
