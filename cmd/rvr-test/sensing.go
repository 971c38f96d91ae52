package main

import (
	"time"

	"go.uber.org/multierr"

	"github.com/rafftod/rvr-foraging/rvr"
	"github.com/rafftod/rvr-foraging/soak"
)

type SensingCommand struct {
	Target       string        `long:"target" default:"sim" description:"Robot to exercise: sim, sim:<color>, or a registered transport target"`
	Speed        float64       `long:"speed" default:"0.5" description:"Active tread speed in m/s"`
	Tick         time.Duration `long:"tick" default:"100ms" description:"Drive command period"`
	SwapEvery    time.Duration `long:"swap-every" default:"2s" description:"How often the active tread changes sides"`
	BatteryEvery time.Duration `long:"battery-every" default:"120s" description:"Battery poll period"`
	Interval     time.Duration `long:"interval" default:"100ms" description:"Telemetry streaming period"`
	Duration     time.Duration `long:"duration" description:"Stop after this long (default: run until interrupted)"`
}

func (c *SensingCommand) Execute(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	logger := newLogger("rvr-test.sensing")

	robot, err := rvr.Open(ctx, c.Target, logger)
	if err != nil {
		return err
	}

	runErr := soak.RunSensing(ctx, robot, logger, soak.SensingOptions{
		Speed:          c.Speed,
		Tick:           c.Tick,
		SwapEvery:      c.SwapEvery,
		BatteryEvery:   c.BatteryEvery,
		StreamInterval: c.Interval,
		Duration:       c.Duration,
		Metrics:        maybeServeMetrics(logger),
	})
	return multierr.Combine(runErr, robot.Close())
}
