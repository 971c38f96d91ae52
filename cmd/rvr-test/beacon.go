package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/rafftod/rvr-foraging/beacon"
	"github.com/rafftod/rvr-foraging/rvr"
)

type BeaconRelayCommand struct {
	Beacon   string        `long:"beacon" required:"true" description:"Serial port of the transmitting DWM1001 tag (e.g. /dev/ttyACM0)"`
	Target   string        `long:"target" default:"sim" description:"Robot whose ground color to relay"`
	Every    time.Duration `long:"every" default:"500ms" description:"Broadcast period"`
	Interval time.Duration `long:"interval" default:"100ms" description:"Color streaming period"`
	Duration time.Duration `long:"duration" description:"Stop after this long (default: run until interrupted)"`
}

// Execute streams the ground color sensor and broadcasts the saturated color
// over the beacon, so nearby robots see what this one is driving on.
func (c *BeaconRelayCommand) Execute(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	logger := newLogger("rvr-test.beacon-relay")

	device, err := beacon.Open(c.Beacon, logger)
	if err != nil {
		return err
	}

	robot, err := rvr.Open(ctx, c.Target, logger)
	if err != nil {
		return multierr.Combine(err, device.Close())
	}
	closeAll := func(runErr error) error {
		return multierr.Combine(runErr, robot.Close(), device.Close())
	}

	if err := robot.Wake(ctx); err != nil {
		return closeAll(errors.Wrap(err, "can't wake RVR"))
	}
	if err := robot.EnableColorDetection(ctx, true); err != nil {
		return closeAll(errors.Wrap(err, "can't enable color detection"))
	}

	// Cache the newest frame; the broadcast ticker reads it back out.
	var mu sync.Mutex
	var latest rvr.Color
	var seen bool
	ctl := robot.SensorControl()
	ctl.AddHandler(rvr.ServiceColorDetection, func(r rvr.Reading) {
		frame, ok := r.(rvr.ColorDetection)
		if !ok {
			return
		}
		mu.Lock()
		latest = rvr.Color{R: frame.R, G: frame.G, B: frame.B}
		seen = true
		mu.Unlock()
	})
	if err := ctl.Start(ctx, c.Interval); err != nil {
		return closeAll(errors.Wrap(err, "can't start sensor streaming"))
	}

	ticker := time.NewTicker(c.Every)
	defer ticker.Stop()

	var done <-chan time.Time
	if c.Duration > 0 {
		timer := time.NewTimer(c.Duration)
		defer timer.Stop()
		done = timer.C
	}

loop:
	for {
		select {
		case <-ticker.C:
			mu.Lock()
			color, ok := latest, seen
			mu.Unlock()
			if !ok {
				continue
			}
			bright := beacon.Saturate(color)
			if err := device.Broadcast(bright); err != nil {
				logger.CErrorf(ctx, "can't broadcast color: %v", err)
				continue
			}
			logger.CDebugf(ctx, "broadcast %v (saw %v)", bright, color)
		case <-done:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	if err := ctl.Stop(context.WithoutCancel(ctx)); err != nil {
		logger.CErrorf(ctx, "can't stop sensor streaming: %v", err)
	}
	return closeAll(nil)
}

type BeaconWatchCommand struct {
	Beacon string `long:"beacon" required:"true" description:"Serial port of the listening DWM1001 tag (e.g. /dev/ttyACM1)"`
	Out    string `long:"out" description:"Mirror each completed color to this file"`
}

// Execute logs every channel line a listening tag receives. Channels arrive
// in R, G, B order, so a B line completes a color.
func (c *BeaconWatchCommand) Execute(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	logger := newLogger("rvr-test.beacon-watch")

	device, err := beacon.Open(c.Beacon, logger)
	if err != nil {
		return err
	}
	// The serial read only fails when the port closes, so closing is how
	// the signal reaches Listen.
	go func() {
		<-ctx.Done()
		if err := device.Close(); err != nil {
			logger.Errorf("can't close beacon: %v", err)
		}
	}()

	var color rvr.Color
	err = device.Listen(ctx, func(line beacon.Line) {
		switch line.Channel {
		case 'R':
			color.R = line.Value
		case 'G':
			color.G = line.Value
		case 'B':
			color.B = line.Value
			logger.CInfof(ctx, "received %v", color)
			if c.Out != "" {
				payload := fmt.Sprintf("%d %d %d\n", color.R, color.G, color.B)
				if err := os.WriteFile(c.Out, []byte(payload), 0o644); err != nil {
					logger.CErrorf(ctx, "can't write %s: %v", c.Out, err)
				}
			}
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
