package soak

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"github.com/rafftod/rvr-foraging/rvr"
)

// DrivingOptions tunes the driving exercise. The zero value spins at the
// standard speed with a fresh command every second.
type DrivingOptions struct {
	// Speed of the treads, in m/s.
	Speed float64
	// Tick is how often the drive command is re-issued.
	Tick time.Duration
	// Settle is how long to wait after waking before moving.
	Settle time.Duration
	// Duration stops the exercise after this long; zero runs until the
	// context is done.
	Duration time.Duration
	// Metrics receives counters if non-nil.
	Metrics *Metrics
}

func (o DrivingOptions) withDefaults() (DrivingOptions, error) {
	if o.Speed < 0 {
		return o, errors.New("speed must be positive")
	}
	if o.Speed == 0 {
		o.Speed = DefaultSpeed
	}
	if o.Tick == 0 {
		o.Tick = time.Second
	}
	if o.Settle == 0 {
		o.Settle = defaultSettle
	}
	return o, nil
}

// RunDriving spins the robot in place, re-issuing the same opposed tread
// command on every tick. It exercises the drive path alone, with no telemetry
// in flight, which isolates whether trouble comes from the outbound channel
// or from the crosstalk with streaming. Same contract as RunSensing:
// transient command failures are logged and counted, the robot is parked on
// the way out, and closing it stays with the caller.
func RunDriving(ctx context.Context, robot rvr.Robot, logger logging.Logger, opts DrivingOptions) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	if err := robot.Wake(ctx); err != nil {
		return errors.Wrap(err, "can't wake RVR")
	}
	if !goutils.SelectContextOrWait(ctx, opts.Settle) {
		return ctx.Err()
	}
	if err := robot.ResetYaw(ctx); err != nil {
		return errors.Wrap(err, "can't reset yaw")
	}

	ticker := time.NewTicker(opts.Tick)
	defer ticker.Stop()

	var done <-chan time.Time
	if opts.Duration > 0 {
		timer := time.NewTimer(opts.Duration)
		defer timer.Stop()
		done = timer.C
	}

	// The firmware stops the treads when commands stop coming, so the same
	// command goes out every tick.
	left, right := -opts.Speed, opts.Speed
	drive := func() {
		err := robot.DriveTank(ctx, left, right)
		opts.Metrics.observeDrive(err)
		if err != nil {
			logger.CErrorf(ctx, "drive command failed: %v", err)
		}
	}
	drive()

loop:
	for {
		select {
		case <-ticker.C:
			drive()
		case <-done:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	shutdown(ctx, robot, logger, robot.SensorControl())
	return nil
}
