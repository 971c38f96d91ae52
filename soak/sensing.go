package soak

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"github.com/rafftod/rvr-foraging/rvr"
)

// SensingOptions tunes the sensing exercise. The zero value runs the
// standard rig configuration.
type SensingOptions struct {
	// Speed of the active tread, in m/s.
	Speed float64
	// Tick is how often the drive command is re-issued.
	Tick time.Duration
	// SwapEvery is how often the active tread changes sides.
	SwapEvery time.Duration
	// BatteryEvery is how often the battery gauge is queried.
	BatteryEvery time.Duration
	// StreamInterval is the telemetry streaming period.
	StreamInterval time.Duration
	// Settle is how long to wait after waking before moving.
	Settle time.Duration
	// Duration stops the exercise after this long; zero runs until the
	// context is done.
	Duration time.Duration
	// Metrics receives counters if non-nil.
	Metrics *Metrics
}

func (o SensingOptions) withDefaults() (SensingOptions, error) {
	if o.Speed < 0 {
		return o, errors.New("speed must be positive")
	}
	if o.Speed == 0 {
		o.Speed = DefaultSpeed
	}
	if o.Tick == 0 {
		o.Tick = defaultTick
	}
	if o.SwapEvery == 0 {
		o.SwapEvery = defaultSwapEvery
	}
	if o.BatteryEvery == 0 {
		o.BatteryEvery = defaultBatteryEvery
	}
	if o.StreamInterval == 0 {
		o.StreamInterval = defaultStreamInterval
	}
	if o.Settle == 0 {
		o.Settle = defaultSettle
	}
	return o, nil
}

// RunSensing drives the robot in a one-tread-at-a-time spin while every
// telemetry service streams, logging each frame as it arrives. It keeps the
// UART busy in all directions at once, which is exactly the load that used
// to wedge the link.
//
// Transient command failures are logged and counted, never fatal: if the
// channel is unstable, the exercise's job is to keep hammering it. RunSensing
// returns once ctx is done or the configured duration elapses, after parking
// the treads and shutting the lights off. Closing the robot stays with the
// caller.
func RunSensing(ctx context.Context, robot rvr.Robot, logger logging.Logger, opts SensingOptions) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	if err := robot.Wake(ctx); err != nil {
		return errors.Wrap(err, "can't wake RVR")
	}
	// Give the firmware a moment to come up before talking to it in earnest.
	if !goutils.SelectContextOrWait(ctx, opts.Settle) {
		return ctx.Err()
	}
	if err := robot.ResetYaw(ctx); err != nil {
		return errors.Wrap(err, "can't reset yaw")
	}
	if err := robot.LEDsOff(ctx); err != nil {
		logger.CErrorf(ctx, "can't blank LEDs: %v", err)
	}
	if err := robot.EnableColorDetection(ctx, true); err != nil {
		return errors.Wrap(err, "can't enable color detection")
	}

	ctl := robot.SensorControl()
	for _, service := range rvr.Services() {
		ctl.AddHandler(service, func(r rvr.Reading) {
			opts.Metrics.observeFrame(service)
			logger.CDebugf(ctx, "%s: %+v", service, r)
		})
	}
	if err := ctl.Start(ctx, opts.StreamInterval); err != nil {
		return errors.Wrap(err, "can't start sensor streaming")
	}
	logger.CInfof(ctx, "streaming %d services every %v", len(rvr.Services()), opts.StreamInterval)

	split := treadSplit{left: 0, right: opts.Speed}

	// A tick sends the tread speeds and re-sends the LED state, so the
	// command side of the link stays as busy as the telemetry side.
	drive := func() {
		err := robot.DriveTank(ctx, split.left, split.right)
		opts.Metrics.observeDrive(err)
		if err != nil {
			logger.CErrorf(ctx, "drive command failed: %v", err)
		}
		setLEDs(ctx, robot, logger, split)
	}

	driveTicker := time.NewTicker(opts.Tick)
	defer driveTicker.Stop()
	swapTicker := time.NewTicker(opts.SwapEvery)
	defer swapTicker.Stop()
	batteryTicker := time.NewTicker(opts.BatteryEvery)
	defer batteryTicker.Stop()

	var done <-chan time.Time
	if opts.Duration > 0 {
		timer := time.NewTimer(opts.Duration)
		defer timer.Stop()
		done = timer.C
	}

	logBattery(ctx, robot, logger, opts.Metrics)
	drive()

loop:
	for {
		select {
		case <-driveTicker.C:
			drive()
		case <-swapTicker.C:
			// The next tick sends the new split and its matching lights.
			split = split.swapped(opts.Speed)
			logger.CDebugf(ctx, "swapping treads: left=%.2f right=%.2f", split.left, split.right)
		case <-batteryTicker.C:
			logBattery(ctx, robot, logger, opts.Metrics)
		case <-done:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	shutdown(ctx, robot, logger, ctl)
	return nil
}

func setLEDs(ctx context.Context, robot rvr.Robot, logger logging.Logger, split treadSplit) {
	if err := robot.SetLEDs(ctx, treadLEDs(split)); err != nil {
		logger.CErrorf(ctx, "can't set LEDs: %v", err)
	}
}

func logBattery(ctx context.Context, robot rvr.Robot, logger logging.Logger, metrics *Metrics) {
	pct, err := robot.BatteryPercentage(ctx)
	if err != nil {
		logger.CErrorf(ctx, "can't read battery: %v", err)
		return
	}
	metrics.setBattery(pct)
	logger.CInfof(ctx, "battery at %.1f%%", pct)
}

// shutdown winds the exercise down in the order the hardware likes: stop the
// telemetry first, then the treads, then the lights. It runs even when ctx
// is already canceled, since that's the usual way an exercise ends.
func shutdown(ctx context.Context, robot rvr.Robot, logger logging.Logger, ctl *rvr.SensorControl) {
	ctx = context.WithoutCancel(ctx)

	if err := ctl.Stop(ctx); err != nil {
		logger.CErrorf(ctx, "can't stop sensor streaming: %v", err)
	}
	ctl.Clear()

	if err := robot.DriveTank(ctx, 0, 0); err != nil {
		logger.CErrorf(ctx, "can't park treads: %v", err)
	}
	goutils.SelectContextOrWait(ctx, shutdownSettle)

	if err := robot.LEDsOff(ctx); err != nil {
		logger.CErrorf(ctx, "can't turn LEDs off: %v", err)
	}
	logger.CInfo(ctx, "exercise finished")
}
