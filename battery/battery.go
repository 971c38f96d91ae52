// Package battery polls the RVR's battery gauge and exposes the charge
// percentage as a sensor component.
//
// Unlike the streamed telemetry, the battery query is a plain
// request/response over the UART, so this component runs its own slow
// polling loop. The state of charge moves over minutes, not milliseconds;
// the default two-minute period is plenty.
package battery

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	goutils "go.viam.com/utils"

	"github.com/rafftod/rvr-foraging/rvr"
)

// Model for the RVR battery sensor.
var Model = resource.NewModel("rafftod", "rvr", "battery")

const defaultPollInterval = 120 * time.Second

// Config is used to configure the attributes of the sensor.
type Config struct {
	SerialPath string `json:"serial_path"`
	PollS      int    `json:"poll_s,omitempty"`
}

// Validate ensures all parts of the config are valid, and then returns the
// list of things we depend on.
func (conf *Config) Validate(path string) ([]string, error) {
	if conf.SerialPath == "" {
		return nil, resource.NewConfigValidationFieldRequiredError(path, "serial_path")
	}
	if conf.PollS < 0 {
		return nil, errors.New("poll_s must be positive")
	}

	var deps []string
	return deps, nil
}

func init() {
	resource.RegisterComponent(sensor.API, Model, resource.Registration[sensor.Sensor, *Config]{
		Constructor: newBattery,
	})
}

type battery struct {
	resource.Named
	resource.AlwaysRebuild
	robot   rvr.Robot
	release func() error
	logger  logging.Logger
	workers *goutils.StoppableWorkers

	// The UART is shared with drive commands and streaming, so a single
	// garbled exchange is routine. Only report errors if at least 5 of the
	// last 10 polls have failed.
	err movementsensor.LastError

	// Lock the mutex before reading or writing these.
	mu         sync.Mutex
	percentage float64
	lastPoll   time.Time
}

// newBattery connects to the robot named in the config.
func newBattery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	robot, release, err := rvr.Shared(ctx, newConf.SerialPath, logger)
	if err != nil {
		return nil, err
	}
	return makeBattery(ctx, deps, conf, logger, robot, release)
}

// Split from newBattery so tests can hand in a simulated robot.
func makeBattery(
	ctx context.Context,
	_ resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
	robot rvr.Robot,
	release func() error,
) (sensor.Sensor, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	interval := defaultPollInterval
	if newConf.PollS > 0 {
		interval = time.Duration(newConf.PollS) * time.Second
	}

	b := &battery{
		Named:   conf.ResourceName().AsNamed(),
		robot:   robot,
		release: release,
		logger:  logger,
		err:     movementsensor.NewLastError(10, 5),
	}

	if err := robot.Wake(ctx); err != nil {
		goutils.UncheckedError(release())
		return nil, errors.Wrap(err, "can't wake RVR")
	}

	// A first poll right away, so reads don't have to wait out the first
	// two-minute tick for a value.
	b.poll(ctx)

	b.workers = goutils.NewBackgroundStoppableWorkers(func(cancelCtx context.Context) {
		timer := time.NewTicker(interval)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				b.poll(cancelCtx)
			case <-cancelCtx.Done():
				return
			}
		}
	})

	return b, nil
}

func (b *battery) poll(ctx context.Context) {
	pct, err := b.robot.BatteryPercentage(ctx)
	// Record `err` no matter what: even if it's nil, that's useful information.
	b.err.Set(err)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			b.logger.CErrorf(ctx, "error polling RVR battery: '%s'", err)
		}
		return
	}

	b.mu.Lock()
	b.percentage = pct
	b.lastPoll = time.Now()
	b.mu.Unlock()
}

// Readings returns the charge percentage from the most recent poll.
func (b *battery) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	if lastError := b.err.Get(); lastError != nil {
		return nil, lastError
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"battery_percentage": b.percentage,
		"polled_at":          b.lastPoll.Format(time.RFC3339),
	}, nil
}

// Close stops the polling loop and lets go of the shared connection.
func (b *battery) Close(ctx context.Context) error {
	b.workers.Stop()
	return b.release()
}
