// Package lightsensor exposes the RVR's ambient light sensor as a sensor
// component. The sensor looks up out of the top plate and reports
// illuminance in lux.
package lightsensor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	goutils "go.viam.com/utils"

	"github.com/rafftod/rvr-foraging/rvr"
)

// Model for the RVR ambient light sensor.
var Model = resource.NewModel("rafftod", "rvr", "ambient-light")

const defaultInterval = 100 * time.Millisecond

// Config is used to configure the attributes of the sensor.
type Config struct {
	SerialPath string `json:"serial_path"`
	IntervalMs int    `json:"interval_ms,omitempty"`
}

// Validate ensures all parts of the config are valid, and then returns the
// list of things we depend on.
func (conf *Config) Validate(path string) ([]string, error) {
	if conf.SerialPath == "" {
		return nil, resource.NewConfigValidationFieldRequiredError(path, "serial_path")
	}
	if conf.IntervalMs < 0 {
		return nil, errors.New("interval_ms must be positive")
	}

	var deps []string
	return deps, nil
}

func init() {
	resource.RegisterComponent(sensor.API, Model, resource.Registration[sensor.Sensor, *Config]{
		Constructor: newLightSensor,
	})
}

type lightSensor struct {
	resource.Named
	resource.AlwaysRebuild
	robot   rvr.Robot
	release func() error
	logger  logging.Logger

	staleAfter time.Duration

	// Lock the mutex before reading or writing these.
	mu        sync.Mutex
	lux       float64
	lastFrame time.Time
}

// newLightSensor connects to the robot named in the config.
func newLightSensor(
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
	return makeLightSensor(ctx, deps, conf, logger, robot, release)
}

// Split from newLightSensor so tests can hand in a simulated robot.
func makeLightSensor(
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

	interval := defaultInterval
	if newConf.IntervalMs > 0 {
		interval = time.Duration(newConf.IntervalMs) * time.Millisecond
	}

	ls := &lightSensor{
		Named:      conf.ResourceName().AsNamed(),
		robot:      robot,
		release:    release,
		logger:     logger,
		staleAfter: 10 * interval,
		lastFrame:  time.Now(),
	}

	if err := robot.Wake(ctx); err != nil {
		goutils.UncheckedError(release())
		return nil, errors.Wrap(err, "can't wake RVR")
	}

	ctl := robot.SensorControl()
	ctl.AddHandler(rvr.ServiceAmbientLight, ls.observe)
	if err := ctl.Start(ctx, interval); err != nil {
		goutils.UncheckedError(release())
		return nil, errors.Wrap(err, "can't start sensor streaming")
	}

	return ls, nil
}

func (ls *lightSensor) observe(r rvr.Reading) {
	frame, ok := r.(rvr.AmbientLight)
	if !ok {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.lux = frame.Light
	ls.lastFrame = time.Now()
}

func (ls *lightSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if age := time.Since(ls.lastFrame); age > ls.staleAfter {
		return nil, errors.Errorf("no light frame for %v; is streaming still running?", age.Round(time.Millisecond))
	}

	return map[string]interface{}{"lux": ls.lux}, nil
}

// Close unsubscribes from light frames and lets go of the shared connection.
func (ls *lightSensor) Close(ctx context.Context) error {
	ls.robot.SensorControl().RemoveHandlers(rvr.ServiceAmbientLight)
	return ls.release()
}
