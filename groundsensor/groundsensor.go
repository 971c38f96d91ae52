// Package groundsensor exposes the RVR's downward color sensor as a sensor
// component.
//
// The sensor sits in the robot's belly and reads the floor directly under
// it, which makes it a cheap way to follow painted zones: readings carry the
// raw RGB plus the name of the closest color in a small floor palette.
package groundsensor

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

// Model for the RVR ground color sensor.
var Model = resource.NewModel("rafftod", "rvr", "ground-color")

const defaultInterval = 100 * time.Millisecond

// floorLabel pairs a palette color with its name.
type floorLabel struct {
	name  string
	color rvr.Color
}

// The palette the arena floor is painted with. Order matters: ties go to
// the earlier entry.
var floorPalette = []floorLabel{
	{"red", rvr.ColorRed},
	{"green", rvr.ColorGreen},
	{"yellow", rvr.ColorYellow},
	{"gray", rvr.ColorGray},
}

// NearestLabel returns the palette name closest to the given channel values
// by squared distance in RGB space.
func NearestLabel(r, g, b uint8) string {
	best := floorPalette[0].name
	bestDist := -1
	for _, entry := range floorPalette {
		dr := int(r) - int(entry.color.R)
		dg := int(g) - int(entry.color.G)
		db := int(b) - int(entry.color.B)
		dist := dr*dr + dg*dg + db*db
		if bestDist < 0 || dist < bestDist {
			best = entry.name
			bestDist = dist
		}
	}
	return best
}

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
		Constructor: newGroundSensor,
	})
}

type groundSensor struct {
	resource.Named
	resource.AlwaysRebuild
	robot   rvr.Robot
	release func() error
	logger  logging.Logger

	staleAfter time.Duration

	// Lock the mutex before reading or writing these.
	mu        sync.Mutex
	frame     rvr.ColorDetection
	lastFrame time.Time
}

// newGroundSensor connects to the robot named in the config.
func newGroundSensor(
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
	return makeGroundSensor(ctx, deps, conf, logger, robot, release)
}

// Split from newGroundSensor so tests can hand in a simulated robot.
func makeGroundSensor(
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

	gs := &groundSensor{
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
	// The color sensor's illumination LED is off by default and the firmware
	// sends no color frames until it is on.
	if err := robot.EnableColorDetection(ctx, true); err != nil {
		goutils.UncheckedError(release())
		return nil, errors.Wrap(err, "can't enable color detection")
	}

	ctl := robot.SensorControl()
	ctl.AddHandler(rvr.ServiceColorDetection, gs.observe)
	if err := ctl.Start(ctx, interval); err != nil {
		goutils.UncheckedError(release())
		return nil, errors.Wrap(err, "can't start sensor streaming")
	}

	return gs, nil
}

func (gs *groundSensor) observe(r rvr.Reading) {
	frame, ok := r.(rvr.ColorDetection)
	if !ok {
		return
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.frame = frame
	gs.lastFrame = time.Now()
}

// Readings returns the newest color frame with the nearest palette label.
func (gs *groundSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if age := time.Since(gs.lastFrame); age > gs.staleAfter {
		return nil, errors.Errorf("no color frame for %v; is streaming still running?", age.Round(time.Millisecond))
	}

	return map[string]interface{}{
		"r":          int(gs.frame.R),
		"g":          int(gs.frame.G),
		"b":          int(gs.frame.B),
		"index":      int(gs.frame.Index),
		"confidence": gs.frame.Confidence,
		"label":      NearestLabel(gs.frame.R, gs.frame.G, gs.frame.B),
	}, nil
}

// Close unsubscribes from color frames, turns the illumination LED back off
// and lets go of the shared connection.
func (gs *groundSensor) Close(ctx context.Context) error {
	gs.robot.SensorControl().RemoveHandlers(rvr.ServiceColorDetection)
	if err := gs.robot.EnableColorDetection(ctx, false); err != nil && !errors.Is(err, rvr.ErrClosed) {
		gs.logger.CErrorf(ctx, "can't disable color detection: %v", err)
	}
	return gs.release()
}
