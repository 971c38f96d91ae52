// Package base exposes the RVR's tank drive as a base component.
//
// The firmware watches for command silence and stops the treads on its own,
// so a single drive command only moves the robot briefly. The component keeps
// a background loop that re-issues the current tread speeds every refresh
// interval, the way the original driver re-applies actuation on its timer;
// SetPower and SetVelocity just change what that loop sends.
//
// The RVR has no base-level API for its LEDs, so the light groups are reached
// through DoCommand:
//
//	{"command": "set_leds", "leds": {"headlight_left": [255, 0, 0]}}
//	{"command": "leds_off"}
//	{"command": "reset_yaw"}
package base

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"

	"github.com/rafftod/rvr-foraging/rvr"
)

// Model for the RVR tank-drive base.
var Model = resource.NewModel("rafftod", "rvr", "base")

const (
	// How often the current tread speeds are re-sent to the firmware.
	defaultRefreshInterval = 100 * time.Millisecond

	// Overall chassis width; the treads sit at rvr.TreadSeparation.
	chassisWidthMeters = 0.216
)

// Config sets up the connection behind the base.
type Config struct {
	SerialPath           string  `json:"serial_path"`
	MaxSpeedMetersPerSec float64 `json:"max_speed_m_per_sec,omitempty"`
	RefreshMs            int     `json:"refresh_ms,omitempty"`
}

// Validate ensures all parts of the config are valid, and then returns the
// list of things we depend on.
func (conf *Config) Validate(path string) ([]string, error) {
	if conf.SerialPath == "" {
		return nil, resource.NewConfigValidationFieldRequiredError(path, "serial_path")
	}
	if conf.MaxSpeedMetersPerSec < 0 || conf.MaxSpeedMetersPerSec > rvr.MaxTankSpeed {
		return nil, errors.Errorf("max_speed_m_per_sec must be between 0 and %v", rvr.MaxTankSpeed)
	}

	var deps []string
	return deps, nil
}

func init() {
	resource.RegisterComponent(base.API, Model, resource.Registration[base.Base, *Config]{
		Constructor: newBase,
	})
}

type rvrBase struct {
	resource.Named
	resource.AlwaysRebuild
	robot    rvr.Robot
	release  func() error
	maxSpeed float64
	logger   logging.Logger

	// Lock the mutex before touching the commanded speeds or lastErr.
	mu      sync.Mutex
	left    float64
	right   float64
	lastErr error

	workers *goutils.StoppableWorkers
}

// newBase connects to the robot named in the config.
func newBase(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (base.Base, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	robot, release, err := rvr.Shared(ctx, newConf.SerialPath, logger)
	if err != nil {
		return nil, err
	}
	return makeBase(ctx, deps, conf, logger, robot, release)
}

// This function is separated from newBase solely so you can inject a
// simulated robot in tests.
func makeBase(
	ctx context.Context,
	_ resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
	robot rvr.Robot,
	release func() error,
) (base.Base, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	maxSpeed := newConf.MaxSpeedMetersPerSec
	if maxSpeed == 0 {
		maxSpeed = rvr.MaxTankSpeed
	}
	refresh := defaultRefreshInterval
	if newConf.RefreshMs > 0 {
		refresh = time.Duration(newConf.RefreshMs) * time.Millisecond
	}

	b := &rvrBase{
		Named:    conf.ResourceName().AsNamed(),
		robot:    robot,
		release:  release,
		maxSpeed: maxSpeed,
		logger:   logger,
	}

	if err := robot.Wake(ctx); err != nil {
		goutils.UncheckedError(release())
		return nil, errors.Wrap(err, "can't wake RVR")
	}
	if err := robot.ResetYaw(ctx); err != nil {
		goutils.UncheckedError(release())
		return nil, errors.Wrap(err, "can't reset yaw")
	}

	// The firmware stops the treads when commands go quiet, so keep sending
	// whatever was last asked for.
	b.workers = goutils.NewBackgroundStoppableWorkers(func(cancelCtx context.Context) {
		timer := time.NewTicker(refresh)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				b.mu.Lock()
				left, right := b.left, b.right
				b.mu.Unlock()

				err := b.robot.DriveTank(cancelCtx, left, right)
				b.mu.Lock()
				b.lastErr = err
				b.mu.Unlock()
				if err != nil && !errors.Is(err, context.Canceled) {
					b.logger.CErrorf(cancelCtx, "error refreshing tank drive: '%s'", err)
				}
			case <-cancelCtx.Done():
				return
			}
		}
	})

	return b, nil
}

// setTreads clamps and applies per-tread speeds, immediately and for the
// refresh loop.
func (b *rvrBase) setTreads(ctx context.Context, left, right float64) error {
	left = clamp(left, b.maxSpeed)
	right = clamp(right, b.maxSpeed)

	b.mu.Lock()
	b.left, b.right = left, right
	b.mu.Unlock()

	return b.robot.DriveTank(ctx, left, right)
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// SetPower mixes power fractions onto the treads: linear.Y forward in
// [-1, 1], angular.Z counterclockwise in [-1, 1], scaled by the configured
// max speed.
func (b *rvrBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	left := clamp(linear.Y-angular.Z, 1) * b.maxSpeed
	right := clamp(linear.Y+angular.Z, 1) * b.maxSpeed
	return b.setTreads(ctx, left, right)
}

// SetVelocity takes linear.Y in mm/s and angular.Z in deg/s, per the base
// API, and converts to per-tread ground speeds.
func (b *rvrBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	v := linear.Y / 1000
	w := angular.Z * math.Pi / 180
	left := v - w*rvr.TreadSeparation/2
	right := v + w*rvr.TreadSeparation/2
	return b.setTreads(ctx, left, right)
}

func (b *rvrBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	return errors.New("MoveStraight needs closed-loop control the RVR base does not do; use SetVelocity")
}

func (b *rvrBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	return errors.New("Spin needs closed-loop control the RVR base does not do; use SetVelocity")
}

// Stop zeroes both treads.
func (b *rvrBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	return b.setTreads(ctx, 0, 0)
}

// IsMoving reports whether the base was last commanded to move. The error
// reflects the most recent refresh attempt.
func (b *rvrBase) IsMoving(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.left != 0 || b.right != 0, b.lastErr
}

func (b *rvrBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return base.Properties{
		TurningRadiusMeters: 0,
		WidthMeters:         chassisWidthMeters,
	}, nil
}

func (b *rvrBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}

// DoCommand reaches the parts of the robot the base API has no verbs for.
func (b *rvrBase) DoCommand(ctx context.Context, req map[string]interface{}) (map[string]interface{}, error) {
	cmd, ok := req["command"].(string)
	if !ok {
		return nil, errors.New("missing string field 'command'")
	}

	switch cmd {
	case "set_leds":
		groups, err := parseLEDMap(req["leds"])
		if err != nil {
			return nil, err
		}
		if err := b.robot.SetLEDs(ctx, groups); err != nil {
			return nil, err
		}
	case "leds_off":
		if err := b.robot.LEDsOff(ctx); err != nil {
			return nil, err
		}
	case "reset_yaw":
		if err := b.robot.ResetYaw(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unknown command %q", cmd)
	}
	return map[string]interface{}{"ok": true}, nil
}

var validGroups = func() map[rvr.LedGroup]bool {
	groups := make(map[rvr.LedGroup]bool)
	for _, g := range rvr.LedGroups() {
		groups[g] = true
	}
	return groups
}()

// parseLEDMap decodes {"group": [r, g, b], ...} as it arrives over protobuf,
// where all numbers come through as float64.
func parseLEDMap(raw interface{}) (map[rvr.LedGroup]rvr.Color, error) {
	fields, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New("'leds' must map group names to [r, g, b]")
	}

	groups := make(map[rvr.LedGroup]rvr.Color, len(fields))
	for name, value := range fields {
		group := rvr.LedGroup(name)
		if !validGroups[group] {
			return nil, errors.Errorf("unknown LED group %q", name)
		}
		channels, ok := value.([]interface{})
		if !ok || len(channels) != 3 {
			return nil, errors.Errorf("LED group %q needs [r, g, b]", name)
		}
		var rgb [3]uint8
		for i, channel := range channels {
			n, ok := channel.(float64)
			if !ok || n < 0 || n > 255 {
				return nil, errors.Errorf("LED group %q channel %d out of range", name, i)
			}
			rgb[i] = uint8(n)
		}
		groups[group] = rvr.Color{R: rgb[0], G: rgb[1], B: rgb[2]}
	}
	return groups, nil
}

// Close stops the refresh loop, parks the treads and lets go of the shared
// connection.
func (b *rvrBase) Close(ctx context.Context) error {
	b.workers.Stop()

	if err := b.robot.DriveTank(ctx, 0, 0); err != nil && !errors.Is(err, rvr.ErrClosed) {
		b.logger.CError(ctx, err)
	}
	return b.release()
}
