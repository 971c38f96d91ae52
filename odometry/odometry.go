// Package odometry implements the movementsensor interface over the RVR's
// streamed telemetry.
//
// The firmware already runs its own IMU fusion, so there is nothing to
// estimate here: the component subscribes to the gyroscope, accelerometer,
// IMU, quaternion, locator and velocity services and caches the newest frame
// of each. Readings convert to the units the movementsensor API wants:
// angular velocity stays in deg/s, acceleration converts from g to m/s², the
// attitude comes back as euler angles in radians.
//
// The locator reports meters from the pose at the last yaw reset, not
// geodetic coordinates, so Position is unimplemented; the raw locator and
// quaternion ride along in Readings instead.
package odometry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"

	"github.com/rafftod/rvr-foraging/rvr"
)

// Model for the RVR odometry movement sensor.
var Model = resource.NewModel("rafftod", "rvr", "odometry")

const (
	defaultInterval = 100 * time.Millisecond

	// Acceleration of gravity, to convert the accelerometer's g units.
	gravity = 9.81

	radPerDeg = math.Pi / 180
)

// The services this sensor subscribes to.
var services = []rvr.StreamingService{
	rvr.ServiceAccelerometer,
	rvr.ServiceGyroscope,
	rvr.ServiceIMU,
	rvr.ServiceLocator,
	rvr.ServiceQuaternion,
	rvr.ServiceVelocity,
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
	resource.RegisterComponent(movementsensor.API, Model, resource.Registration[movementsensor.MovementSensor, *Config]{
		Constructor: newOdometry,
	})
}

type odometry struct {
	resource.Named
	resource.AlwaysRebuild
	robot   rvr.Robot
	release func() error
	logger  logging.Logger

	// How old the newest frame may get before reads start failing.
	staleAfter time.Duration

	// The cached telemetry: lock the mutex before reading or writing these.
	mu                 sync.Mutex
	angularVelocity    spatialmath.AngularVelocity
	linearAcceleration r3.Vector
	linearVelocity     r3.Vector
	orientation        spatialmath.EulerAngles
	quaternion         rvr.Quaternion
	locator            rvr.Locator
	lastFrame          time.Time
}

// NewOdometry builds the sensor outside a module, for local testing against
// a target like "sim".
func NewOdometry(
	ctx context.Context,
	logger logging.Logger,
	name string,
	serialPath string,
	intervalMs int,
) (movementsensor.MovementSensor, error) {
	conf := resource.Config{
		Name: name,
		API:  movementsensor.API,
		ConvertedAttributes: &Config{
			SerialPath: serialPath,
			IntervalMs: intervalMs,
		},
	}
	return newOdometry(ctx, nil, conf, logger)
}

// newOdometry connects to the robot named in the config.
func newOdometry(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (movementsensor.MovementSensor, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	robot, release, err := rvr.Shared(ctx, newConf.SerialPath, logger)
	if err != nil {
		return nil, err
	}
	return makeOdometry(ctx, deps, conf, logger, robot, release)
}

// This function is separated from newOdometry solely so you can inject a
// simulated robot in tests.
func makeOdometry(
	ctx context.Context,
	_ resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
	robot rvr.Robot,
	release func() error,
) (movementsensor.MovementSensor, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	interval := defaultInterval
	if newConf.IntervalMs > 0 {
		interval = time.Duration(newConf.IntervalMs) * time.Millisecond
	}

	odo := &odometry{
		Named:   conf.ResourceName().AsNamed(),
		robot:   robot,
		release: release,
		logger:  logger,
		// A handful of missed ticks is stream jitter; more means the link
		// or the streaming clock is gone.
		staleAfter: 10 * interval,
		// Grace period for the first frame.
		lastFrame: time.Now(),
	}

	if err := robot.Wake(ctx); err != nil {
		goutils.UncheckedError(release())
		return nil, errors.Wrap(err, "can't wake RVR")
	}

	ctl := robot.SensorControl()
	for _, service := range services {
		ctl.AddHandler(service, odo.observe)
	}
	// Components sharing the connection share one streaming clock; the last
	// interval started wins for all of them.
	if err := ctl.Start(ctx, interval); err != nil {
		goutils.UncheckedError(release())
		return nil, errors.Wrap(err, "can't start sensor streaming")
	}
	logger.CDebugf(ctx, "streaming %v every %v", services, interval)

	return odo, nil
}

// observe files one frame into the cache. It runs on the streaming
// goroutine.
func (odo *odometry) observe(r rvr.Reading) {
	odo.mu.Lock()
	defer odo.mu.Unlock()

	switch frame := r.(type) {
	case rvr.Gyroscope:
		odo.angularVelocity = spatialmath.AngularVelocity{X: frame.X, Y: frame.Y, Z: frame.Z}
	case rvr.Accelerometer:
		odo.linearAcceleration = r3.Vector{X: frame.X * gravity, Y: frame.Y * gravity, Z: frame.Z * gravity}
	case rvr.IMU:
		odo.orientation = spatialmath.EulerAngles{
			Roll:  frame.Roll * radPerDeg,
			Pitch: frame.Pitch * radPerDeg,
			Yaw:   frame.Yaw * radPerDeg,
		}
	case rvr.Quaternion:
		odo.quaternion = frame
	case rvr.Locator:
		odo.locator = frame
	case rvr.Velocity:
		odo.linearVelocity = r3.Vector{X: frame.X, Y: frame.Y}
	default:
		return
	}
	odo.lastFrame = time.Now()
}

// staleErr reports whether the stream has gone quiet. Callers hold odo.mu.
func (odo *odometry) staleErr() error {
	age := time.Since(odo.lastFrame)
	if age > odo.staleAfter {
		return errors.Errorf("no telemetry for %v; is streaming still running?", age.Round(time.Millisecond))
	}
	return nil
}

func (odo *odometry) AngularVelocity(ctx context.Context, extra map[string]interface{}) (spatialmath.AngularVelocity, error) {
	odo.mu.Lock()
	defer odo.mu.Unlock()
	return odo.angularVelocity, odo.staleErr()
}

func (odo *odometry) LinearVelocity(ctx context.Context, extra map[string]interface{}) (r3.Vector, error) {
	odo.mu.Lock()
	defer odo.mu.Unlock()
	return odo.linearVelocity, odo.staleErr()
}

func (odo *odometry) LinearAcceleration(ctx context.Context, extra map[string]interface{}) (r3.Vector, error) {
	odo.mu.Lock()
	defer odo.mu.Unlock()

	if err := odo.staleErr(); err != nil {
		return r3.Vector{}, err
	}
	return odo.linearAcceleration, nil
}

func (odo *odometry) Orientation(ctx context.Context, extra map[string]interface{}) (spatialmath.Orientation, error) {
	odo.mu.Lock()
	defer odo.mu.Unlock()

	if err := odo.staleErr(); err != nil {
		return spatialmath.NewOrientationVector(), err
	}
	attitude := odo.orientation
	return &attitude, nil
}

func (odo *odometry) CompassHeading(ctx context.Context, extra map[string]interface{}) (float64, error) {
	return 0, movementsensor.ErrMethodUnimplementedCompassHeading
}

func (odo *odometry) Position(ctx context.Context, extra map[string]interface{}) (*geo.Point, float64, error) {
	return geo.NewPoint(0, 0), 0, movementsensor.ErrMethodUnimplementedPosition
}

func (odo *odometry) Accuracy(ctx context.Context, extra map[string]interface{}) (*movementsensor.Accuracy, error) {
	return movementsensor.UnimplementedOptionalAccuracies(), nil
}

func (odo *odometry) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	odo.mu.Lock()
	defer odo.mu.Unlock()

	readings := make(map[string]interface{})
	readings["angular_velocity"] = odo.angularVelocity
	readings["linear_acceleration"] = odo.linearAcceleration
	readings["linear_velocity"] = odo.linearVelocity
	readings["orientation"] = odo.orientation
	readings["quaternion"] = map[string]interface{}{
		"w": odo.quaternion.W,
		"x": odo.quaternion.X,
		"y": odo.quaternion.Y,
		"z": odo.quaternion.Z,
	}
	readings["position_x_m"] = odo.locator.X
	readings["position_y_m"] = odo.locator.Y

	return readings, odo.staleErr()
}

func (odo *odometry) Properties(ctx context.Context, extra map[string]interface{}) (*movementsensor.Properties, error) {
	return &movementsensor.Properties{
		AngularVelocitySupported:    true,
		LinearAccelerationSupported: true,
		LinearVelocitySupported:     true,
		OrientationSupported:        true,
	}, nil
}

// Close unsubscribes this sensor's services and lets go of the shared
// connection.
func (odo *odometry) Close(ctx context.Context) error {
	ctl := odo.robot.SensorControl()
	for _, service := range services {
		ctl.RemoveHandlers(service)
	}
	return odo.release()
}
