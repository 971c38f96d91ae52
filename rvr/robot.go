// Package rvr exposes the surface of the Sphero RVR SDK that the rest of this
// module relies on. The RVR speaks a binary protocol over the UART pins under
// its roof plate; all of the framing, sequencing and demultiplexing lives
// behind the Robot interface and is treated as a black box here. What this
// package keeps is the part every caller has to get right anyway:
//
//   - the wake / reset-yaw / close lifecycle,
//   - tank driving in SI units (the firmware stops the treads when commands
//     stop arriving, so drive commands are re-issued continuously),
//   - the sensor-control registry: subscribe handlers per streaming service,
//     then start streaming at an interval,
//   - LED group control and the battery query.
//
// Target "sim" runs the built-in simulator, which is what the tests and the
// soak commands use unless pointed at hardware. Hardware transports register
// themselves under a scheme via RegisterDialer; a bare path such as
// /dev/ttyS0 is dialed through the "serial" scheme.
package rvr

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// MaxTankSpeed is the fastest ground speed the firmware accepts for a tread
// in SI mode, in m/s. Faster requests are clamped.
const MaxTankSpeed = 1.555

// TreadSeparation is the distance between the tread centerlines in meters,
// used to mix linear and angular velocities into per-tread speeds.
const TreadSeparation = 0.15

// SimTarget selects the built-in simulator. "sim:<color>" picks the floor
// color the simulated color sensor sees.
const SimTarget = "sim"

// Robot is a connection to an RVR. Implementations are safe for concurrent
// use.
type Robot interface {
	// Wake brings the main processors out of soft sleep. The robot needs a
	// moment after waking before it accepts drive commands.
	Wake(ctx context.Context) error
	// ResetYaw zeroes the heading reference. Locator coordinates are
	// relative to the pose at the last reset.
	ResetYaw(ctx context.Context) error
	// DriveTank sets per-tread ground speeds in m/s, positive forward.
	DriveTank(ctx context.Context, left, right float64) error
	// BatteryPercentage reports the state of charge in [0, 100].
	BatteryPercentage(ctx context.Context) (float64, error)
	// EnableColorDetection powers the downward color sensor. The
	// color_detection service streams nothing while detection is off.
	EnableColorDetection(ctx context.Context, enabled bool) error
	// SetLEDs applies colors to the given LED groups, leaving the rest
	// alone.
	SetLEDs(ctx context.Context, groups map[LedGroup]Color) error
	// LEDsOff blanks every LED group.
	LEDsOff(ctx context.Context) error
	// SensorControl returns the robot's streaming registry.
	SensorControl() *SensorControl
	// Close stops streaming and releases the link. It is safe to call more
	// than once.
	Close() error
}

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("connection to RVR is closed")

// ErrAsleep is returned by drive commands sent before Wake.
var ErrAsleep = errors.New("RVR is asleep; call Wake first")

// Dialer opens a connection to a physical RVR. The UART transport ships with
// the vendor SDK and registers itself here from its own package.
type Dialer func(ctx context.Context, path string, logger logging.Logger) (Robot, error)

var (
	dialersMu sync.RWMutex
	dialers   = map[string]Dialer{}
)

// RegisterDialer makes a transport available to Open under the given scheme.
func RegisterDialer(scheme string, dial Dialer) {
	dialersMu.Lock()
	defer dialersMu.Unlock()
	dialers[scheme] = dial
}

// Open dials the robot named by target and hands the caller ownership of the
// link. Targets take scheme:path form; a target with no scheme is dialed as
// a serial device path.
func Open(ctx context.Context, target string, logger logging.Logger) (Robot, error) {
	if target == SimTarget || strings.HasPrefix(target, SimTarget+":") {
		return openSim(strings.TrimPrefix(strings.TrimPrefix(target, SimTarget), ":"), logger)
	}

	scheme, path := "serial", target
	if s, p, ok := strings.Cut(target, ":"); ok {
		scheme, path = s, p
	}
	dialersMu.RLock()
	dial, ok := dialers[scheme]
	dialersMu.RUnlock()
	if !ok {
		return nil, errors.Errorf(
			"no transport registered for target %q: the UART transport comes with the vendor SDK, %q runs the built-in simulator",
			target, SimTarget)
	}
	robot, err := dial(ctx, path, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dial RVR at %q", target)
	}
	return robot, nil
}

func openSim(option string, logger logging.Logger) (Robot, error) {
	var cfg SimConfig
	if option != "" {
		floor, err := ParseColor(option)
		if err != nil {
			return nil, errors.Wrapf(err, "bad simulator floor color %q", option)
		}
		cfg.FloorColor = floor
	}
	return NewSim(cfg, logger), nil
}

type sharedConn struct {
	robot Robot
	refs  int
}

var (
	sharedMu sync.Mutex
	shared   = map[string]*sharedConn{}
)

// Shared returns the connection for target, dialing it on first use. Several
// components map onto one physical robot, so they share a single link. Every
// caller must call the returned release exactly once; the last release
// closes the connection. Calling release more than once is harmless.
func Shared(ctx context.Context, target string, logger logging.Logger) (Robot, func() error, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if conn, ok := shared[target]; ok {
		conn.refs++
		return conn.robot, releaseOnce(target), nil
	}

	robot, err := Open(ctx, target, logger)
	if err != nil {
		return nil, nil, err
	}
	shared[target] = &sharedConn{robot: robot, refs: 1}
	return robot, releaseOnce(target), nil
}

func releaseOnce(target string) func() error {
	var once sync.Once
	return func() error {
		var err error
		once.Do(func() { err = release(target) })
		return err
	}
}

func release(target string) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	conn, ok := shared[target]
	if !ok {
		return nil
	}
	conn.refs--
	if conn.refs > 0 {
		return nil
	}
	delete(shared, target)
	return conn.robot.Close()
}
