package rvr

import (
	"context"
	"math"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func newTestSim(t *testing.T, cfg SimConfig) *Sim {
	t.Helper()
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return NewSim(cfg, logging.NewTestLogger(t))
}

func TestSimLifecycle(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, SimConfig{})

	// Asleep robots take no drive commands.
	err := sim.DriveTank(ctx, 0.5, 0.5)
	test.That(t, err, test.ShouldBeError, ErrAsleep)

	test.That(t, sim.Wake(ctx), test.ShouldBeNil)
	test.That(t, sim.Wake(ctx), test.ShouldBeNil)
	test.That(t, sim.DriveTank(ctx, 0.5, 0.5), test.ShouldBeNil)

	test.That(t, sim.Close(), test.ShouldBeNil)
	test.That(t, sim.Close(), test.ShouldBeNil)
	test.That(t, sim.Wake(ctx), test.ShouldBeError, ErrClosed)
	_, err = sim.BatteryPercentage(ctx)
	test.That(t, err, test.ShouldBeError, ErrClosed)
}

func TestSimDriveStraight(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, SimConfig{})
	defer func() {
		test.That(t, sim.Close(), test.ShouldBeNil)
	}()

	test.That(t, sim.Wake(ctx), test.ShouldBeNil)
	test.That(t, sim.ResetYaw(ctx), test.ShouldBeNil)
	test.That(t, sim.DriveTank(ctx, 0.3, 0.3), test.ShouldBeNil)
	time.Sleep(100 * time.Millisecond)

	x, y, yaw := sim.Pose()
	test.That(t, y, test.ShouldBeGreaterThan, 0.01)
	test.That(t, math.Abs(x), test.ShouldBeLessThan, 0.01)
	test.That(t, math.Abs(yaw), test.ShouldBeLessThan, 1)
}

func TestSimSpin(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, SimConfig{})
	defer func() {
		test.That(t, sim.Close(), test.ShouldBeNil)
	}()

	test.That(t, sim.Wake(ctx), test.ShouldBeNil)
	test.That(t, sim.ResetYaw(ctx), test.ShouldBeNil)
	// Right tread faster turns the robot counterclockwise: yaw grows.
	test.That(t, sim.DriveTank(ctx, 0, 0.3), test.ShouldBeNil)
	time.Sleep(100 * time.Millisecond)

	_, _, yaw := sim.Pose()
	test.That(t, yaw, test.ShouldBeGreaterThan, 3)

	test.That(t, sim.ResetYaw(ctx), test.ShouldBeNil)
	x, y, yaw := sim.Pose()
	test.That(t, math.Abs(x), test.ShouldBeLessThan, 0.01)
	test.That(t, math.Abs(y), test.ShouldBeLessThan, 0.01)
	test.That(t, math.Abs(yaw), test.ShouldBeLessThan, 1)
}

func TestSimDriveWatchdog(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, SimConfig{DriveWatchdog: 50 * time.Millisecond})
	defer func() {
		test.That(t, sim.Close(), test.ShouldBeNil)
	}()

	test.That(t, sim.Wake(ctx), test.ShouldBeNil)
	test.That(t, sim.DriveTank(ctx, 0.5, 0.5), test.ShouldBeNil)

	left, right := sim.TreadSpeeds()
	test.That(t, left, test.ShouldEqual, 0.5)
	test.That(t, right, test.ShouldEqual, 0.5)

	// With no fresh command inside the watchdog window the treads stop.
	time.Sleep(120 * time.Millisecond)
	left, right = sim.TreadSpeeds()
	test.That(t, left, test.ShouldEqual, 0)
	test.That(t, right, test.ShouldEqual, 0)
}

func TestSimSpeedClamp(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, SimConfig{})
	defer func() {
		test.That(t, sim.Close(), test.ShouldBeNil)
	}()

	test.That(t, sim.Wake(ctx), test.ShouldBeNil)
	test.That(t, sim.DriveTank(ctx, 5, -5), test.ShouldBeNil)
	left, right := sim.TreadSpeeds()
	test.That(t, left, test.ShouldEqual, MaxTankSpeed)
	test.That(t, right, test.ShouldEqual, -MaxTankSpeed)
}

func TestSimColorDetectionGate(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, SimConfig{FloorColor: ColorGreen})
	defer func() {
		test.That(t, sim.Close(), test.ShouldBeNil)
	}()
	test.That(t, sim.Wake(ctx), test.ShouldBeNil)

	frames, err := sim.Sample(ctx, []StreamingService{ServiceColorDetection})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 0)

	test.That(t, sim.EnableColorDetection(ctx, true), test.ShouldBeNil)
	frames, err = sim.Sample(ctx, []StreamingService{ServiceColorDetection})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 1)

	color, ok := frames[0].(ColorDetection)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, float64(color.G), test.ShouldBeGreaterThan, 230.0)
	test.That(t, float64(color.R), test.ShouldBeLessThan, 20.0)
}

func TestSimSampleSet(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, SimConfig{})
	defer func() {
		test.That(t, sim.Close(), test.ShouldBeNil)
	}()
	test.That(t, sim.Wake(ctx), test.ShouldBeNil)

	frames, err := sim.Sample(ctx, []StreamingService{
		ServiceAccelerometer, ServiceGyroscope, ServiceIMU,
		ServiceLocator, ServiceQuaternion, ServiceVelocity, ServiceAmbientLight,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 7)

	seen := make(map[StreamingService]Reading, len(frames))
	for _, frame := range frames {
		seen[frame.Service()] = frame
	}

	accel, ok := seen[ServiceAccelerometer].(Accelerometer)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, accel.Z, test.ShouldAlmostEqual, 1, 0.1)

	quat, ok := seen[ServiceQuaternion].(Quaternion)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, quat.W, test.ShouldAlmostEqual, 1, 0.01)

	light, ok := seen[ServiceAmbientLight].(AmbientLight)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, light.Light, test.ShouldBeGreaterThan, 0.0)
}

func TestSimBatteryDrains(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, SimConfig{})
	defer func() {
		test.That(t, sim.Close(), test.ShouldBeNil)
	}()
	test.That(t, sim.Wake(ctx), test.ShouldBeNil)
	test.That(t, sim.DriveTank(ctx, 0.5, 0.5), test.ShouldBeNil)
	time.Sleep(50 * time.Millisecond)

	pct, err := sim.BatteryPercentage(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pct, test.ShouldBeLessThan, 100.0)
	test.That(t, pct, test.ShouldBeGreaterThan, 99.0)
}

func TestSimLEDState(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, SimConfig{})
	defer func() {
		test.That(t, sim.Close(), test.ShouldBeNil)
	}()

	test.That(t, sim.SetLEDs(ctx, map[LedGroup]Color{
		LedHeadlightLeft:   ColorRed,
		LedBrakelightLeft:  ColorPink,
		LedBrakelightRight: ColorPink,
	}), test.ShouldBeNil)

	leds := sim.LEDs()
	test.That(t, leds[LedHeadlightLeft], test.ShouldResemble, ColorRed)
	test.That(t, leds[LedBrakelightRight], test.ShouldResemble, ColorPink)

	test.That(t, sim.LEDsOff(ctx), test.ShouldBeNil)
	leds = sim.LEDs()
	for _, group := range LedGroups() {
		test.That(t, leds[group], test.ShouldResemble, ColorOff)
	}
}

func TestSimStreaming(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, SimConfig{})
	test.That(t, sim.Wake(ctx), test.ShouldBeNil)

	frames := make(chan Reading, 256)
	ctl := sim.SensorControl()
	ctl.AddHandler(ServiceGyroscope, func(r Reading) { frames <- r })
	test.That(t, ctl.Start(ctx, 5*time.Millisecond), test.ShouldBeNil)

	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("simulator never streamed a frame")
	}

	// Closing the robot tears the stream down with it.
	test.That(t, sim.Close(), test.ShouldBeNil)
	for len(frames) > 0 {
		<-frames
	}
	select {
	case <-frames:
		t.Fatal("frame delivered after Close")
	case <-time.After(50 * time.Millisecond):
	}
}
