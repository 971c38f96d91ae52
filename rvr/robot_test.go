package rvr

import (
	"context"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func TestOpenSim(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	robot, err := Open(ctx, "sim", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, robot.Close(), test.ShouldBeNil)

	robot, err = Open(ctx, "sim:green", logger)
	test.That(t, err, test.ShouldBeNil)
	sim, ok := robot.(*Sim)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.cfg.FloorColor, test.ShouldResemble, ColorGreen)
	test.That(t, robot.Close(), test.ShouldBeNil)

	_, err = Open(ctx, "sim:chartreuse", logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown color")
}

func TestOpenWithoutTransport(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := Open(context.Background(), "/dev/ttyS0", logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no transport registered")
}

func TestRegisterDialer(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	var dialedPath string
	RegisterDialer("loop", func(ctx context.Context, path string, logger logging.Logger) (Robot, error) {
		dialedPath = path
		return NewSim(SimConfig{Seed: 1}, logger), nil
	})

	robot, err := Open(ctx, "loop:/dev/ttyTEST", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dialedPath, test.ShouldEqual, "/dev/ttyTEST")
	test.That(t, robot.Close(), test.ShouldBeNil)
}

func TestSharedRefcount(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	first, release1, err := Shared(ctx, "sim:yellow", logger)
	test.That(t, err, test.ShouldBeNil)
	second, release2, err := Shared(ctx, "sim:yellow", logger)
	test.That(t, err, test.ShouldBeNil)
	// Same target, same link.
	test.That(t, first, test.ShouldEqual, second)

	test.That(t, release1(), test.ShouldBeNil)
	// One holder remains, so the connection stays up.
	_, err = second.BatteryPercentage(ctx)
	test.That(t, err, test.ShouldBeNil)

	// Releasing the same handle twice does not double-count.
	test.That(t, release1(), test.ShouldBeNil)
	_, err = second.BatteryPercentage(ctx)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, release2(), test.ShouldBeNil)
	_, err = second.BatteryPercentage(ctx)
	test.That(t, err, test.ShouldBeError, ErrClosed)

	// A fresh acquire after teardown dials a new connection.
	third, release3, err := Shared(ctx, "sim:yellow", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, third, test.ShouldNotEqual, first)
	test.That(t, release3(), test.ShouldBeNil)
}
