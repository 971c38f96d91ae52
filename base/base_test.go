package base

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/test"

	"github.com/rafftod/rvr-foraging/rvr"
)

func testConfig(attrs *Config) resource.Config {
	return resource.Config{
		Name:                "rvr-base",
		ConvertedAttributes: attrs,
	}
}

func makeTestBase(t *testing.T, simCfg rvr.SimConfig, attrs *Config) (*rvrBase, *rvr.Sim) {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	if simCfg.Seed == 0 {
		simCfg.Seed = 1
	}
	sim := rvr.NewSim(simCfg, logger)

	b, err := makeBase(ctx, nil, testConfig(attrs), logger, sim, sim.Close)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, b.Close(ctx), test.ShouldBeNil)
	})
	return b.(*rvrBase), sim
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.Validate("components.0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "serial_path")

	cfg = &Config{SerialPath: "sim", MaxSpeedMetersPerSec: 9}
	_, err = cfg.Validate("components.0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_speed_m_per_sec")

	cfg = &Config{SerialPath: "sim"}
	deps, err := cfg.Validate("components.0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldHaveLength, 0)
}

func TestSetPower(t *testing.T) {
	ctx := context.Background()
	b, sim := makeTestBase(t, rvr.SimConfig{}, &Config{SerialPath: "sim", MaxSpeedMetersPerSec: 1})

	test.That(t, b.SetPower(ctx, r3.Vector{Y: 1}, r3.Vector{}, nil), test.ShouldBeNil)
	left, right := sim.TreadSpeeds()
	test.That(t, left, test.ShouldEqual, 1.0)
	test.That(t, right, test.ShouldEqual, 1.0)

	moving, err := b.IsMoving(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, moving, test.ShouldBeTrue)

	// Pure spin: opposed treads.
	test.That(t, b.SetPower(ctx, r3.Vector{}, r3.Vector{Z: 1}, nil), test.ShouldBeNil)
	left, right = sim.TreadSpeeds()
	test.That(t, left, test.ShouldEqual, -1.0)
	test.That(t, right, test.ShouldEqual, 1.0)

	test.That(t, b.Stop(ctx, nil), test.ShouldBeNil)
	left, right = sim.TreadSpeeds()
	test.That(t, left, test.ShouldEqual, 0.0)
	test.That(t, right, test.ShouldEqual, 0.0)

	moving, err = b.IsMoving(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, moving, test.ShouldBeFalse)
}

func TestSetVelocity(t *testing.T) {
	ctx := context.Background()
	b, sim := makeTestBase(t, rvr.SimConfig{}, &Config{SerialPath: "sim"})

	test.That(t, b.SetVelocity(ctx, r3.Vector{Y: 250}, r3.Vector{}, nil), test.ShouldBeNil)
	left, right := sim.TreadSpeeds()
	test.That(t, left, test.ShouldAlmostEqual, 0.25, 1e-6)
	test.That(t, right, test.ShouldAlmostEqual, 0.25, 1e-6)

	// 90 deg/s counterclockwise in place.
	test.That(t, b.SetVelocity(ctx, r3.Vector{}, r3.Vector{Z: 90}, nil), test.ShouldBeNil)
	left, right = sim.TreadSpeeds()
	w := 90 * math.Pi / 180
	test.That(t, left, test.ShouldAlmostEqual, -w*rvr.TreadSeparation/2, 1e-6)
	test.That(t, right, test.ShouldAlmostEqual, w*rvr.TreadSeparation/2, 1e-6)
}

func TestRefreshOutlivesWatchdog(t *testing.T) {
	ctx := context.Background()
	b, sim := makeTestBase(t,
		rvr.SimConfig{DriveWatchdog: 50 * time.Millisecond},
		&Config{SerialPath: "sim", RefreshMs: 10})

	test.That(t, b.SetPower(ctx, r3.Vector{Y: 0.5}, r3.Vector{}, nil), test.ShouldBeNil)
	time.Sleep(200 * time.Millisecond)

	// The refresh loop keeps the firmware watchdog fed.
	left, right := sim.TreadSpeeds()
	test.That(t, left, test.ShouldBeGreaterThan, 0.0)
	test.That(t, right, test.ShouldBeGreaterThan, 0.0)
}

func TestOpenLoopOnly(t *testing.T) {
	ctx := context.Background()
	b, _ := makeTestBase(t, rvr.SimConfig{}, &Config{SerialPath: "sim"})

	err := b.MoveStraight(ctx, 500, 100, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "closed-loop")

	err = b.Spin(ctx, 90, 45, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "closed-loop")
}

func TestDoCommandLEDs(t *testing.T) {
	ctx := context.Background()
	b, sim := makeTestBase(t, rvr.SimConfig{}, &Config{SerialPath: "sim"})

	resp, err := b.DoCommand(ctx, map[string]interface{}{
		"command": "set_leds",
		"leds": map[string]interface{}{
			"headlight_left":  []interface{}{float64(255), float64(0), float64(0)},
			"brakelight_left": []interface{}{float64(255), float64(66), float64(241)},
		},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["ok"], test.ShouldBeTrue)

	leds := sim.LEDs()
	test.That(t, leds[rvr.LedHeadlightLeft], test.ShouldResemble, rvr.ColorRed)
	test.That(t, leds[rvr.LedBrakelightLeft], test.ShouldResemble, rvr.ColorPink)

	_, err = b.DoCommand(ctx, map[string]interface{}{"command": "leds_off"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sim.LEDs()[rvr.LedHeadlightLeft], test.ShouldResemble, rvr.ColorOff)
}

func TestDoCommandErrors(t *testing.T) {
	ctx := context.Background()
	b, _ := makeTestBase(t, rvr.SimConfig{}, &Config{SerialPath: "sim"})

	_, err := b.DoCommand(ctx, map[string]interface{}{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "command")

	_, err = b.DoCommand(ctx, map[string]interface{}{"command": "fly"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown command")

	_, err = b.DoCommand(ctx, map[string]interface{}{
		"command": "set_leds",
		"leds": map[string]interface{}{
			"taillight": []interface{}{float64(1), float64(2), float64(3)},
		},
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown LED group")

	_, err = b.DoCommand(ctx, map[string]interface{}{
		"command": "set_leds",
		"leds": map[string]interface{}{
			"headlight_left": []interface{}{float64(300), float64(0), float64(0)},
		},
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "out of range")
}

func TestProperties(t *testing.T) {
	ctx := context.Background()
	b, _ := makeTestBase(t, rvr.SimConfig{}, &Config{SerialPath: "sim"})

	props, err := b.Properties(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, props.TurningRadiusMeters, test.ShouldEqual, 0.0)
	test.That(t, props.WidthMeters, test.ShouldAlmostEqual, chassisWidthMeters, 1e-9)
}
