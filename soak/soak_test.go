package soak

import (
	"testing"

	"go.viam.com/test"

	"github.com/rafftod/rvr-foraging/rvr"
)

func TestSwapped(t *testing.T) {
	split := treadSplit{left: 0, right: 0.5}

	split = split.swapped(0.5)
	test.That(t, split, test.ShouldResemble, treadSplit{left: 0.5, right: 0})

	split = split.swapped(0.5)
	test.That(t, split, test.ShouldResemble, treadSplit{left: 0, right: 0.5})
}

func TestTreadLEDs(t *testing.T) {
	leds := treadLEDs(treadSplit{left: 0, right: 0.5})
	test.That(t, leds, test.ShouldHaveLength, 8)

	for _, group := range leftLEDs {
		test.That(t, leds[group], test.ShouldResemble, rvr.ColorOff)
	}
	for _, group := range rightLEDs {
		test.That(t, leds[group], test.ShouldResemble, rvr.ColorRed)
	}
	test.That(t, leds[rvr.LedBrakelightLeft], test.ShouldResemble, rvr.ColorPink)
	test.That(t, leds[rvr.LedBrakelightRight], test.ShouldResemble, rvr.ColorPink)

	// After a swap the sides trade colors.
	leds = treadLEDs(treadSplit{left: 0.5, right: 0})
	for _, group := range leftLEDs {
		test.That(t, leds[group], test.ShouldResemble, rvr.ColorRed)
	}
	for _, group := range rightLEDs {
		test.That(t, leds[group], test.ShouldResemble, rvr.ColorOff)
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts, err := SensingOptions{}.withDefaults()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.Speed, test.ShouldEqual, DefaultSpeed)
	test.That(t, opts.Tick, test.ShouldEqual, defaultTick)
	test.That(t, opts.SwapEvery, test.ShouldEqual, defaultSwapEvery)
	test.That(t, opts.BatteryEvery, test.ShouldEqual, defaultBatteryEvery)
	test.That(t, opts.StreamInterval, test.ShouldEqual, defaultStreamInterval)

	_, err = SensingOptions{Speed: -1}.withDefaults()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "speed must be positive")

	_, err = DrivingOptions{Speed: -1}.withDefaults()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "speed must be positive")
}
