// Package soak holds long-running exercises that shake out the RVR's UART
// link: drive the robot in a spin while every telemetry service streams, and
// watch for the channel wedging, dropping frames or garbling exchanges.
//
// The loops only ever use the public robot interface. They deliberately do
// no filtering, no control and no recovery of their own: if the link
// misbehaves, the point is to see it misbehave.
package soak

import (
	"math"
	"time"

	"github.com/rafftod/rvr-foraging/rvr"
)

// Defaults for the sensing exercise, matching how the live rig is run.
const (
	// DefaultSpeed is the tread speed of the spin, in m/s.
	DefaultSpeed = 0.5

	defaultTick           = 100 * time.Millisecond
	defaultSwapEvery      = 2 * time.Second
	defaultBatteryEvery   = 120 * time.Second
	defaultStreamInterval = 100 * time.Millisecond
	defaultSettle         = 2 * time.Second

	// How long to let the treads wind down before cutting the lights.
	shutdownSettle = 500 * time.Millisecond
)

// The LEDs on each side of the chassis, lit to show which tread is active.
var (
	leftLEDs  = []rvr.LedGroup{rvr.LedHeadlightLeft, rvr.LedBatteryDoorFront, rvr.LedBatteryDoorRear}
	rightLEDs = []rvr.LedGroup{rvr.LedHeadlightRight, rvr.LedPowerButtonFront, rvr.LedPowerButtonRear}
)

// treadSplit is the speed command for the two treads. The sensing exercise
// keeps one tread moving and one parked, swapping sides on a timer.
type treadSplit struct {
	left, right float64
}

// swapped returns the split with the moving side parked and the parked side
// moving at speed.
func (s treadSplit) swapped(speed float64) treadSplit {
	return treadSplit{
		left:  math.Abs(s.left - speed),
		right: math.Abs(s.right - speed),
	}
}

// treadLEDs maps a split to the light show: the active side's LEDs burn red,
// the idle side goes dark, and the brakelights stay pink throughout so a
// stalled loop is visible from across the room.
func treadLEDs(s treadSplit) map[rvr.LedGroup]rvr.Color {
	leds := make(map[rvr.LedGroup]rvr.Color, len(leftLEDs)+len(rightLEDs)+2)
	for _, group := range leftLEDs {
		leds[group] = sideColor(s.left)
	}
	for _, group := range rightLEDs {
		leds[group] = sideColor(s.right)
	}
	leds[rvr.LedBrakelightLeft] = rvr.ColorPink
	leds[rvr.LedBrakelightRight] = rvr.ColorPink
	return leds
}

func sideColor(speed float64) rvr.Color {
	if speed != 0 {
		return rvr.ColorRed
	}
	return rvr.ColorOff
}
