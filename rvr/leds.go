package rvr

import (
	"fmt"

	"github.com/pkg/errors"
)

// LedGroup addresses one group of the RVR's RGB LEDs through the LED control
// system. Groups map to the names the firmware uses.
type LedGroup string

const (
	LedHeadlightLeft         LedGroup = "headlight_left"
	LedHeadlightRight        LedGroup = "headlight_right"
	LedBatteryDoorFront      LedGroup = "battery_door_front"
	LedBatteryDoorRear       LedGroup = "battery_door_rear"
	LedPowerButtonFront      LedGroup = "power_button_front"
	LedPowerButtonRear       LedGroup = "power_button_rear"
	LedBrakelightLeft        LedGroup = "brakelight_left"
	LedBrakelightRight       LedGroup = "brakelight_right"
	LedStatusIndicationLeft  LedGroup = "status_indication_left"
	LedStatusIndicationRight LedGroup = "status_indication_right"
	LedUndercarriage         LedGroup = "undercarriage_white"
)

// LedGroups lists every addressable group.
func LedGroups() []LedGroup {
	return []LedGroup{
		LedHeadlightLeft,
		LedHeadlightRight,
		LedBatteryDoorFront,
		LedBatteryDoorRear,
		LedPowerButtonFront,
		LedPowerButtonRear,
		LedBrakelightLeft,
		LedBrakelightRight,
		LedStatusIndicationLeft,
		LedStatusIndicationRight,
		LedUndercarriage,
	}
}

// Color is an 8-bit RGB triple.
type Color struct {
	R, G, B uint8
}

func (c Color) String() string {
	return fmt.Sprintf("(%d, %d, %d)", c.R, c.G, c.B)
}

// The stock palette, matching the colors the firmware names.
var (
	ColorOff    = Color{}
	ColorRed    = Color{R: 255}
	ColorGreen  = Color{G: 255}
	ColorBlue   = Color{B: 255}
	ColorYellow = Color{R: 255, G: 255}
	ColorOrange = Color{R: 255, G: 40}
	ColorPink   = Color{R: 255, G: 66, B: 241}
	ColorPurple = Color{R: 145, B: 255}
	ColorWhite  = Color{R: 255, G: 255, B: 255}
	ColorGray   = Color{R: 127, G: 127, B: 127}
)

var namedColors = map[string]Color{
	"off":    ColorOff,
	"red":    ColorRed,
	"green":  ColorGreen,
	"blue":   ColorBlue,
	"yellow": ColorYellow,
	"orange": ColorOrange,
	"pink":   ColorPink,
	"purple": ColorPurple,
	"white":  ColorWhite,
	"gray":   ColorGray,
}

// ParseColor resolves a palette name ("red", "off", ...) to its Color.
func ParseColor(name string) (Color, error) {
	c, ok := namedColors[name]
	if !ok {
		return Color{}, errors.Errorf("unknown color %q", name)
	}
	return c, nil
}
