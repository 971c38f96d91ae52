// Package beacon talks to the DWM1001 ultra-wideband tags the robots carry.
//
// The tags run a small firmware that relays the color a robot is seeing to
// every other robot in range. The wire format is a bare ASCII protocol over
// USB serial: `R<n>F`, `G<n>F` and `B<n>F` stage the outgoing channel
// values, a lone `S` transmits the staged color, and a listening tag prints
// one `R<n>`, `G<n>` or `B<n>` line per received channel.
package beacon

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"

	"github.com/rafftod/rvr-foraging/rvr"
)

// DWM1001 dev boards enumerate as USB CDC at 115200 8N1.
var portMode = &serial.Mode{
	BaudRate: 115200,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

type portHandle interface {
	Write([]byte) (int, error)
	Read([]byte) (int, error)
	Close() error
}

// allow tests to override external dependencies
var openPort = func(name string, mode *serial.Mode) (portHandle, error) { return serial.Open(name, mode) }

// Device is one DWM1001 tag on a serial port.
type Device struct {
	port   portHandle
	logger logging.Logger
}

// Open connects to the tag on the given serial port.
func Open(path string, logger logging.Logger) (*Device, error) {
	port, err := openPort(path, portMode)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open beacon port %s", path)
	}
	return &Device{port: port, logger: logger}, nil
}

// SetColor stages the outgoing color on the tag without transmitting it.
func (d *Device) SetColor(c rvr.Color) error {
	for _, channel := range []struct {
		prefix string
		value  uint8
	}{
		{"R", c.R},
		{"G", c.G},
		{"B", c.B},
	} {
		if _, err := fmt.Fprintf(d.port, "%s%dF", channel.prefix, channel.value); err != nil {
			return errors.Wrapf(err, "can't stage %s channel", channel.prefix)
		}
	}
	return nil
}

// Transmit broadcasts whatever color is currently staged.
func (d *Device) Transmit() error {
	if _, err := d.port.Write([]byte("S")); err != nil {
		return errors.Wrap(err, "can't transmit")
	}
	return nil
}

// Broadcast stages c and transmits it.
func (d *Device) Broadcast(c rvr.Color) error {
	if err := d.SetColor(c); err != nil {
		return err
	}
	return d.Transmit()
}

// Line is one received channel update.
type Line struct {
	Channel byte // 'R', 'G' or 'B'
	Value   uint8
}

// parseLine decodes a received channel line like "G128". Tags also print
// occasional firmware chatter; callers skip lines that don't parse.
func parseLine(s string) (Line, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Line{}, errors.Errorf("short line %q", s)
	}
	channel := s[0]
	if channel != 'R' && channel != 'G' && channel != 'B' {
		return Line{}, errors.Errorf("unknown channel in line %q", s)
	}
	value, err := strconv.Atoi(s[1:])
	if err != nil {
		return Line{}, errors.Wrapf(err, "bad value in line %q", s)
	}
	if value < 0 || value > 255 {
		return Line{}, errors.Errorf("channel value %d out of range in line %q", value, s)
	}
	return Line{Channel: channel, Value: uint8(value)}, nil
}

// Listen reads channel lines from the tag and hands each to fn until the
// port errors out or ctx is done. The read blocks inside the serial driver,
// so cancellation takes effect by calling Close, which fails the pending
// read.
func (d *Device) Listen(ctx context.Context, fn func(Line)) error {
	scanner := bufio.NewScanner(d.port)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := parseLine(scanner.Text())
		if err != nil {
			d.logger.CDebugf(ctx, "skipping beacon line: %v", err)
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "beacon read failed")
	}
	return ctx.Err()
}

// Close releases the serial port. It unblocks a running Listen.
func (d *Device) Close() error {
	return d.port.Close()
}

// Saturate scales a color so its largest channel hits full brightness,
// which keeps dim floor readings visible on the receiving robot's LEDs.
// Black has nothing to scale and comes back unchanged.
func Saturate(c rvr.Color) rvr.Color {
	peak := c.R
	if c.G > peak {
		peak = c.G
	}
	if c.B > peak {
		peak = c.B
	}
	if peak == 0 {
		return c
	}
	scale := func(v uint8) uint8 { return uint8(int(v) * 255 / int(peak)) }
	return rvr.Color{R: scale(c.R), G: scale(c.G), B: scale(c.B)}
}
