// rvr-test exercises a Sphero RVR's UART link from the command line: soak
// loops that drive while streaming telemetry, and relays between the ground
// color sensor and the DWM1001 beacons. Run against a live robot or against
// the built-in simulator with --target sim.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.viam.com/rdk/logging"

	"github.com/rafftod/rvr-foraging/soak"
)

type Options struct {
	Debug         bool   `long:"debug" description:"Enable debug logging (prints every telemetry frame)"`
	ListenAddress string `long:"listen-address" description:"Serve Prometheus metrics on this address (e.g. :9105)"`

	Sensing     SensingCommand     `command:"sensing" description:"Drive a one-tread spin while streaming all telemetry services"`
	Driving     DrivingCommand     `command:"driving" description:"Spin in place with no telemetry in flight"`
	BeaconRelay BeaconRelayCommand `command:"beacon-relay" description:"Broadcast the ground color over a DWM1001 beacon"`
	BeaconWatch BeaconWatchCommand `command:"beacon-watch" description:"Log colors received by a DWM1001 beacon"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "rvr-test - UART channel exercises for the Sphero RVR"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// signalContext is canceled on SIGINT or SIGTERM, which is how exercises
// normally end.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger(name string) logging.Logger {
	if opts.Debug {
		return logging.NewDebugLogger(name)
	}
	return logging.NewLogger(name)
}

// maybeServeMetrics starts the Prometheus endpoint if --listen-address was
// given, and returns the metrics for the exercise to fill (nil otherwise).
func maybeServeMetrics(logger logging.Logger) *soak.Metrics {
	if opts.ListenAddress == "" {
		return nil
	}

	metrics := soak.NewMetrics(nil)
	go func() {
		// Expose the registered metrics via HTTP.
		http.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{
				// Opt into OpenMetrics to support exemplars.
				EnableOpenMetrics: true,
			},
		))
		logger.Error(http.ListenAndServe(opts.ListenAddress, nil))
	}()
	logger.Infof("serving metrics on %s/metrics", opts.ListenAddress)
	return metrics
}
