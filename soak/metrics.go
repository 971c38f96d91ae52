package soak

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rafftod/rvr-foraging/rvr"
)

// Metrics counts what the soak loops do, for scraping with Prometheus.
// A nil *Metrics is valid and counts nothing, so the loops don't have to
// care whether metrics are wired up.
type Metrics struct {
	framesTotal   *prometheus.CounterVec
	lastFrame     prometheus.Gauge
	driveCommands prometheus.Counter
	driveErrors   prometheus.Counter
	batteryPct    prometheus.Gauge
}

// NewMetrics builds the soak metrics and registers them with reg. Passing
// nil registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rvr_frames_total",
				Help: "Telemetry frames received, by streaming service.",
			},
			[]string{"service"},
		),
		lastFrame: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rvr_last_frame_unix_seconds",
			Help: "When the most recent telemetry frame arrived. A frozen value means the stream wedged.",
		}),
		driveCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rvr_drive_commands_total",
			Help: "Tank drive commands sent.",
		}),
		driveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rvr_drive_errors_total",
			Help: "Tank drive commands that failed.",
		}),
		batteryPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rvr_battery_percentage",
			Help: "Battery state of charge (units: percent).",
		}),
	}

	reg.MustRegister(m.framesTotal, m.lastFrame, m.driveCommands, m.driveErrors, m.batteryPct)
	return m
}

func (m *Metrics) observeFrame(service rvr.StreamingService) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(string(service)).Inc()
	m.lastFrame.Set(float64(time.Now().UnixNano()) / 1e9)
}

func (m *Metrics) observeDrive(err error) {
	if m == nil {
		return
	}
	m.driveCommands.Inc()
	if err != nil {
		m.driveErrors.Inc()
	}
}

func (m *Metrics) setBattery(pct float64) {
	if m == nil {
		return
	}
	m.batteryPct.Set(pct)
}
