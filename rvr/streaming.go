package rvr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// StreamingService identifies one of the RVR's sensor streams.
type StreamingService string

// The streaming services the firmware exposes through its sensor control
// system.
const (
	ServiceAccelerometer  StreamingService = "accelerometer"
	ServiceAmbientLight   StreamingService = "ambient_light"
	ServiceColorDetection StreamingService = "color_detection"
	ServiceGyroscope      StreamingService = "gyroscope"
	ServiceIMU            StreamingService = "imu"
	ServiceLocator        StreamingService = "locator"
	ServiceQuaternion     StreamingService = "quaternion"
	ServiceVelocity       StreamingService = "velocity"
)

// Services lists every streaming service.
func Services() []StreamingService {
	return []StreamingService{
		ServiceAccelerometer,
		ServiceAmbientLight,
		ServiceColorDetection,
		ServiceGyroscope,
		ServiceIMU,
		ServiceLocator,
		ServiceQuaternion,
		ServiceVelocity,
	}
}

// Reading is one frame from one streaming service.
type Reading interface {
	Service() StreamingService
}

// Accelerometer is body-frame acceleration in g.
type Accelerometer struct {
	X, Y, Z float64
}

// Gyroscope is body-frame angular velocity in degrees per second.
type Gyroscope struct {
	X, Y, Z float64
}

// IMU is the firmware's attitude estimate in degrees.
type IMU struct {
	Pitch, Roll, Yaw float64
}

// ColorDetection is what the downward color sensor saw. Index is the
// firmware's palette match and Confidence its quality in [0, 1].
type ColorDetection struct {
	R, G, B    uint8
	Index      uint8
	Confidence float64
}

// AmbientLight is the top light sensor's reading in lux.
type AmbientLight struct {
	Light float64
}

// Locator is the planar position in meters relative to the last yaw reset.
type Locator struct {
	X, Y float64
}

// Quaternion is the orientation as a unit quaternion.
type Quaternion struct {
	W, X, Y, Z float64
}

// Velocity is the planar velocity in m/s in the locator frame.
type Velocity struct {
	X, Y float64
}

func (Accelerometer) Service() StreamingService  { return ServiceAccelerometer }
func (Gyroscope) Service() StreamingService      { return ServiceGyroscope }
func (IMU) Service() StreamingService            { return ServiceIMU }
func (ColorDetection) Service() StreamingService { return ServiceColorDetection }
func (AmbientLight) Service() StreamingService   { return ServiceAmbientLight }
func (Locator) Service() StreamingService        { return ServiceLocator }
func (Quaternion) Service() StreamingService     { return ServiceQuaternion }
func (Velocity) Service() StreamingService       { return ServiceVelocity }

// Handler consumes frames for one service. Handlers run on the streaming
// goroutine and must return quickly.
type Handler func(Reading)

// Source produces the frames behind a SensorControl: one reading per
// requested service per tick. Transports implement this over the wire; the
// simulator synthesizes frames from its own state.
type Source interface {
	Sample(ctx context.Context, services []StreamingService) ([]Reading, error)
}

// SensorControl is the registry half of the RVR's sensor streaming system.
// Subscribe handlers per service, then Start to receive frames at a fixed
// interval. Only services with at least one handler are streamed; handlers
// added while streaming take effect on the next tick.
type SensorControl struct {
	source Source
	logger logging.Logger

	mu       sync.Mutex
	handlers map[StreamingService][]Handler
	interval time.Duration

	// startMu serializes Start and Stop. The stream goroutine takes mu, so
	// mu must be free while a worker is being stopped.
	startMu sync.Mutex
	workers *goutils.StoppableWorkers
}

// NewSensorControl builds the registry over a frame source. Robot
// implementations construct one and hand it out via SensorControl().
func NewSensorControl(source Source, logger logging.Logger) *SensorControl {
	return &SensorControl{
		source:   source,
		logger:   logger,
		handlers: make(map[StreamingService][]Handler),
	}
}

// AddHandler subscribes h to a service.
func (sc *SensorControl) AddHandler(service StreamingService, h Handler) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.handlers[service] = append(sc.handlers[service], h)
}

// RemoveHandlers drops every handler for a service.
func (sc *SensorControl) RemoveHandlers(service StreamingService) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.handlers, service)
}

// Clear drops every handler for every service.
func (sc *SensorControl) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.handlers = make(map[StreamingService][]Handler)
}

// Enabled reports the services that currently have handlers, sorted.
func (sc *SensorControl) Enabled() []StreamingService {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	services := make([]StreamingService, 0, len(sc.handlers))
	for service := range sc.handlers {
		services = append(services, service)
	}
	sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })
	return services
}

// Start begins streaming every interval. Starting while already streaming
// restarts the stream at the new interval without touching the registry.
func (sc *SensorControl) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Errorf("streaming interval must be positive, got %v", interval)
	}

	sc.startMu.Lock()
	defer sc.startMu.Unlock()
	if sc.workers != nil {
		sc.workers.Stop()
		sc.workers = nil
	}

	sc.mu.Lock()
	sc.interval = interval
	sc.mu.Unlock()

	sc.workers = goutils.NewBackgroundStoppableWorkers(sc.stream)
	return nil
}

// Stop ends streaming. It is safe to call when not streaming, and no frames
// are delivered after it returns.
func (sc *SensorControl) Stop(ctx context.Context) error {
	sc.startMu.Lock()
	defer sc.startMu.Unlock()
	if sc.workers != nil {
		sc.workers.Stop()
		sc.workers = nil
	}
	return nil
}

func (sc *SensorControl) stream(cancelCtx context.Context) {
	sc.mu.Lock()
	interval := sc.interval
	sc.mu.Unlock()

	timer := time.NewTicker(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			services := sc.Enabled()
			if len(services) == 0 {
				continue
			}
			frames, err := sc.source.Sample(cancelCtx, services)
			if err != nil {
				sc.logger.CErrorf(cancelCtx, "error sampling sensor stream: '%s'", err)
				continue
			}
			for _, frame := range frames {
				sc.dispatch(frame)
			}
		case <-cancelCtx.Done():
			return
		}
	}
}

func (sc *SensorControl) dispatch(r Reading) {
	sc.mu.Lock()
	handlers := append([]Handler(nil), sc.handlers[r.Service()]...)
	sc.mu.Unlock()
	for _, h := range handlers {
		h(r)
	}
}
