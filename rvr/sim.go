package rvr

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
)

// Simulator constants. The physics is rough; nobody steers by it, it only
// has to make the telemetry hang together.
const (
	defaultDriveWatchdog = 500 * time.Millisecond
	defaultAmbientLux    = 120.0

	// Battery drain in percent per second, resting and driving.
	idleDrainPerSec  = 0.0002
	driveDrainPerSec = 0.0014

	// Noise sigmas.
	gyroNoise  = 0.2  // deg/s
	accelNoise = 0.01 // g
	imuNoise   = 0.1  // deg
	lightNoise = 5.0  // lux
	colorNoise = 3.0  // per 8-bit channel
)

// SimConfig tunes the built-in simulator. The zero value gets a gray floor,
// a dim room and the default drive watchdog.
type SimConfig struct {
	// FloorColor is what the downward color sensor sees.
	FloorColor Color
	// AmbientLux is the baseline ambient light level.
	AmbientLux float64
	// DriveWatchdog is how long commanded tread speeds persist without a
	// fresh DriveTank before the firmware stops the motors.
	DriveWatchdog time.Duration
	// Seed fixes the sensor noise source; 0 seeds from the clock.
	Seed int64
}

// Sim is an in-process RVR with the same surface as the hardware: plain tank
// kinematics behind the locator, a slowly draining battery and noisy sensor
// frames at the streaming interval. It stands in for the robot in tests and
// anywhere a physical RVR is not attached.
type Sim struct {
	logger logging.Logger
	ctl    *SensorControl
	cfg    SimConfig

	mu        sync.Mutex
	awake     bool
	closed    bool
	colorOn   bool
	left      float64 // commanded tread speeds, m/s
	right     float64
	lastDrive time.Time
	x, y      float64 // locator, meters
	yaw       float64 // degrees, wrapped to [-180, 180)
	battery   float64 // percent
	lastStep  time.Time
	leds      map[LedGroup]Color
	rng       *rand.Rand
}

// NewSim builds a simulated RVR. It starts asleep, like hardware fresh off
// the charger.
func NewSim(cfg SimConfig, logger logging.Logger) *Sim {
	if cfg.DriveWatchdog == 0 {
		cfg.DriveWatchdog = defaultDriveWatchdog
	}
	if cfg.AmbientLux == 0 {
		cfg.AmbientLux = defaultAmbientLux
	}
	if (cfg.FloorColor == Color{}) {
		cfg.FloorColor = ColorGray
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	now := time.Now()
	s := &Sim{
		logger:   logger,
		cfg:      cfg,
		battery:  100,
		lastStep: now,
		leds:     make(map[LedGroup]Color),
		rng:      rand.New(rand.NewSource(seed)),
	}
	s.ctl = NewSensorControl(s, logger)
	return s
}

// step advances the kinematic state to now. Callers hold s.mu.
func (s *Sim) step(now time.Time) {
	dt := now.Sub(s.lastStep).Seconds()
	if dt <= 0 {
		return
	}
	s.lastStep = now

	if s.cfg.DriveWatchdog > 0 && now.Sub(s.lastDrive) > s.cfg.DriveWatchdog {
		s.left, s.right = 0, 0
	}

	v := (s.left + s.right) / 2
	yawRate := (s.right - s.left) / TreadSeparation * (180 / math.Pi) // deg/s, CCW positive
	s.yaw = wrapDegrees(s.yaw + yawRate*dt)

	// Locator frame: +Y is forward at zero yaw, +X to the robot's right.
	heading := s.yaw * math.Pi / 180
	s.x += -v * math.Sin(heading) * dt
	s.y += v * math.Cos(heading) * dt

	drain := idleDrainPerSec
	if s.left != 0 || s.right != 0 {
		drain = driveDrainPerSec
	}
	s.battery = math.Max(0, s.battery-drain*dt)
}

func wrapDegrees(deg float64) float64 {
	for deg >= 180 {
		deg -= 360
	}
	for deg < -180 {
		deg += 360
	}
	return deg
}

// Wake powers the simulated processors up. Waking an awake robot is a no-op,
// matching the firmware.
func (s *Sim) Wake(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.awake {
		s.awake = true
		now := time.Now()
		s.lastStep = now
		s.lastDrive = now
	}
	return nil
}

// ResetYaw zeroes the heading and moves the locator origin to the current
// pose.
func (s *Sim) ResetYaw(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.step(time.Now())
	s.yaw = 0
	s.x, s.y = 0, 0
	return nil
}

// DriveTank sets the commanded tread speeds. Speeds past MaxTankSpeed clamp,
// as the firmware clamps them.
func (s *Sim) DriveTank(ctx context.Context, left, right float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.awake {
		return ErrAsleep
	}
	now := time.Now()
	s.step(now)
	s.left = clampSpeed(left)
	s.right = clampSpeed(right)
	s.lastDrive = now
	return nil
}

func clampSpeed(v float64) float64 {
	if v > MaxTankSpeed {
		return MaxTankSpeed
	}
	if v < -MaxTankSpeed {
		return -MaxTankSpeed
	}
	return v
}

// BatteryPercentage reports the simulated state of charge.
func (s *Sim) BatteryPercentage(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.step(time.Now())
	return s.battery, nil
}

// EnableColorDetection gates the color_detection stream.
func (s *Sim) EnableColorDetection(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.colorOn = enabled
	return nil
}

// SetLEDs records the requested LED state.
func (s *Sim) SetLEDs(ctx context.Context, groups map[LedGroup]Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for group, color := range groups {
		s.leds[group] = color
	}
	return nil
}

// LEDsOff blanks every group.
func (s *Sim) LEDsOff(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, group := range LedGroups() {
		s.leds[group] = ColorOff
	}
	return nil
}

// SensorControl returns the streaming registry.
func (s *Sim) SensorControl() *SensorControl {
	return s.ctl
}

// Close stops streaming and marks the connection dead.
func (s *Sim) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.ctl.Stop(context.Background())
}

// Sample synthesizes one frame per requested service from the current state.
// It implements Source for the simulator's own SensorControl.
func (s *Sim) Sample(ctx context.Context, services []StreamingService) ([]Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.step(time.Now())

	heading := s.yaw * math.Pi / 180
	v := (s.left + s.right) / 2
	yawRate := (s.right - s.left) / TreadSeparation * (180 / math.Pi)

	frames := make([]Reading, 0, len(services))
	for _, service := range services {
		switch service {
		case ServiceAccelerometer:
			frames = append(frames, Accelerometer{
				X: s.rng.NormFloat64() * accelNoise,
				Y: s.rng.NormFloat64() * accelNoise,
				Z: 1 + s.rng.NormFloat64()*accelNoise,
			})
		case ServiceGyroscope:
			frames = append(frames, Gyroscope{
				X: s.rng.NormFloat64() * gyroNoise,
				Y: s.rng.NormFloat64() * gyroNoise,
				Z: yawRate + s.rng.NormFloat64()*gyroNoise,
			})
		case ServiceIMU:
			frames = append(frames, IMU{
				Pitch: s.rng.NormFloat64() * imuNoise,
				Roll:  s.rng.NormFloat64() * imuNoise,
				Yaw:   wrapDegrees(s.yaw + s.rng.NormFloat64()*imuNoise),
			})
		case ServiceColorDetection:
			if !s.colorOn {
				continue
			}
			frames = append(frames, ColorDetection{
				R:          s.noisyChannel(s.cfg.FloorColor.R),
				G:          s.noisyChannel(s.cfg.FloorColor.G),
				B:          s.noisyChannel(s.cfg.FloorColor.B),
				Confidence: 0.95,
			})
		case ServiceAmbientLight:
			frames = append(frames, AmbientLight{
				Light: math.Max(0, s.cfg.AmbientLux+s.rng.NormFloat64()*lightNoise),
			})
		case ServiceLocator:
			frames = append(frames, Locator{X: s.x, Y: s.y})
		case ServiceQuaternion:
			frames = append(frames, Quaternion{
				W: math.Cos(heading / 2),
				Z: math.Sin(heading / 2),
			})
		case ServiceVelocity:
			frames = append(frames, Velocity{
				X: -v * math.Sin(heading),
				Y: v * math.Cos(heading),
			})
		}
	}
	return frames, nil
}

func (s *Sim) noisyChannel(v uint8) uint8 {
	n := float64(v) + s.rng.NormFloat64()*colorNoise
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}

// TreadSpeeds reports the commanded tread speeds after clamping and the
// watchdog, m/s.
func (s *Sim) TreadSpeeds() (left, right float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step(time.Now())
	return s.left, s.right
}

// Pose reports the locator position in meters and the heading in degrees.
func (s *Sim) Pose() (x, y, yaw float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step(time.Now())
	return s.x, s.y, s.yaw
}

// LEDs returns a copy of the current LED state.
func (s *Sim) LEDs() map[LedGroup]Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	leds := make(map[LedGroup]Color, len(s.leds))
	for group, color := range s.leds {
		leds[group] = color
	}
	return leds
}

var (
	_ Robot  = (*Sim)(nil)
	_ Source = (*Sim)(nil)
)
