package soak

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"github.com/rafftod/rvr-foraging/rvr"
)

// BatteryPoller watches the battery gauge from its own goroutine, so an
// exercise loop can stay on its drive cadence while the slow battery
// exchanges happen off to the side.
type BatteryPoller struct {
	robot    rvr.Robot
	logger   logging.Logger
	metrics  *Metrics
	interval time.Duration

	level    *atomic.Float64
	polledAt *atomic.Time
	workers  *goutils.StoppableWorkers
}

// NewBatteryPoller builds a poller. An interval of zero polls every two
// minutes, same as the inline battery checks.
func NewBatteryPoller(robot rvr.Robot, interval time.Duration, logger logging.Logger, metrics *Metrics) *BatteryPoller {
	if interval <= 0 {
		interval = defaultBatteryEvery
	}
	return &BatteryPoller{
		robot:    robot,
		logger:   logger,
		metrics:  metrics,
		interval: interval,
		level:    atomic.NewFloat64(0),
		polledAt: atomic.NewTime(time.Time{}),
	}
}

// Start polls once right away and then keeps polling in the background
// until Stop.
func (p *BatteryPoller) Start(ctx context.Context) {
	p.poll(ctx)
	p.workers = goutils.NewBackgroundStoppableWorkers(func(cancelCtx context.Context) {
		timer := time.NewTicker(p.interval)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				p.poll(cancelCtx)
			case <-cancelCtx.Done():
				return
			}
		}
	})
}

func (p *BatteryPoller) poll(ctx context.Context) {
	pct, err := p.robot.BatteryPercentage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.CErrorf(ctx, "can't read battery: %v", err)
		}
		return
	}
	p.level.Store(pct)
	p.polledAt.Store(time.Now())
	p.metrics.setBattery(pct)
	p.logger.CInfof(ctx, "battery at %.1f%%", pct)
}

// Level returns the last polled charge percentage and when it was read. The
// zero time means no poll has succeeded yet.
func (p *BatteryPoller) Level() (float64, time.Time) {
	return p.level.Load(), p.polledAt.Load()
}

// Stop halts the background polling.
func (p *BatteryPoller) Stop() {
	if p.workers != nil {
		p.workers.Stop()
	}
}
