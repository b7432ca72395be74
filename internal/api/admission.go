package api

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/gapminder/ddf-server/internal/apperr"
	"github.com/gapminder/ddf-server/internal/config"
)

// sampleWindow is the CPU sampling period the admission controller uses to
// approximate scheduling lag: under full CPU saturation a request effectively
// waits up to one whole window before this process gets scheduled again.
const sampleWindow = 250 * time.Millisecond

// Admission rejects incoming queries once either of two process-local
// counters trips: sampled CPU lag, and the depth of queries already queued
// waiting on a database connection. Both checks are skipped when Disabled,
// which test suites set to keep admission control out of the way.
type Admission struct {
	cpuThresholdMs int64
	dbThrottle     int32
	disabled       bool

	lagMs  atomic.Int64
	queued atomic.Int32
}

// NewAdmission builds an Admission controller from its config section.
func NewAdmission(cfg config.AdmissionConfig) *Admission {
	return &Admission{
		cpuThresholdMs: int64(cfg.CPUThrottleMs),
		dbThrottle:     int32(cfg.DBThrottle),
		disabled:       cfg.Disabled,
	}
}

// Run starts the background CPU sampler. It returns once ctx is cancelled.
func (a *Admission) Run(ctx context.Context) {
	if a.disabled || a.cpuThresholdMs <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		percents, err := cpu.PercentWithContext(ctx, sampleWindow, false)
		if err != nil || len(percents) == 0 {
			continue
		}
		lag := time.Duration(percents[0] / 100 * float64(sampleWindow))
		a.lagMs.Store(lag.Milliseconds())
	}
}

// Admit checks both admission counters and returns a Busy apperr.Error if
// either is over threshold.
func (a *Admission) Admit() error {
	if a.disabled {
		return nil
	}
	if a.cpuThresholdMs > 0 && a.lagMs.Load() > a.cpuThresholdMs {
		return apperr.New(apperr.Busy, "server is overloaded: cpu scheduling lag over threshold")
	}
	if a.dbThrottle > 0 && a.queued.Load() >= a.dbThrottle {
		return apperr.New(apperr.Busy, "server is overloaded: too many queries queued for a connection")
	}
	return nil
}

// AcquireQueueSlot increments the queued-query counter and returns a
// release function the caller defers as soon as it has (or fails to get) a
// database connection.
func (a *Admission) AcquireQueueSlot() func() {
	a.queued.Add(1)
	return func() { a.queued.Add(-1) }
}
