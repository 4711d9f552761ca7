// Package speed maintains a smoothed, staleness-aware vehicle speed from
// actuator telemetry. A background poller publishes immutable snapshots;
// readers never block.
package speed

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/autobrake/internal/config"
	"github.com/banshee-data/autobrake/internal/monitoring"
	"github.com/banshee-data/autobrake/internal/timeutil"
)

// TelemetrySource yields telemetry lines. Poll returns ok false when no line
// arrived before ctx expired.
type TelemetrySource interface {
	Poll(ctx context.Context) (line string, ok bool, err error)
}

// StatRequester is implemented by sources that answer GET_STAT.
type StatRequester interface {
	RequestStat() error
}

// Drainer is implemented by sources that queue lines between polls. Drain
// consumes the backlog without blocking and returns its newest telemetry
// line.
type Drainer interface {
	Drain() (line string, ok bool, err error)
}

// Snapshot is an immutable published speed.
type Snapshot struct {
	MPS float64 // smoothed, never negative
	RPM float64
	At  time.Time
}

// Reading is what the control loop consumes. Known is false when no sample
// has arrived or the latest is older than the staleness window; MPS is then
// zero and must not be used.
type Reading struct {
	MPS   float64
	Known bool
	Age   time.Duration
}

// Stats counts poller activity.
type Stats struct {
	Polls   uint64
	Samples uint64
	Errors  uint64
}

// Estimator polls telemetry and publishes snapshots.
type Estimator struct {
	cfg   config.SpeedConfig
	src   TelemetrySource
	clock timeutil.Clock

	snap atomic.Pointer[Snapshot]

	polls   atomic.Uint64
	samples atomic.Uint64
	errs    atomic.Uint64
}

// NewEstimator returns an Estimator reading from src.
func NewEstimator(cfg config.SpeedConfig, src TelemetrySource, clock timeutil.Clock) *Estimator {
	return &Estimator{cfg: cfg, src: src, clock: clock}
}

// Run polls until ctx is cancelled. Poll errors are counted and logged
// once per streak; they never stop the loop.
func (e *Estimator) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.cfg.PollInterval.Duration)
	defer ticker.Stop()

	failing := false
	for {
		err := e.pollOnce(ctx)
		switch {
		case err != nil && !failing && ctx.Err() == nil:
			monitoring.Logf("speed: telemetry poll failed: %v", err)
			failing = true
		case err == nil && failing:
			monitoring.Logf("speed: telemetry poll recovered")
			failing = false
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// pollOnce folds at most one telemetry line, the newest available, into the
// estimate. Lines queued before a GET_STAT are discarded so a backlog can
// never be stamped as current.
func (e *Estimator) pollOnce(ctx context.Context) error {
	e.polls.Add(1)
	drainer, canDrain := e.src.(Drainer)
	if e.cfg.RequestStat {
		if r, ok := e.src.(StatRequester); ok {
			if canDrain {
				if _, _, err := drainer.Drain(); err != nil {
					e.errs.Add(1)
					return err
				}
			}
			if err := r.RequestStat(); err != nil {
				e.errs.Add(1)
				return err
			}
		}
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.PollTimeout.Duration)
	defer cancel()
	line, ok, err := e.src.Poll(pctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		e.errs.Add(1)
		return err
	}
	if !ok {
		return nil
	}
	if canDrain {
		newer, found, err := drainer.Drain()
		if err != nil {
			e.errs.Add(1)
			return err
		}
		if found {
			line = newer
		}
	}
	if t, ok := ParseTelemetry(line); ok {
		e.Observe(t, e.clock.Now())
	}
	return nil
}

// Observe folds one telemetry sample into the smoothed speed and publishes
// a new snapshot. A stale previous value is discarded rather than smoothed
// against.
func (e *Estimator) Observe(t Telemetry, now time.Time) {
	mps := t.MPS
	if mps < 0 {
		mps = 0
	}
	next := &Snapshot{MPS: mps, RPM: t.RPM, At: now}

	if prev := e.snap.Load(); prev != nil && now.Sub(prev.At) <= e.cfg.Staleness.Duration {
		a := e.cfg.Alpha
		next.MPS = a*mps + (1-a)*prev.MPS
		if t.HasRPM {
			next.RPM = a*t.RPM + (1-a)*prev.RPM
		} else {
			next.RPM = prev.RPM
		}
	}
	e.snap.Store(next)
	e.samples.Add(1)
}

// Snapshot returns the latest published snapshot, or nil.
func (e *Estimator) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Reading returns the speed as of now.
func (e *Estimator) Reading(now time.Time) Reading {
	s := e.snap.Load()
	if s == nil {
		return Reading{}
	}
	age := now.Sub(s.At)
	if age > e.cfg.Staleness.Duration {
		return Reading{Age: age}
	}
	return Reading{MPS: s.MPS, Known: true, Age: age}
}

// Stats returns the poller counters.
func (e *Estimator) Stats() Stats {
	return Stats{
		Polls:   e.polls.Load(),
		Samples: e.samples.Load(),
		Errors:  e.errs.Load(),
	}
}
