// Package control runs the braking controller's fixed-rate loop: one bounded
// sensor read, fusion, corner and obstacle classification, hysteresis and
// actuator housekeeping per tick.
package control

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/autobrake/internal/actuator"
	"github.com/banshee-data/autobrake/internal/brake"
	"github.com/banshee-data/autobrake/internal/config"
	"github.com/banshee-data/autobrake/internal/corner"
	"github.com/banshee-data/autobrake/internal/db"
	"github.com/banshee-data/autobrake/internal/fusion"
	"github.com/banshee-data/autobrake/internal/hysteresis"
	"github.com/banshee-data/autobrake/internal/monitoring"
	"github.com/banshee-data/autobrake/internal/safety"
	"github.com/banshee-data/autobrake/internal/sensor"
	"github.com/banshee-data/autobrake/internal/speed"
	"github.com/banshee-data/autobrake/internal/timeutil"
)

// Actuator is the part of the actuator link the loop drives.
// *actuator.Link implements it.
type Actuator interface {
	hysteresis.Sink
	Heartbeat() error
	SetMode(m actuator.Mode) error
	SpeedCap(kmh int) error
	Neutralize() error
}

// SpeedReader returns the latest speed estimate without blocking.
type SpeedReader interface {
	Reading(now time.Time) speed.Reading
}

// Recorder accepts tick records without blocking. *db.TickRecorder
// implements it.
type Recorder interface {
	Record(t db.Tick) bool
	Stop()
}

// Deps are the collaborators a Loop drives. Recorder may be nil.
type Deps struct {
	Source   sensor.Source
	Actuator Actuator
	Speed    SpeedReader
	Recorder Recorder
	Clock    timeutil.Clock
	RunID    string
}

// Stats counts loop activity.
type Stats struct {
	Ticks        uint64
	Overruns     uint64
	SensorErrors uint64
	LinkErrors   uint64
}

// Loop owns all per-tick state. Tick and Run must be called from a single
// goroutine; Status and Stats may be read from any goroutine.
type Loop struct {
	cfg  *config.Config
	deps Deps

	fuser    *fusion.Fuser
	hold     *fusion.Hold
	detector *corner.Detector
	tracker  *corner.Tracker
	machine  *safety.Machine
	hyst     *hysteresis.Hysteresis

	seq         uint64
	lastHB      time.Time
	hbSent      bool
	mode        actuator.Mode
	linkFailing bool

	status atomic.Pointer[Status]

	ticks        atomic.Uint64
	overruns     atomic.Uint64
	sensorErrors atomic.Uint64
	linkErrors   atomic.Uint64

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewLoop builds a Loop from cfg. The actuator is assumed to be in
// MODE NORMAL.
func NewLoop(cfg *config.Config, deps Deps) *Loop {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	return &Loop{
		cfg:      cfg,
		deps:     deps,
		fuser:    fusion.NewFuser(cfg.Fusion),
		hold:     fusion.NewHold(cfg.Fusion.HoldLast.Duration),
		detector: corner.NewDetector(cfg.Corner),
		tracker:  corner.NewTracker(cfg.Corner),
		machine:  safety.NewMachine(cfg.Safety),
		hyst:     hysteresis.New(cfg.Hysteresis, deps.Actuator),
		mode:     actuator.ModeNormal,
	}
}

// Merge combines the obstacle decision with the corner verdict. The corner
// wins only while active, when the obstacle state is neither FAILSAFE nor
// EMERGENCY and the corner level is at least as severe.
func Merge(dec safety.Decision, appr corner.Approach) (safety.State, brake.Level, string) {
	if appr.Active &&
		dec.State != safety.StateFailsafe &&
		dec.State != safety.StateEmergency &&
		!dec.Level.MoreSevere(appr.Level) {
		return safety.StateCorner, appr.Level, "corner " + appr.Reason
	}
	return dec.State, dec.Level, dec.Reason
}

// Tick runs one control cycle. It returns an error only when ctx ends or
// the source is exhausted; every other failure is logged and absorbed.
func (l *Loop) Tick(ctx context.Context) (Status, error) {
	rctx, cancel := context.WithTimeout(ctx, l.cfg.Control.Period.Duration)
	samples, err := l.deps.Source.Read(rctx, sensor.Budget{
		MaxPoints: l.cfg.Control.MaxPoints,
		Window:    l.cfg.Control.BatchWindow.Duration,
	})
	cancel()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Status{}, ctxErr
	}
	if errors.Is(err, sensor.ErrExhausted) {
		return Status{}, err
	}
	var sensorErr string
	if err != nil {
		l.sensorErrors.Add(1)
		sensorErr = err.Error()
		samples = nil
	}

	now := l.deps.Clock.Now()
	l.seq++
	l.ticks.Add(1)

	frame := l.fuser.Fuse(samples, now)
	dist, valid, held := l.hold.Apply(frame.FrontMM, frame.HasFront, now)
	cand, hasCand := corner.Nearest(l.detector.Detect(&frame.Table))
	sectors := l.fuser.Sectors(&frame, now)
	tracef("#%d samples=%d inliers=%d rejected=%d fallback=%t front=%.0f/%t",
		l.seq, len(samples), frame.Inliers, frame.Rejected, frame.Fallback, frame.FrontMM, frame.HasFront)

	rd := l.deps.Speed.Reading(now)
	dec := l.machine.Step(dist, valid, rd.MPS, rd.Known)
	appr := l.tracker.Update(corner.Input{
		Candidate:       cand,
		HasCandidate:    hasCand,
		SpeedMPS:        rd.MPS,
		SpeedKnown:      rd.Known,
		ClosingRateMMPS: sectors.ClosingRateMMPS,
		HasRate:         sectors.HasRate,
	}, now)
	state, level, reason := Merge(dec, appr)

	res := l.hyst.Update(level, rd.MPS, rd.Known, now)
	if res.Err != nil {
		l.linkErrors.Add(1)
	}
	l.heartbeat(now)
	l.syncMode(state == safety.StateCorner)

	st := Status{
		Seq:         l.seq,
		At:          now,
		State:       state,
		Level:       level,
		DistanceMM:  dist,
		HasDistance: valid,
		Held:        held,
		Inliers:     frame.Inliers,
		Fallback:    frame.Fallback,
		SpeedMPS:    rd.MPS,
		SpeedKnown:  rd.Known,
		TTC:         dec.TTC,
		HasTTC:      dec.HasTTC,
		ImbalanceMM: sectors.Imbalance(),
		Latched:     res.Latched,
		Pending:     res.Pending,
		Reason:      reason,
		SensorErr:   sensorErr,
	}
	st.Sent, st.Sends = l.hyst.LastSent()
	if hasCand {
		st.HasCorner = true
		st.CornerAngleDeg = cand.AngleDeg
		st.CornerDistanceMM = cand.DistanceMM
	}
	if appr.Active {
		st.CornerActive = true
		st.CornerLevel = appr.Level
	}

	monitoring.Logf("%s", st)
	if l.deps.Recorder != nil {
		l.deps.Recorder.Record(st.Tick(l.deps.RunID))
	}
	l.status.Store(&st)
	return st, nil
}

// heartbeat sends HB once per interval. A failed HB is retried next tick.
func (l *Loop) heartbeat(now time.Time) {
	interval := l.cfg.Control.HeartbeatInterval.Duration
	if interval <= 0 || (l.hbSent && now.Sub(l.lastHB) < interval) {
		return
	}
	if l.linkResult("heartbeat", l.deps.Actuator.Heartbeat()) {
		l.lastHB, l.hbSent = now, true
	}
}

// syncMode moves the controller into CORNER mode with a speed cap while a
// corner override is in force, and back to NORMAL afterwards.
func (l *Loop) syncMode(cornering bool) {
	want := actuator.ModeNormal
	if cornering {
		want = actuator.ModeCorner
	}
	if want == l.mode {
		return
	}
	if !l.linkResult("mode", l.deps.Actuator.SetMode(want)) {
		return
	}
	l.mode = want
	opsf("mode %s", want)
	if cornering {
		l.linkResult("speed cap", l.deps.Actuator.SpeedCap(l.cfg.Control.CornerSpeedCapKMH))
	}
}

// linkResult counts a link error and logs the first of a streak.
func (l *Loop) linkResult(op string, err error) bool {
	if err != nil {
		l.linkErrors.Add(1)
		if !l.linkFailing {
			monitoring.Logf("control: %s failed: %v", op, err)
			l.linkFailing = true
		}
		return false
	}
	if l.linkFailing {
		monitoring.Logf("control: actuator link recovered")
		l.linkFailing = false
	}
	return true
}

// Run ticks at the configured period on absolute deadlines until ctx ends
// or the source is exhausted. A tick that overruns its slot resyncs the
// schedule to now rather than bursting to catch up.
func (l *Loop) Run(ctx context.Context) error {
	period := l.cfg.Control.Period.Duration
	next := l.deps.Clock.Now()
	for {
		if _, err := l.Tick(ctx); err != nil {
			if errors.Is(err, sensor.ErrExhausted) {
				monitoring.Logf("control: source exhausted after %d ticks", l.seq)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		next = next.Add(period)
		now := l.deps.Clock.Now()
		wait := next.Sub(now)
		if wait <= 0 {
			l.overruns.Add(1)
			opsf("tick #%d overran by %v", l.seq, -wait)
			next = now
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		timer := l.deps.Clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}
	}
}

// Shutdown stops the sensor, neutralises the actuator, closes the sensor
// and stops the recorder, in that order. Later calls return the first
// call's result.
func (l *Loop) Shutdown() error {
	l.shutdownOnce.Do(func() {
		var errs []error
		if err := l.deps.Source.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := l.deps.Actuator.Neutralize(); err != nil {
			errs = append(errs, err)
		}
		l.mode = actuator.ModeNormal
		if err := l.deps.Source.Close(); err != nil {
			errs = append(errs, err)
		}
		if l.deps.Recorder != nil {
			l.deps.Recorder.Stop()
		}
		l.shutdownErr = errors.Join(errs...)
		if l.shutdownErr != nil {
			monitoring.Logf("control: shutdown: %v", l.shutdownErr)
		} else {
			monitoring.Logf("control: shutdown complete after %d ticks", l.ticks.Load())
		}
	})
	return l.shutdownErr
}

// Status returns the last published tick status, or nil before the first
// tick.
func (l *Loop) Status() *Status {
	return l.status.Load()
}

func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:        l.ticks.Load(),
		Overruns:     l.overruns.Load(),
		SensorErrors: l.sensorErrors.Load(),
		LinkErrors:   l.linkErrors.Load(),
	}
}
