package corner

import (
	"time"

	"github.com/banshee-data/autobrake/internal/brake"
	"github.com/banshee-data/autobrake/internal/config"
)

// Input is what the tracker sees on one tick.
type Input struct {
	Candidate    Candidate
	HasCandidate bool

	SpeedMPS   float64
	SpeedKnown bool

	ClosingRateMMPS float64
	HasRate         bool
}

// Approach is the tracker's verdict for one tick. Level is only ever MILD
// or STRONG; EMERGENCY is reserved for direct obstacle danger.
type Approach struct {
	Active    bool
	Level     brake.Level
	Candidate Candidate
	TTC       float64 // seconds; zero when undefined
	Reason    string
	Held      bool // active only because of the hold-off window
}

// Tracker classifies corner approaches across ticks. It is not safe for
// concurrent use.
type Tracker struct {
	cfg config.CornerConfig

	prevDist    float64
	hasPrev     bool
	last        Approach
	activeUntil time.Time
}

// NewTracker returns a Tracker using cfg.
func NewTracker(cfg config.CornerConfig) *Tracker {
	return &Tracker{cfg: cfg}
}

// Update classifies the current tick. A triggered approach stays active for
// hold_off after the trigger last held, keeping its level.
func (t *Tracker) Update(in Input, now time.Time) Approach {
	var gain float64
	hasGain := false
	if in.HasCandidate {
		if t.hasPrev {
			gain, hasGain = t.prevDist-in.Candidate.DistanceMM, true
		}
		t.prevDist, t.hasPrev = in.Candidate.DistanceMM, true
	} else {
		t.hasPrev = false
	}

	if a, ok := t.trigger(in, gain, hasGain); ok {
		t.last = a
		t.activeUntil = now.Add(t.cfg.HoldOff.Duration)
		return a
	}

	if t.last.Active && !now.After(t.activeUntil) {
		held := t.last
		held.Held = true
		return held
	}
	t.last = Approach{}
	return Approach{}
}

func (t *Tracker) trigger(in Input, gain float64, hasGain bool) (Approach, bool) {
	if !in.HasCandidate || !in.SpeedKnown || in.SpeedMPS < t.cfg.ActivationSpeedMPS {
		return Approach{}, false
	}
	dist := in.Candidate.DistanceMM

	var ttc float64
	if in.SpeedMPS > t.cfg.VZeroMPS {
		ttc = (dist / 1000) / in.SpeedMPS
	}

	reason := ""
	switch {
	case dist <= t.cfg.SlowDistanceMM:
		reason = "distance"
	case ttc > 0 && ttc <= t.cfg.SlowTTCSeconds:
		reason = "ttc"
	case hasGain && gain >= t.cfg.ApproachGainMM:
		reason = "gain"
	case in.HasRate && t.cfg.ApproachRateMMPS > 0 && in.ClosingRateMMPS >= t.cfg.ApproachRateMMPS:
		reason = "closing"
	default:
		return Approach{}, false
	}

	level := brake.LevelMild
	if dist <= t.cfg.StrongDistanceMM {
		level = brake.LevelStrong
	}
	return Approach{
		Active:    true,
		Level:     level,
		Candidate: in.Candidate,
		TTC:       ttc,
		Reason:    reason,
	}, true
}
