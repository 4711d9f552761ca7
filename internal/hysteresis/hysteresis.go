// Package hysteresis sits between the per-tick braking decision and the
// actuator. Escalation is sent at once; de-escalation waits for the brake
// to settle and for the lower request to be stable. EMERGENCY latches until
// the vehicle has been nearly stopped for a sustained window.
package hysteresis

import (
	"time"

	"github.com/banshee-data/autobrake/internal/brake"
	"github.com/banshee-data/autobrake/internal/config"
	"github.com/banshee-data/autobrake/internal/monitoring"
)

// Sink receives braking levels. The actuator link implements it.
type Sink interface {
	SendLevel(level brake.Level) error
}

// Result describes what Update did.
type Result struct {
	Level   brake.Level // level in force at the actuator after this tick
	Sent    bool        // a command went out successfully
	Pending bool        // a de-escalation is waiting on its timers
	Latched bool
	Err     error // send failure, already logged
}

// Hysteresis owns the actuator-facing level state. All timestamps come from
// the caller's monotonic clock. It is not safe for concurrent use.
type Hysteresis struct {
	cfg  config.HysteresisConfig
	sink Sink

	lastSent   brake.Level
	hasSent    bool
	lastSentAt time.Time

	candidate      brake.Level
	hasCandidate   bool
	candidateSince time.Time

	latched    bool
	clearing   bool
	clearSince time.Time
}

// New returns a Hysteresis that forwards levels to sink.
func New(cfg config.HysteresisConfig, sink Sink) *Hysteresis {
	return &Hysteresis{cfg: cfg, sink: sink}
}

// Latched reports whether the EMERGENCY latch is set.
func (h *Hysteresis) Latched() bool {
	return h.latched
}

// LastSent returns the last level the sink accepted.
func (h *Hysteresis) LastSent() (brake.Level, bool) {
	return h.lastSent, h.hasSent
}

// Update feeds one tick's requested level. speedKnown false never counts
// towards releasing the latch.
func (h *Hysteresis) Update(req brake.Level, speedMPS float64, speedKnown bool, now time.Time) Result {
	if !h.hasSent {
		if req == brake.LevelEmergency {
			h.latch()
		}
		return h.send(req, now)
	}

	if h.latched {
		if !h.clearConditionMet(speedMPS, speedKnown, now) {
			if req != brake.LevelEmergency || h.lastSent != brake.LevelEmergency {
				return h.send(brake.LevelEmergency, now)
			}
			return h.result(false, nil)
		}
		h.latched = false
		monitoring.Logf("hysteresis: emergency latch released at %.2f m/s", speedMPS)
	}

	if req == brake.LevelEmergency {
		h.latch()
		if h.lastSent != brake.LevelEmergency {
			return h.send(brake.LevelEmergency, now)
		}
		return h.result(false, nil)
	}

	if req.MoreSevere(h.lastSent) {
		res := h.send(req, now)
		if res.Sent {
			h.hasCandidate = false
		}
		return res
	}
	if req == h.lastSent {
		h.hasCandidate = false
		return h.result(false, nil)
	}

	if !h.hasCandidate || h.candidate != req {
		h.candidate, h.candidateSince, h.hasCandidate = req, now, true
	}
	sinceSend := now.Sub(h.lastSentAt)
	if sinceSend < h.cfg.Actuation.Duration ||
		sinceSend < h.cfg.MinHold.Duration ||
		now.Sub(h.candidateSince) < h.cfg.DeescalationStable.Duration {
		r := h.result(false, nil)
		r.Pending = true
		return r
	}
	res := h.send(req, now)
	if res.Sent {
		h.hasCandidate = false
	}
	return res
}

// latch sets the EMERGENCY latch. It is a decision, not I/O state, so it is
// set whether or not the send that follows succeeds.
func (h *Hysteresis) latch() {
	h.latched = true
	h.clearing = false
	h.hasCandidate = false
}

func (h *Hysteresis) clearConditionMet(speedMPS float64, known bool, now time.Time) bool {
	if !known || speedMPS > h.cfg.EmergencyClearSpeedMPS {
		h.clearing = false
		return false
	}
	if !h.clearing {
		h.clearing, h.clearSince = true, now
	}
	if now.Sub(h.clearSince) >= h.cfg.EmergencyClearStable.Duration {
		h.clearing = false
		return true
	}
	return false
}

// send forwards level to the sink. State changes only on success.
func (h *Hysteresis) send(level brake.Level, now time.Time) Result {
	if err := h.sink.SendLevel(level); err != nil {
		monitoring.Logf("hysteresis: send %s failed: %v", level, err)
		return h.result(false, err)
	}
	h.lastSent, h.lastSentAt, h.hasSent = level, now, true
	return h.result(true, nil)
}

func (h *Hysteresis) result(sent bool, err error) Result {
	return Result{
		Level:   h.lastSent,
		Sent:    sent,
		Latched: h.latched,
		Err:     err,
	}
}
