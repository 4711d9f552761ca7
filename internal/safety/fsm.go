package safety

import (
	"github.com/banshee-data/autobrake/internal/brake"
	"github.com/banshee-data/autobrake/internal/config"
)

// Decision is the machine's output for one tick.
type Decision struct {
	State     State
	Level     brake.Level
	TargetDeg int
	TTC       float64 // seconds; meaningful only when HasTTC
	HasTTC    bool
	Reason    string
}

// Machine is the obstacle safety state machine. It starts in SAFE and is
// not safe for concurrent use.
type Machine struct {
	cfg   config.SafetyConfig
	state State

	invalidStreak int
	validStreak   int
	exitCount     int
}

// NewMachine returns a Machine in SAFE.
func NewMachine(cfg config.SafetyConfig) *Machine {
	return &Machine{cfg: cfg}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Reset returns the machine to SAFE with cleared counters.
func (m *Machine) Reset() {
	*m = Machine{cfg: m.cfg}
}

// TTC computes time-to-collision in seconds. The result is never negative
// and never above the cap. defined is false when speed is unknown or there
// is no distance.
func TTC(cfg config.SafetyConfig, distMM float64, hasDist bool, speedMPS float64, hasSpeed bool) (ttc float64, defined bool) {
	switch {
	case !hasDist:
		return 0, false
	case distMM <= cfg.DistFloorMM:
		return 0, true
	case !hasSpeed:
		return 0, false
	case speedMPS <= cfg.VZeroMPS:
		return 0, true
	}
	ttc = (distMM / 1000) / speedMPS
	if ttc > cfg.TTCCapSeconds {
		ttc = cfg.TTCCapSeconds
	}
	return ttc, true
}

// Step advances the machine by one tick.
func (m *Machine) Step(distMM float64, hasDist bool, speedMPS float64, hasSpeed bool) Decision {
	valid := hasDist && distMM > 0
	if valid {
		m.validStreak++
		m.invalidStreak = 0
	} else {
		m.invalidStreak++
		m.validStreak = 0
	}

	if m.state != StateFailsafe && m.invalidStreak >= m.cfg.LostFramesToFail {
		m.transition(StateFailsafe)
	} else if m.state == StateFailsafe && m.validStreak >= m.cfg.OkFramesToRecover {
		m.transition(StateSafe)
	}

	if m.state == StateFailsafe {
		return m.decision("sensor lost", 0, false)
	}
	if !valid {
		return m.decision("no distance", 0, false)
	}

	ttc, defined := TTC(m.cfg, distMM, true, speedMPS, hasSpeed)
	var next State
	var reason string
	switch {
	case defined && ttc == 0:
		next, reason = StateSafe, "stopped"
	case !defined:
		next, reason = m.distanceOnly(distMM)
	default:
		next, reason = m.withTTC(distMM, ttc)
	}
	m.transition(next)
	return m.decision(reason, ttc, defined)
}

// distanceOnly is the ladder used while speed is unknown.
func (m *Machine) distanceOnly(d float64) (State, string) {
	switch {
	case d < m.cfg.BrakeDistanceMM:
		m.exitCount = 0
		return m.holdBraking(), "distance below brake"
	case m.state.braking():
		if d > m.cfg.ReleaseDistanceMM {
			return m.countExit("distance release")
		}
		m.exitCount = 0
		return m.state, "holding brake"
	case d < m.cfg.ReleaseDistanceMM:
		return StateWarn, "distance below release"
	default:
		return StateSafe, "clear"
	}
}

// withTTC is the ladder used when speed is known and the vehicle is moving.
func (m *Machine) withTTC(d, ttc float64) (State, string) {
	switch {
	case ttc <= m.cfg.EmergencyTTCSeconds:
		m.exitCount = 0
		return StateEmergency, "ttc below emergency"
	case d < m.cfg.BrakeDistanceMM || ttc <= m.cfg.BrakeTTCSeconds:
		m.exitCount = 0
		return m.holdBraking(), "distance or ttc below brake"
	case m.state.braking():
		if d > m.cfg.ReleaseDistanceMM || ttc > m.cfg.WarnTTCSeconds*m.cfg.WarnMargin {
			return m.countExit("brake release")
		}
		m.exitCount = 0
		return m.state, "holding brake"
	case ttc <= m.cfg.WarnTTCSeconds:
		return StateWarn, "ttc below warn"
	default:
		return StateSafe, "clear"
	}
}

// holdBraking keeps EMERGENCY while the brake condition holds and
// otherwise enters BRAKE.
func (m *Machine) holdBraking() State {
	if m.state == StateEmergency {
		return StateEmergency
	}
	return StateBrake
}

func (m *Machine) countExit(reason string) (State, string) {
	m.exitCount++
	if m.exitCount >= m.cfg.BrakeExitFrames {
		return StateSafe, reason
	}
	return m.state, "release pending"
}

func (m *Machine) transition(s State) {
	if s == m.state {
		return
	}
	m.state = s
	m.exitCount = 0
}

func (m *Machine) decision(reason string, ttc float64, hasTTC bool) Decision {
	return Decision{
		State:     m.state,
		Level:     m.state.Level(),
		TargetDeg: m.targetDeg(m.state),
		TTC:       ttc,
		HasTTC:    hasTTC,
		Reason:    reason,
	}
}

func (m *Machine) targetDeg(s State) int {
	sp := m.cfg.Setpoints
	switch s {
	case StateWarn:
		return sp.WarnDeg
	case StateBrake:
		return sp.BrakeDeg
	case StateEmergency:
		return sp.EmergencyDeg
	case StateFailsafe:
		return sp.FailsafeDeg
	default:
		return sp.SafeDeg
	}
}
