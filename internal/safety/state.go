// Package safety turns the fused front distance and vehicle speed into a
// debounced safety state.
package safety

import (
	"fmt"

	"github.com/banshee-data/autobrake/internal/brake"
)

// State is a safety state. StateCorner is never produced by Machine; the
// control loop reports it when a corner approach overrides the obstacle
// state.
type State int

const (
	StateSafe State = iota
	StateWarn
	StateBrake
	StateEmergency
	StateFailsafe
	StateCorner
)

func (s State) String() string {
	switch s {
	case StateSafe:
		return "SAFE"
	case StateWarn:
		return "WARN"
	case StateBrake:
		return "BRAKE"
	case StateEmergency:
		return "EMERGENCY"
	case StateFailsafe:
		return "FAILSAFE"
	case StateCorner:
		return "CORNER"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Level maps an obstacle state to a braking level. FAILSAFE brakes
// strongly because a blind vehicle must not roll on. CORNER carries its own
// level and maps to MILD here only as a floor.
func (s State) Level() brake.Level {
	switch s {
	case StateWarn, StateCorner:
		return brake.LevelMild
	case StateBrake, StateFailsafe:
		return brake.LevelStrong
	case StateEmergency:
		return brake.LevelEmergency
	default:
		return brake.LevelSafe
	}
}

// braking reports whether s is one of the states that only exit through the
// brake-exit counter.
func (s State) braking() bool {
	return s == StateBrake || s == StateEmergency
}
