// Package brake defines the braking levels shared by the decision pipeline
// and the actuator link.
package brake

import (
	"fmt"
	"strings"
)

// Level is a physical braking intensity. Levels are strictly ordered by
// severity: LevelSafe < LevelMild < LevelStrong < LevelEmergency.
type Level int

const (
	LevelSafe Level = iota
	LevelMild
	LevelStrong
	LevelEmergency
)

// Levels lists every level in ascending severity.
var Levels = []Level{LevelSafe, LevelMild, LevelStrong, LevelEmergency}

func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "SAFE"
	case LevelMild:
		return "MILD"
	case LevelStrong:
		return "STRONG"
	case LevelEmergency:
		return "EMERGENCY"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	return l >= LevelSafe && l <= LevelEmergency
}

// MoreSevere reports whether l brakes harder than other.
func (l Level) MoreSevere(other Level) bool {
	return l > other
}

// Max returns the more severe of a and b.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// ParseLevel parses a level name. WARN and BRAKE are accepted as aliases
// for MILD and STRONG.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SAFE":
		return LevelSafe, nil
	case "MILD", "WARN":
		return LevelMild, nil
	case "STRONG", "BRAKE":
		return LevelStrong, nil
	case "EMERGENCY":
		return LevelEmergency, nil
	default:
		return LevelSafe, fmt.Errorf("unknown brake level %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so levels read naturally in
// JSON config and status output.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid brake level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
