package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/autobrake/internal/brake"
	"github.com/banshee-data/autobrake/internal/db"
	"github.com/banshee-data/autobrake/internal/safety"
)

// Status is the immutable summary of one tick.
type Status struct {
	Seq   uint64       `json:"seq"`
	At    time.Time    `json:"at"`
	State safety.State `json:"state"`
	Level brake.Level  `json:"level"` // requested this tick
	Sent  brake.Level  `json:"sent"`  // in force at the actuator
	Sends bool         `json:"sends"` // false until the actuator accepted a level

	DistanceMM  float64 `json:"distance_mm"`
	HasDistance bool    `json:"has_distance"`
	Held        bool    `json:"held"`
	Inliers     int     `json:"inliers"`
	Fallback    bool    `json:"fallback"`

	SpeedMPS   float64 `json:"speed_mps"`
	SpeedKnown bool    `json:"speed_known"`
	TTC        float64 `json:"ttc_s"`
	HasTTC     bool    `json:"has_ttc"`

	CornerActive     bool        `json:"corner_active"`
	CornerLevel      brake.Level `json:"corner_level"`
	CornerAngleDeg   int         `json:"corner_angle_deg"`
	CornerDistanceMM float64     `json:"corner_distance_mm"`
	HasCorner        bool        `json:"has_corner"`

	ImbalanceMM float64 `json:"imbalance_mm"`
	Latched     bool    `json:"latched"`
	Pending     bool    `json:"pending"`
	Reason      string  `json:"reason"`
	SensorErr   string  `json:"sensor_error,omitempty"`
}

func optMM(v float64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.2fm", v/1000)
}

// String renders the per-tick status line.
func (s Status) String() string {
	var b strings.Builder
	v := "-"
	if s.SpeedKnown {
		v = fmt.Sprintf("%.1fkm/h", s.SpeedMPS*3.6)
	}
	ttc := "-"
	if s.HasTTC {
		ttc = fmt.Sprintf("%.2fs", s.TTC)
	}
	d := optMM(s.DistanceMM, s.HasDistance)
	if s.Held {
		d += "(held)"
	}
	fmt.Fprintf(&b, "[STATE] #%d v=%s d_min=%s TTC=%s level=%s state=%s", s.Seq, v, d, ttc, s.Level, s.State)
	if s.Sends {
		fmt.Fprintf(&b, " sent=%s", s.Sent)
	}
	if s.Latched {
		b.WriteString(" latched")
	}
	if s.HasCorner {
		fmt.Fprintf(&b, " corner=%+d°@%s", s.CornerAngleDeg, optMM(s.CornerDistanceMM, true))
		if s.CornerActive {
			fmt.Fprintf(&b, "(%s)", s.CornerLevel)
		}
	}
	if s.ImbalanceMM != 0 {
		fmt.Fprintf(&b, " imbalance=%+.0fmm", s.ImbalanceMM)
	}
	if s.SensorErr != "" {
		fmt.Fprintf(&b, " sensor_err=%q", s.SensorErr)
	}
	fmt.Fprintf(&b, " reason=%q", s.Reason)
	return b.String()
}

// Tick converts the status into a tick log row.
func (s Status) Tick(runID string) db.Tick {
	return db.Tick{
		RunID:            runID,
		Seq:              s.Seq,
		At:               s.At,
		State:            s.State.String(),
		Level:            s.Level.String(),
		DistanceMM:       s.DistanceMM,
		HasDistance:      s.HasDistance,
		SpeedMPS:         s.SpeedMPS,
		HasSpeed:         s.SpeedKnown,
		TTC:              s.TTC,
		HasTTC:           s.HasTTC,
		CornerAngleDeg:   s.CornerAngleDeg,
		CornerDistanceMM: s.CornerDistanceMM,
		HasCorner:        s.HasCorner,
		EmergencyLatched: s.Latched,
		Reason:           s.Reason,
	}
}
