package config

import (
	"errors"
	"fmt"

	"github.com/banshee-data/autobrake/internal/brake"
)

// Validate checks that the thresholds are internally consistent. All
// problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	f := c.Fusion
	check(f.FrontGateDeg > 0 && f.FrontGateDeg <= 180, "fusion.front_gate_deg must be in (0,180], got %d", f.FrontGateDeg)
	check(f.FallbackHalfDeg >= f.FrontGateDeg && f.FallbackHalfDeg <= 180, "fusion.fallback_half_deg must be in [front_gate_deg,180], got %d", f.FallbackHalfDeg)
	check(f.NearCutoffMM >= 0 && f.NearCutoffMM < f.MaxDistMM, "fusion.near_cutoff_mm must be in [0,max_dist_mm), got %v", f.NearCutoffMM)
	check(f.DistMinMM > 0 && f.DistMinMM < f.DistMaxMM, "fusion.dist_min_mm must be positive and below dist_max_mm")
	check(f.MinInliers >= 1, "fusion.min_inliers must be at least 1, got %d", f.MinInliers)
	check(f.Quantile >= 0 && f.Quantile <= 1, "fusion.quantile must be in [0,1], got %v", f.Quantile)
	check(f.SmoothWindow >= 1, "fusion.smooth_window must be at least 1, got %d", f.SmoothWindow)
	check(f.HoldLast.Duration >= 0, "fusion.hold_last must not be negative")
	for name, s := range map[string]Sector{"front": f.FrontSector, "left": f.LeftSector, "right": f.RightSector} {
		check(validDegree(s.FromDeg) && validDegree(s.ToDeg), "fusion.%s_sector degrees must be in [0,360)", name)
	}

	k := c.Corner
	check(k.HalfSectorDeg > 0 && k.HalfSectorDeg <= 180, "corner.half_sector_deg must be in (0,180], got %d", k.HalfSectorDeg)
	check(k.NeighborOffsetDeg >= 1 && k.NeighborOffsetDeg < k.HalfSectorDeg, "corner.neighbor_offset_deg must be in [1,half_sector_deg), got %d", k.NeighborOffsetDeg)
	check(k.MinProminenceMM >= 0 && k.GradientMM >= 0, "corner prominence and gradient thresholds must not be negative")
	check(k.MinCornerMM >= 0 && k.MinCornerMM <= k.MaxCornerMM, "corner.min_corner_mm must be in [0,max_corner_mm]")
	check(k.ActivationSpeedMPS >= 0, "corner.activation_speed_mps must not be negative")
	check(k.StrongDistanceMM <= k.SlowDistanceMM, "corner.strong_distance_mm must not exceed slow_distance_mm")
	check(k.SlowTTCSeconds >= 0, "corner.slow_ttc_s must not be negative")
	check(k.ApproachRateMMPS >= 0, "corner.approach_rate_mmps must not be negative")
	check(k.HoldOff.Duration >= 0, "corner.hold_off must not be negative")

	s := c.Safety
	check(s.BrakeTTCSeconds > 0 && s.BrakeTTCSeconds <= s.WarnTTCSeconds, "safety.brake_ttc_s must be in (0,warn_ttc_s]")
	check(s.EmergencyTTCSeconds >= 0 && s.EmergencyTTCSeconds <= s.BrakeTTCSeconds, "safety.emergency_ttc_s must be in [0,brake_ttc_s]")
	check(s.TTCCapSeconds >= s.WarnTTCSeconds*s.WarnMargin, "safety.ttc_cap_s must be at least warn_ttc_s*warn_margin")
	check(s.WarnMargin >= 1, "safety.warn_margin must be at least 1, got %v", s.WarnMargin)
	check(s.BrakeDistanceMM > 0 && s.BrakeDistanceMM <= s.ReleaseDistanceMM, "safety.brake_distance_mm must be in (0,release_distance_mm]")
	check(s.DistFloorMM >= 0, "safety.dist_floor_mm must not be negative")
	check(s.VZeroMPS >= 0, "safety.v_zero_mps must not be negative")
	check(s.LostFramesToFail >= 1, "safety.lost_frames_to_fail must be at least 1")
	check(s.OkFramesToRecover >= 1, "safety.ok_frames_to_recover must be at least 1")
	check(s.BrakeExitFrames >= 1, "safety.brake_exit_frames must be at least 1")

	h := c.Hysteresis
	check(h.MinHold.Duration >= 0 && h.DeescalationStable.Duration >= 0 && h.Actuation.Duration >= 0, "hysteresis windows must not be negative")
	check(h.EmergencyClearSpeedMPS >= 0, "hysteresis.emergency_clear_speed_mps must not be negative")
	check(h.EmergencyClearStable.Duration >= 0, "hysteresis.emergency_clear_stable must not be negative")

	v := c.Speed
	check(v.PollInterval.Duration > 0, "speed.poll_interval must be positive")
	check(v.PollTimeout.Duration > 0, "speed.poll_timeout must be positive")
	check(v.Staleness.Duration > 0, "speed.staleness must be positive")
	check(v.Alpha > 0 && v.Alpha <= 1, "speed.alpha must be in (0,1], got %v", v.Alpha)

	l := c.Control
	check(l.Period.Duration > 0, "control.period must be positive")
	check(l.MaxPoints >= 1, "control.max_points must be at least 1")
	check(l.BatchWindow.Duration > 0 && l.BatchWindow.Duration <= l.Period.Duration, "control.batch_window must be in (0,period]")
	check(l.HeartbeatInterval.Duration >= 0, "control.heartbeat_interval must not be negative")
	check(l.CornerSpeedCapKMH >= 0, "control.corner_speed_cap_kmh must not be negative")

	a := c.Actuator
	check(a.BaudRate > 0, "actuator.baud_rate must be positive")
	check(a.MinInterval.Duration >= 0, "actuator.min_interval must not be negative")
	for _, lvl := range brake.Levels {
		_, ok := a.Angles[lvl]
		check(ok, "actuator.angles is missing level %s", lvl)
	}

	n := c.Sensor
	switch n.Source {
	case "serial":
		check(n.Port != "" || len(n.FallbackPorts) > 0, "sensor.port is required for the serial source")
		check(n.BaudRate > 0, "sensor.baud_rate must be positive")
	case "sim":
		check(n.Scenario != "", "sensor.scenario is required for the sim source")
	case "replay":
		check(n.ReplayRunID != "", "sensor.replay_run_id is required for the replay source")
	default:
		errs = append(errs, fmt.Errorf("sensor.source must be serial, sim or replay, got %q", n.Source))
	}
	switch n.ReplayEndPolicy {
	case "stop", "hold", "loop":
	default:
		errs = append(errs, fmt.Errorf("sensor.replay_end_policy must be stop, hold or loop, got %q", n.ReplayEndPolicy))
	}
	check(n.MaxGapFrames >= 0, "sensor.max_gap_frames must not be negative")

	r := c.Recorder
	check(r.Disabled || r.Path != "", "recorder.path is required unless the recorder is disabled")
	check(r.Buffer >= 1, "recorder.buffer must be at least 1")

	return errors.Join(errs...)
}

func validDegree(d int) bool {
	return d >= 0 && d < 360
}
