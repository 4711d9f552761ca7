// Package config holds every tunable threshold of the braking controller in
// one structure. The document is loaded once at process start; components
// receive their section at construction and never read config globally.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/autobrake/internal/brake"
)

// DefaultConfigPath is the path to the shipped defaults file. It mirrors
// Default() and exists so operators have a complete document to edit.
const DefaultConfigPath = "config/autobrake.defaults.json"

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration document.
type Config struct {
	Fusion     FusionConfig     `json:"fusion"`
	Corner     CornerConfig     `json:"corner"`
	Safety     SafetyConfig     `json:"safety"`
	Hysteresis HysteresisConfig `json:"hysteresis"`
	Speed      SpeedConfig      `json:"speed"`
	Control    ControlConfig    `json:"control"`
	Actuator   ActuatorConfig   `json:"actuator"`
	Sensor     SensorConfig     `json:"sensor"`
	Recorder   RecorderConfig   `json:"recorder"`
}

// Sector is an inclusive angular window in degrees. FromDeg > ToDeg wraps
// through 0 (e.g. 335..25).
type Sector struct {
	FromDeg int `json:"from_deg"`
	ToDeg   int `json:"to_deg"`
}

// FusionConfig tunes range fusion.
type FusionConfig struct {
	FrontGateDeg    int      `json:"front_gate_deg"`    // half-width of the front gate
	FallbackHalfDeg int      `json:"fallback_half_deg"` // half-width of the fallback sector
	NearCutoffMM    float64  `json:"near_cutoff_mm"`    // samples closer than this are housing/ground reflections
	MaxDistMM       float64  `json:"max_dist_mm"`
	DistMinMM       float64  `json:"dist_min_mm"` // clamp floor of fused distances
	DistMaxMM       float64  `json:"dist_max_mm"` // clamp ceiling of fused distances
	AngleOffsetDeg  float64  `json:"angle_offset_deg"`
	MinInliers      int      `json:"min_inliers"`
	Quantile        float64  `json:"quantile"`
	SmoothWindow    int      `json:"smooth_window"`
	HoldLast        Duration `json:"hold_last"`
	FrontSector     Sector   `json:"front_sector"`
	LeftSector      Sector   `json:"left_sector"`
	RightSector     Sector   `json:"right_sector"`
}

// CornerConfig tunes corner detection and approach classification.
type CornerConfig struct {
	HalfSectorDeg      int      `json:"half_sector_deg"`
	NeighborOffsetDeg  int      `json:"neighbor_offset_deg"`
	MinProminenceMM    float64  `json:"min_prominence_mm"`
	GradientMM         float64  `json:"gradient_mm"`
	MinCornerMM        float64  `json:"min_corner_mm"`
	MaxCornerMM        float64  `json:"max_corner_mm"`
	ActivationSpeedMPS float64  `json:"activation_speed_mps"`
	SlowDistanceMM     float64  `json:"slow_distance_mm"`
	StrongDistanceMM   float64  `json:"strong_distance_mm"`
	SlowTTCSeconds     float64  `json:"slow_ttc_s"`
	ApproachGainMM     float64  `json:"approach_gain_mm"`
	ApproachRateMMPS   float64  `json:"approach_rate_mmps"` // 0 disables the sector closing-rate trigger
	HoldOff            Duration `json:"hold_off"`
	VZeroMPS           float64  `json:"v_zero_mps"`
}

// SafetyConfig tunes the safety state machine.
type SafetyConfig struct {
	WarnTTCSeconds      float64   `json:"warn_ttc_s"`
	BrakeTTCSeconds     float64   `json:"brake_ttc_s"`
	// EmergencyTTCSeconds must sit well inside the BRAKE band. A value
	// equal to brake_ttc_s would make every BRAKE entry an EMERGENCY latch.
	EmergencyTTCSeconds float64   `json:"emergency_ttc_s"`
	TTCCapSeconds       float64   `json:"ttc_cap_s"`
	WarnMargin          float64   `json:"warn_margin"`
	BrakeDistanceMM     float64   `json:"brake_distance_mm"`
	ReleaseDistanceMM   float64   `json:"release_distance_mm"`
	DistFloorMM         float64   `json:"dist_floor_mm"`
	VZeroMPS            float64   `json:"v_zero_mps"`
	LostFramesToFail    int       `json:"lost_frames_to_fail"`
	OkFramesToRecover   int       `json:"ok_frames_to_recover"`
	BrakeExitFrames     int       `json:"brake_exit_frames"`
	Setpoints           Setpoints `json:"setpoints"`
}

// Setpoints are the servo degrees reported for each safety state.
type Setpoints struct {
	SafeDeg      int `json:"safe_deg"`
	WarnDeg      int `json:"warn_deg"`
	BrakeDeg     int `json:"brake_deg"`
	EmergencyDeg int `json:"emergency_deg"`
	FailsafeDeg  int `json:"failsafe_deg"`
}

// HysteresisConfig tunes actuation hysteresis and the emergency latch.
type HysteresisConfig struct {
	MinHold                Duration `json:"min_hold"`
	DeescalationStable     Duration `json:"deescalation_stable"`
	Actuation              Duration `json:"actuation"`
	EmergencyClearSpeedMPS float64  `json:"emergency_clear_speed_mps"`
	EmergencyClearStable   Duration `json:"emergency_clear_stable"`
}

// SpeedConfig tunes the speed estimator.
type SpeedConfig struct {
	PollInterval Duration `json:"poll_interval"`
	PollTimeout  Duration `json:"poll_timeout"`
	Staleness    Duration `json:"staleness"`
	Alpha        float64  `json:"alpha"`
	RequestStat  bool     `json:"request_stat"` // send GET_STAT before each poll instead of relying on pushed lines
}

// ControlConfig tunes the orchestrator loop.
type ControlConfig struct {
	Period            Duration `json:"period"`
	MaxPoints         int      `json:"max_points"`
	BatchWindow       Duration `json:"batch_window"`
	HeartbeatInterval Duration `json:"heartbeat_interval"` // 0 disables HB
	CornerSpeedCapKMH int      `json:"corner_speed_cap_kmh"`
	StartupCheck      bool     `json:"startup_check"`
}

// ActuatorConfig describes the brake controller link.
type ActuatorConfig struct {
	Port          string              `json:"port"`
	FallbackPorts []string            `json:"fallback_ports"`
	BaudRate      int                 `json:"baud_rate"`
	MinInterval   Duration            `json:"min_interval"`
	Angles        map[brake.Level]int `json:"angles"`
}

// SensorConfig selects and describes the range source.
type SensorConfig struct {
	Source          string   `json:"source"` // serial, sim or replay
	Port            string   `json:"port"`
	FallbackPorts   []string `json:"fallback_ports"`
	BaudRate        int      `json:"baud_rate"`
	MotorPWM        int      `json:"motor_pwm"`
	Scenario        string   `json:"scenario"`
	ReplayRunID     string   `json:"replay_run_id"`
	ReplayEndPolicy string   `json:"replay_end_policy"`
	MaxGapFrames    int      `json:"max_gap_frames"`
}

// RecorderConfig describes the tick log.
type RecorderConfig struct {
	Path     string `json:"path"`
	Buffer   int    `json:"buffer"`
	Disabled bool   `json:"disabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Fusion: FusionConfig{
			FrontGateDeg:    20,
			FallbackHalfDeg: 90,
			NearCutoffMM:    120,
			MaxDistMM:       8000,
			DistMinMM:       100,
			DistMaxMM:       10000,
			MinInliers:      12,
			Quantile:        0.20,
			SmoothWindow:    3,
			HoldLast:        Duration{300 * time.Millisecond},
			FrontSector:     Sector{FromDeg: 335, ToDeg: 25},
			LeftSector:      Sector{FromDeg: 45, ToDeg: 90},
			RightSector:     Sector{FromDeg: 270, ToDeg: 315},
		},
		Corner: CornerConfig{
			HalfSectorDeg:      90,
			NeighborOffsetDeg:  2,
			MinProminenceMM:    300,
			GradientMM:         400,
			MinCornerMM:        300,
			MaxCornerMM:        5000,
			ActivationSpeedMPS: 2.0 / 3.6,
			SlowDistanceMM:     6000,
			StrongDistanceMM:   3000,
			SlowTTCSeconds:     3.0,
			ApproachGainMM:     150,
			ApproachRateMMPS:   1000,
			HoldOff:            Duration{300 * time.Millisecond},
			VZeroMPS:           0.05,
		},
		Safety: SafetyConfig{
			WarnTTCSeconds:      1.7,
			BrakeTTCSeconds:     1.2,
			EmergencyTTCSeconds: 0.25,
			TTCCapSeconds:       6.0,
			WarnMargin:          1.1,
			BrakeDistanceMM:     600,
			ReleaseDistanceMM:   1000,
			DistFloorMM:         1,
			VZeroMPS:            0.05,
			LostFramesToFail:    3,
			OkFramesToRecover:   2,
			BrakeExitFrames:     2,
			Setpoints: Setpoints{
				SafeDeg:      0,
				WarnDeg:      100,
				BrakeDeg:     140,
				EmergencyDeg: 180,
				FailsafeDeg:  140,
			},
		},
		Hysteresis: HysteresisConfig{
			MinHold:                Duration{500 * time.Millisecond},
			DeescalationStable:     Duration{800 * time.Millisecond},
			Actuation:              Duration{300 * time.Millisecond},
			EmergencyClearSpeedMPS: 0.5 / 3.6,
			EmergencyClearStable:   Duration{time.Second},
		},
		Speed: SpeedConfig{
			PollInterval: Duration{50 * time.Millisecond},
			PollTimeout:  Duration{120 * time.Millisecond},
			Staleness:    Duration{500 * time.Millisecond},
			Alpha:        0.3,
			RequestStat:  true,
		},
		Control: ControlConfig{
			Period:            Duration{50 * time.Millisecond},
			MaxPoints:         800,
			BatchWindow:       Duration{35 * time.Millisecond},
			HeartbeatInterval: Duration{500 * time.Millisecond},
			CornerSpeedCapKMH: 10,
		},
		Actuator: ActuatorConfig{
			Port:          "/dev/ttyACM0",
			FallbackPorts: []string{"/dev/ttyACM1", "/dev/ttyUSB1"},
			BaudRate:      115200,
			MinInterval:   Duration{50 * time.Millisecond},
			Angles: map[brake.Level]int{
				brake.LevelSafe:      300,
				brake.LevelMild:      150,
				brake.LevelStrong:    100,
				brake.LevelEmergency: 100,
			},
		},
		Sensor: SensorConfig{
			Source:          "serial",
			Port:            "/dev/ttyUSB0",
			FallbackPorts:   []string{"/dev/ttyUSB1", "/dev/ttyAMA0"},
			BaudRate:        460800,
			MotorPWM:        650,
			Scenario:        "approach",
			ReplayEndPolicy: "stop",
			MaxGapFrames:    5,
		},
		Recorder: RecorderConfig{
			Path:   "autobrake.db",
			Buffer: 256,
		},
	}
}

// LoadConfig loads a Config from a JSON file. Fields omitted from the file
// keep their Default() values, so partial configs are safe.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// JSON returns the configuration as compact JSON, used to stamp recorded runs.
func (c *Config) JSON() string {
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(b)
}
