package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autobrake/internal/brake"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

// The shipped defaults file must describe exactly the built-in defaults.
func TestDefaultsFileMatchesDefault(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)

	if diff := cmp.Diff(Default(), cfg, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("defaults file differs from Default() (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "partial.json", `{
		"safety": {"brake_ttc_s": 1.0, "brake_exit_frames": 4},
		"hysteresis": {"min_hold": "750ms"},
		"actuator": {"angles": {"SAFE": 310, "MILD": 160, "STRONG": 110, "EMERGENCY": 90}}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.Safety.BrakeTTCSeconds)
	assert.Equal(t, 4, cfg.Safety.BrakeExitFrames)
	assert.Equal(t, 1.7, cfg.Safety.WarnTTCSeconds, "omitted field keeps default")
	assert.Equal(t, 750*time.Millisecond, cfg.Hysteresis.MinHold.Duration)
	assert.Equal(t, 800*time.Millisecond, cfg.Hysteresis.DeescalationStable.Duration)
	assert.Equal(t, 90, cfg.Actuator.Angles[brake.LevelEmergency])
	assert.Equal(t, 20, cfg.Fusion.FrontGateDeg)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"bad json", "bad.json", `{"safety":`, "parse config JSON"},
		{"bad duration", "dur.json", `{"hysteresis":{"min_hold":"soon"}}`, "invalid duration"},
		{"numeric duration", "num.json", `{"hysteresis":{"min_hold":500}}`, "duration must be a string"},
		{"unknown level", "lvl.json", `{"actuator":{"angles":{"PANIC":1}}}`, "unknown brake level"},
		{"inverted ttc", "ttc.json", `{"safety":{"brake_ttc_s":2.0}}`, "brake_ttc_s"},
		{"emergency above brake", "emerg.json", `{"safety":{"emergency_ttc_s":1.5}}`, "emergency_ttc_s"},
		{"bad quantile", "q.json", `{"fusion":{"quantile":1.5}}`, "fusion.quantile"},
		{"bad source", "src.json", `{"sensor":{"source":"usb"}}`, "sensor.source"},
		{"replay without run", "rp.json", `{"sensor":{"source":"replay"}}`, "replay_run_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stat config file")
}

func TestLoadConfig_TooLarge(t *testing.T) {
	body := `{"pad":"` + strings.Repeat("x", maxConfigFileSize) + `"}`
	_, err := LoadConfig(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Safety.LostFramesToFail = 0
	cfg.Speed.Alpha = 0
	delete(cfg.Actuator.Angles, brake.LevelMild)

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"lost_frames_to_fail", "speed.alpha", "missing level MILD"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	d := Duration{1500 * time.Millisecond}
	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(b))

	var back Duration
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, d, back)
}

func TestConfigJSONStamp(t *testing.T) {
	s := Default().JSON()
	assert.Contains(t, s, `"brake_ttc_s":1.2`)
	assert.Contains(t, s, `"EMERGENCY":100`)
}
