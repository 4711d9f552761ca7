package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autobrake/internal/config"
)

// setFlag assigns a flag value for the duration of the test.
func setFlag[T any](t *testing.T, p *T, v T) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

func TestApplyOverrides(t *testing.T) {
	setFlag(t, actuatorPort, "/dev/ttyACM9")
	setFlag(t, sensorPort, "/dev/ttyUSB9")
	setFlag(t, scenario, "corner")
	setFlag(t, dbPath, "/tmp/x.db")
	setFlag(t, noRecord, true)

	cfg := config.Default()
	applyOverrides(cfg)
	assert.Equal(t, "/dev/ttyACM9", cfg.Actuator.Port)
	assert.Equal(t, "/dev/ttyUSB9", cfg.Sensor.Port)
	assert.Equal(t, "corner", cfg.Sensor.Scenario)
	assert.Equal(t, "serial", cfg.Sensor.Source)
	assert.Equal(t, "/tmp/x.db", cfg.Recorder.Path)
	assert.True(t, cfg.Recorder.Disabled)
}

func TestApplyOverrides_ReplayImpliesReplaySource(t *testing.T) {
	setFlag(t, source, "sim")
	setFlag(t, replayRun, "abc")

	cfg := config.Default()
	applyOverrides(cfg)
	assert.Equal(t, "replay", cfg.Sensor.Source)
	assert.Equal(t, "abc", cfg.Sensor.ReplayRunID)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autobrake.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sensor": {"source": "sim", "scenario": "dropout"}}`), 0o644))
	setFlag(t, configPath, path)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sim", cfg.Sensor.Source)
	assert.Equal(t, "dropout", cfg.Sensor.Scenario)
	assert.Equal(t, config.Default().Control, cfg.Control)

	setFlag(t, configPath, filepath.Join(t.TempDir(), "missing.json"))
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestPortListAndSweep(t *testing.T) {
	assert.Equal(t, []string{"/dev/a", "/dev/b", "/dev/c"}, portList("/dev/a", []string{"/dev/b", "/dev/c"}))
	assert.Equal(t, []string{"/dev/a"}, portList("/dev/a", nil))

	assert.Equal(t, []int{300, 100, 300}, sweepAngles(config.Default().Actuator))
}
