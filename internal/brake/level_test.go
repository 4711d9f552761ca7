package brake

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelOrdering(t *testing.T) {
	for i := 1; i < len(Levels); i++ {
		assert.True(t, Levels[i].MoreSevere(Levels[i-1]), "%s should be more severe than %s", Levels[i], Levels[i-1])
		assert.False(t, Levels[i-1].MoreSevere(Levels[i]))
	}
	assert.Equal(t, LevelStrong, Max(LevelMild, LevelStrong))
	assert.Equal(t, LevelEmergency, Max(LevelEmergency, LevelSafe))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"SAFE", LevelSafe},
		{"mild", LevelMild},
		{"WARN", LevelMild},
		{" strong ", LevelStrong},
		{"BRAKE", LevelStrong},
		{"EMERGENCY", LevelEmergency},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("PANIC")
	assert.Error(t, err)
}

func TestLevelJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Level{"level": LevelStrong})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"STRONG"}`, string(b))

	var out map[string]Level
	require.NoError(t, json.Unmarshal([]byte(`{"level":"EMERGENCY"}`), &out))
	assert.Equal(t, LevelEmergency, out["level"])

	_, err = json.Marshal(Level(9))
	assert.Error(t, err)
}
