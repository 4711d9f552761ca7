package actuator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autobrake/internal/brake"
	"github.com/banshee-data/autobrake/internal/config"
	"github.com/banshee-data/autobrake/internal/serialmux"
	"github.com/banshee-data/autobrake/internal/timeutil"
)

var epoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestLink(t *testing.T) (*Link, *serialmux.TestableSerialPort, *timeutil.MockClock) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux("act", port)
	clock := timeutil.NewMockClock(epoch)
	l := NewLink(config.Default().Actuator, mux, clock)
	t.Cleanup(func() { _ = l.Close() })
	return l, port, clock
}

func written(port *serialmux.TestableSerialPort) []string {
	s := strings.TrimSuffix(string(port.GetWrittenData()), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestSendLevel_MapsToAngle(t *testing.T) {
	l, port, clock := newTestLink(t)

	for _, lvl := range brake.Levels {
		require.NoError(t, l.SendLevel(lvl))
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, []string{"A:300", "A:150", "A:100", "A:100"}, written(port))
}

func TestSendLevel_Unmapped(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	cfg := config.Default().Actuator
	cfg.Angles = map[brake.Level]int{brake.LevelSafe: 300}
	l := NewLink(cfg, serialmux.NewSerialMux("act", port), timeutil.NewMockClock(epoch))

	assert.ErrorContains(t, l.SendLevel(brake.LevelMild), "no angle configured")
	assert.Empty(t, written(port))
}

func TestSendAngle_Coalescing(t *testing.T) {
	l, port, clock := newTestLink(t)

	require.NoError(t, l.SendAngle(150, false))
	require.NoError(t, l.SendAngle(150, false)) // same value, inside 50ms
	clock.Advance(20 * time.Millisecond)
	require.NoError(t, l.SendAngle(100, false)) // different value goes out
	require.NoError(t, l.SendAngle(100, true))  // forced
	clock.Advance(50 * time.Millisecond)
	require.NoError(t, l.SendAngle(100, false)) // interval elapsed

	assert.Equal(t, []string{"A:150", "A:100", "A:100", "A:100"}, written(port))
	assert.Equal(t, uint64(1), l.Stats().Coalesced)
	assert.Equal(t, uint64(4), l.Stats().Sent)

	angle, ok := l.LastAngle()
	assert.True(t, ok)
	assert.Equal(t, 100, angle)
}

func TestSendAngle_FailureDoesNotCoalesce(t *testing.T) {
	l, port, _ := newTestLink(t)
	boom := errors.New("unplugged")
	port.SetWriteError(boom)

	err := l.SendAngle(300, false)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "A:300")
	_, ok := l.LastAngle()
	assert.False(t, ok)

	port.SetWriteError(nil)
	require.NoError(t, l.SendAngle(300, false))
	assert.Equal(t, []string{"A:300"}, written(port))
	assert.Equal(t, uint64(1), l.Stats().Failed)
}

func TestCommands(t *testing.T) {
	l, port, _ := newTestLink(t)

	require.NoError(t, l.SetDegrees(140))
	require.NoError(t, l.SendPulse(1500))
	require.NoError(t, l.SetMode(ModeCorner))
	require.NoError(t, l.SpeedCap(10))
	require.NoError(t, l.Command(CmdSlow))
	require.NoError(t, l.Heartbeat())
	require.NoError(t, l.Ping())
	require.NoError(t, l.Quiet(true))
	require.NoError(t, l.Quiet(false))
	require.NoError(t, l.RequestStat())
	require.NoError(t, l.RequestMap())

	assert.Equal(t, []string{
		"SET_DEG 140", "SET_US 1500", "MODE CORNER", "SPD_CAP 10", "CMD SLOW",
		"HB", "PING", "QUIET 1", "QUIET 0", "GET_STAT", "GET MAP",
	}, written(port))
	assert.Equal(t, ModeCorner, l.Mode())
}

func TestCommands_RejectBadArguments(t *testing.T) {
	l, port, _ := newTestLink(t)

	assert.Error(t, l.SetDegrees(-1))
	assert.Error(t, l.SetDegrees(361))
	assert.Error(t, l.SendPulse(400))
	assert.Error(t, l.SendPulse(2600))
	assert.Error(t, l.SetMode(Mode("SPORT")))
	assert.Error(t, l.Command("HONK"))
	assert.Error(t, l.SpeedCap(-5))
	assert.Empty(t, written(port))
	assert.Equal(t, ModeNormal, l.Mode())
}

func TestHandshake(t *testing.T) {
	l, port, _ := newTestLink(t)
	require.NoError(t, l.Handshake(true))
	assert.Equal(t, []string{"PING", "QUIET 1", "GET MAP"}, written(port))
}

func TestNeutralize(t *testing.T) {
	l, port, _ := newTestLink(t)
	require.NoError(t, l.SetMode(ModeCorner))
	require.NoError(t, l.SendAngle(300, false))

	// Forced even though A:300 was just sent.
	require.NoError(t, l.Neutralize())
	assert.Equal(t, []string{"MODE CORNER", "A:300", "A:300", "MODE NORMAL"}, written(port))
	assert.Equal(t, ModeNormal, l.Mode())
}

func TestSweepCheck(t *testing.T) {
	l, port, clock := newTestLink(t)

	done := make(chan error, 1)
	go func() { done <- l.SweepCheck(context.Background(), []int{300, 100, 300}, 800*time.Millisecond) }()

	for i := 0; i < 3; i++ {
		require.True(t, clock.WaitForTimer(time.Second))
		clock.Advance(800 * time.Millisecond)
	}
	require.NoError(t, <-done)
	assert.Equal(t, []string{"A:300", "A:100", "A:300"}, written(port))
}

func TestSweepCheck_Cancelled(t *testing.T) {
	l, port, clock := newTestLink(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.SweepCheck(ctx, []int{300, 100}, time.Second) }()

	require.True(t, clock.WaitForTimer(time.Second))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []string{"A:300"}, written(port))
}

func TestPoll_ReturnsTelemetryOnly(t *testing.T) {
	l, port, _ := newTestLink(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.mux.Monitor(ctx) }()

	port.AddReadData([]byte("ACK HB\nEVENT BRAKE\nV:7.2\n"))

	pctx, pcancel := context.WithTimeout(ctx, time.Second)
	defer pcancel()
	line, ok, err := l.Poll(pctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "V:7.2", line)
	assert.Equal(t, uint64(1), l.Stats().Events)
}

func TestDrain_ReturnsNewestTelemetry(t *testing.T) {
	l, port, _ := newTestLink(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.mux.Monitor(ctx) }()

	line, ok, err := l.Drain()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, line)

	port.AddReadData([]byte("V:1.0\nEVENT BRAKE\nV:2.0\nACK HB\n"))
	require.Eventually(t, func() bool { return l.mux.Stats().Lines == 4 }, time.Second, time.Millisecond)

	line, ok, err = l.Drain()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "V:2.0", line)
	assert.Equal(t, uint64(1), l.Stats().Events)

	_, ok, err = l.Drain()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPoll_TimesOut(t *testing.T) {
	l, _, _ := newTestLink(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok, err := l.Poll(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	l, port, _ := newTestLink(t)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Heartbeat(), ErrLinkClosed)
	_, ok, err := l.Poll(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLinkClosed)
	assert.Empty(t, written(port))
}
