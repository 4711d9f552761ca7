package speed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autobrake/internal/actuator"
	"github.com/banshee-data/autobrake/internal/config"
	"github.com/banshee-data/autobrake/internal/monitoring"
	"github.com/banshee-data/autobrake/internal/serialmux"
	"github.com/banshee-data/autobrake/internal/timeutil"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestParseTelemetry(t *testing.T) {
	tests := []struct {
		line    string
		wantOK  bool
		wantMPS float64
		wantRPM float64
	}{
		{"V:7.2", true, 2.0, 0},
		{"v: 3.6\r", true, 1.0, 0},
		{"V:-1.8", true, -0.5, 0},
		{"SPEED 10.8", true, 3.0, 0},
		{"SPEED", false, 0, 0},
		{"STAT rpm=120.5 v=1.25", true, 1.25, 120.5},
		{"STAT mode=NORMAL v=0.8 rpm=40", true, 0.8, 40},
		{"stat v=2", true, 2, 0},
		{"STAT rpm=120", false, 0, 0},
		{"OK A:150", false, 0, 0},
		{"EVT v=3", false, 0, 0},
		{"V:fast", false, 0, 0},
		{"", false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseTelemetry(tt.line)
			require.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.wantMPS, got.MPS, 1e-9)
			assert.InDelta(t, tt.wantRPM, got.RPM, 1e-9)
		})
	}
}

func newTestEstimator(src TelemetrySource, clock timeutil.Clock) *Estimator {
	return NewEstimator(config.Default().Speed, src, clock)
}

func TestObserve_SmoothsWithEMA(t *testing.T) {
	e := newTestEstimator(nil, timeutil.NewMockClock(t0))

	e.Observe(Telemetry{MPS: 2.0}, t0)
	assert.InDelta(t, 2.0, e.Snapshot().MPS, 1e-9, "first sample seeds the average")

	e.Observe(Telemetry{MPS: 4.0}, t0.Add(50*time.Millisecond))
	assert.InDelta(t, 2.6, e.Snapshot().MPS, 1e-9)

	e.Observe(Telemetry{MPS: -3.0}, t0.Add(100*time.Millisecond))
	assert.InDelta(t, 1.82, e.Snapshot().MPS, 1e-9, "negative speed clamps to zero before smoothing")
}

func TestObserve_StalePreviousIsDiscarded(t *testing.T) {
	e := newTestEstimator(nil, timeutil.NewMockClock(t0))
	e.Observe(Telemetry{MPS: 5.0}, t0)
	e.Observe(Telemetry{MPS: 1.0}, t0.Add(time.Second))
	assert.InDelta(t, 1.0, e.Snapshot().MPS, 1e-9)
}

func TestReading_Staleness(t *testing.T) {
	e := newTestEstimator(nil, timeutil.NewMockClock(t0))

	r := e.Reading(t0)
	assert.False(t, r.Known, "no sample yet")

	e.Observe(Telemetry{MPS: 1.5}, t0)
	r = e.Reading(t0.Add(500 * time.Millisecond))
	assert.True(t, r.Known)
	assert.InDelta(t, 1.5, r.MPS, 1e-9)

	r = e.Reading(t0.Add(501 * time.Millisecond))
	assert.False(t, r.Known)
	assert.Zero(t, r.MPS, "stale value must not leak")
	assert.Equal(t, 501*time.Millisecond, r.Age)
}

func TestReading_ZeroIsKnown(t *testing.T) {
	e := newTestEstimator(nil, timeutil.NewMockClock(t0))
	e.Observe(Telemetry{MPS: 0}, t0)
	r := e.Reading(t0)
	assert.True(t, r.Known)
	assert.Zero(t, r.MPS)
}

type scriptedSource struct {
	mu       sync.Mutex
	lines    []string
	err      error
	statReqs int
}

func (s *scriptedSource) Poll(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	if len(s.lines) == 0 {
		return "", false, nil
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, true, nil
}

func (s *scriptedSource) RequestStat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statReqs++
	return nil
}

func TestRun_PublishesFromTelemetry(t *testing.T) {
	src := &scriptedSource{lines: []string{"noise", "STAT rpm=10 v=1.0", "V:3.6"}}
	cfg := config.Default().Speed
	cfg.PollInterval = config.Duration{Duration: time.Millisecond}
	clock := timeutil.RealClock{}
	e := NewEstimator(cfg, src, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return e.Stats().Samples == 2
	}, time.Second, time.Millisecond)
	cancel()
	<-done

	r := e.Reading(clock.Now())
	assert.True(t, r.Known)
	assert.InDelta(t, 1.0, r.MPS, 1e-9)

	src.mu.Lock()
	assert.Positive(t, src.statReqs)
	src.mu.Unlock()
}

func TestRun_ErrorsDoNotStopPolling(t *testing.T) {
	original := monitoring.Logf
	var logged []string
	var mu sync.Mutex
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		logged = append(logged, format)
		mu.Unlock()
	})
	defer func() { monitoring.Logf = original }()

	src := &scriptedSource{err: errors.New("port closed")}
	cfg := config.Default().Speed
	cfg.PollInterval = config.Duration{Duration: time.Millisecond}
	e := NewEstimator(cfg, src, timeutil.RealClock{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	require.Eventually(t, func() bool { return e.Stats().Errors >= 3 }, time.Second, time.Millisecond)
	src.mu.Lock()
	src.err = nil
	src.lines = []string{"V:1.8"}
	src.mu.Unlock()
	require.Eventually(t, func() bool { return e.Stats().Samples == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"speed: telemetry poll failed: %v", "speed: telemetry poll recovered"}, logged)
}

// backloggedLink returns a Link whose mux has delivered lines to the link's
// subscription before any poll ran.
func backloggedLink(t *testing.T, ctx context.Context, clock timeutil.Clock, lines []string) *actuator.Link {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux("act", port)
	go func() { _ = mux.Monitor(ctx) }()
	link := actuator.NewLink(config.Default().Actuator, mux, clock)
	t.Cleanup(func() { _ = link.Close() })

	port.AddReadData([]byte(strings.Join(lines, "\n") + "\n"))
	require.Eventually(t, func() bool {
		return mux.Stats().Lines == uint64(len(lines))
	}, time.Second, time.Millisecond)
	return link
}

func TestPollOnce_BacklogYieldsNewestTelemetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := timeutil.NewMockClock(t0)

	// Two pushes per poll while moving at 36 km/h, then the vehicle stops.
	lines := make([]string, 0, 13)
	for i := 0; i < 12; i++ {
		lines = append(lines, "V:36.0")
	}
	lines = append(lines, "V:0.0")
	link := backloggedLink(t, ctx, clock, lines)

	cfg := config.Default().Speed
	cfg.RequestStat = false
	cfg.Alpha = 1
	e := NewEstimator(cfg, link, clock)

	require.NoError(t, e.pollOnce(ctx))
	r := e.Reading(clock.Now())
	assert.True(t, r.Known)
	assert.Zero(t, r.MPS)
	assert.Equal(t, uint64(1), e.Stats().Samples)

	// Nothing old is left to be stamped as current on the next poll.
	clock.Advance(cfg.Staleness.Duration + time.Millisecond)
	require.NoError(t, e.pollOnce(ctx))
	assert.False(t, e.Reading(clock.Now()).Known)
}

func TestPollOnce_StatRequestDiscardsBacklog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := timeutil.NewMockClock(t0)
	link := backloggedLink(t, ctx, clock, []string{"V:36.0", "V:36.0", "V:36.0"})

	cfg := config.Default().Speed
	cfg.RequestStat = true
	cfg.PollTimeout = config.Duration{Duration: 10 * time.Millisecond}
	e := NewEstimator(cfg, link, clock)

	// The controller never answers GET_STAT, so the stale pushes must not
	// produce a reading.
	require.NoError(t, e.pollOnce(ctx))
	assert.False(t, e.Reading(clock.Now()).Known)
	assert.Zero(t, e.Stats().Samples)
}
