package sensor

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/banshee-data/autobrake/internal/fusion"
	"github.com/banshee-data/autobrake/internal/timeutil"
	"github.com/banshee-data/autobrake/internal/units"
)

// Simulator scenarios.
const (
	ScenarioSafe     = "safe"     // steady obstacle well beyond the warning range
	ScenarioApproach = "approach" // obstacle closes from 2 m to 0.3 m over 3 s, then the vehicle stops
	ScenarioDropout  = "dropout"  // oscillating obstacle with one frame in five lost
	ScenarioCorner   = "corner"   // open road with a post closing in to the right of the heading
)

// Scenarios lists the simulator scenarios.
var Scenarios = []string{ScenarioSafe, ScenarioApproach, ScenarioDropout, ScenarioCorner}

const (
	simOpenMM      = 7000.0
	simLeftWallMM  = 1500.0
	simRightWallMM = 1800.0
	simFrontHalf   = 25
	simPostDeg     = 35
	simNoiseMM     = 8.0
)

// scene is the simulated world at one instant.
type scene struct {
	frontMM  float64
	hasFront bool
	postMM   float64 // corner post, 0 when absent
	speedMPS float64
}

// SimSource synthesises full scans for a scenario as a function of time
// since Start. It also answers speed polls so a dry run needs no hardware.
type SimSource struct {
	scenario string
	clock    timeutil.Clock

	mu      sync.Mutex
	rng     *rand.Rand
	start   time.Time
	started bool
}

// NewSimSource returns a simulator for scenario.
func NewSimSource(scenario string, clock timeutil.Clock) (*SimSource, error) {
	switch scenario {
	case ScenarioSafe, ScenarioApproach, ScenarioDropout, ScenarioCorner:
	default:
		return nil, fmt.Errorf("sensor: unknown scenario %q", scenario)
	}
	return &SimSource{
		scenario: scenario,
		clock:    clock,
		rng:      rand.New(rand.NewPCG(1, 2)),
	}, nil
}

func (s *SimSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.start = s.clock.Now()
		s.started = true
	}
	return ctx.Err()
}

func (s *SimSource) sceneAt(t float64) scene {
	switch s.scenario {
	case ScenarioSafe:
		return scene{frontMM: 2000 + 200*math.Sin(t/5), hasFront: true, speedMPS: 0.8}
	case ScenarioApproach:
		if t < 3 {
			return scene{frontMM: 2000 - 600*t, hasFront: true, speedMPS: 0.6}
		}
		return scene{frontMM: 300 + 100*math.Sin(2*t), hasFront: true}
	case ScenarioDropout:
		return scene{frontMM: 1000 + 500*math.Sin(t), hasFront: true, speedMPS: 0.5}
	default: // corner
		return scene{postMM: math.Max(3500-1500*t, 600), speedMPS: 1.5}
	}
}

func (s *SimSource) Read(ctx context.Context, b Budget) ([]fusion.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, errNotStarted
	}

	if s.scenario == ScenarioDropout && s.rng.Float64() < 0.2 {
		return nil, ErrTimeout
	}
	sc := s.sceneAt(s.clock.Since(s.start).Seconds())

	out := make([]fusion.Sample, 0, min(b.MaxPoints, fusion.Degrees))
	for deg := 0; deg < fusion.Degrees && len(out) < b.MaxPoints; deg++ {
		d := simOpenMM
		signed := fusion.SignedDeg(deg)
		switch {
		case sc.hasFront && signed >= -simFrontHalf && signed <= simFrontHalf:
			d = sc.frontMM
		case sc.postMM > 0 && signed >= simPostDeg-1 && signed <= simPostDeg+1:
			d = sc.postMM
		case deg >= 45 && deg <= 90:
			d = simLeftWallMM
		case deg >= 270 && deg <= 315:
			d = simRightWallMM
		}
		out = append(out, fusion.Sample{AngleDeg: float64(deg), DistanceMM: d + s.rng.NormFloat64()*simNoiseMM})
	}
	return out, nil
}

// Poll reports the scenario speed as a V: telemetry line.
func (s *SimSource) Poll(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return "", false, nil
	}
	sc := s.sceneAt(s.clock.Since(s.start).Seconds())
	return fmt.Sprintf("V:%.2f", units.MPSToKMH(sc.speedMPS)), true, nil
}

func (s *SimSource) Stop() error { return nil }

func (s *SimSource) Close() error { return nil }
