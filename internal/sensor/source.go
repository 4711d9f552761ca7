// Package sensor provides range sources for the control loop: a serial scan
// bridge, a deterministic simulator and a replay of a recorded run.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/autobrake/internal/config"
	"github.com/banshee-data/autobrake/internal/db"
	"github.com/banshee-data/autobrake/internal/fusion"
	"github.com/banshee-data/autobrake/internal/serialmux"
	"github.com/banshee-data/autobrake/internal/timeutil"
)

var (
	// ErrTimeout is returned by Read when the budget elapses with no samples.
	ErrTimeout = errors.New("sensor: no samples within budget")
	// ErrExhausted is returned by a replay that has reached its end under the
	// stop policy.
	ErrExhausted = errors.New("sensor: replay exhausted")

	errNotStarted = errors.New("sensor: read before start")
)

// Budget bounds one Read.
type Budget struct {
	MaxPoints int
	Window    time.Duration
}

// Source yields batches of range samples.
type Source interface {
	// Start spins the sensor up. It must be called before Read.
	Start(ctx context.Context) error
	// Read returns up to b.MaxPoints samples gathered within b.Window.
	// It returns ErrTimeout when the window passes with nothing, and
	// ctx.Err() when ctx ends first.
	Read(ctx context.Context, b Budget) ([]fusion.Sample, error)
	// Stop halts scanning. The source may be started again.
	Stop() error
	// Close releases the source. It is safe to call more than once.
	Close() error
}

// Stats counts source activity.
type Stats struct {
	Samples   uint64
	Malformed uint64
	Timeouts  uint64
}

// Deps carries what New may need besides configuration.
type Deps struct {
	Mux   serialmux.SerialMuxInterface // scan bridge, for "serial"
	Store *db.DB                       // tick log, for "replay"
	Clock timeutil.Clock
}

// New builds the source selected by cfg.Source.
func New(ctx context.Context, cfg config.SensorConfig, deps Deps) (Source, error) {
	clock := deps.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	switch cfg.Source {
	case "serial":
		if deps.Mux == nil {
			return nil, errors.New("sensor: serial source needs a scan bridge")
		}
		return NewSerialSource(deps.Mux, cfg.MotorPWM, clock), nil
	case "sim":
		return NewSimSource(cfg.Scenario, clock)
	case "replay":
		if deps.Store == nil {
			return nil, errors.New("sensor: replay source needs a tick log")
		}
		frames, err := deps.Store.LoadReplay(ctx, cfg.ReplayRunID)
		if err != nil {
			return nil, fmt.Errorf("sensor: load replay %s: %w", cfg.ReplayRunID, err)
		}
		policy, err := ParseEndPolicy(cfg.ReplayEndPolicy)
		if err != nil {
			return nil, err
		}
		return NewReplaySource(frames, policy, cfg.MaxGapFrames), nil
	default:
		return nil, fmt.Errorf("sensor: unknown source %q", cfg.Source)
	}
}
