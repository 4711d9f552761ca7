package fusion

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/autobrake/internal/config"
)

// Frame is the result of fusing one batch.
type Frame struct {
	Table    DistanceTable
	FrontMM  float64 // smoothed, clamped front distance; meaningful only when HasFront
	HasFront bool
	Inliers  int  // samples that contributed to FrontMM
	Fallback bool // the front gate had too few inliers and the wide sector was used
	Rejected int  // samples dropped as invalid
	At       time.Time
}

// Fuser owns the cross-frame state of range fusion: the rolling median
// window and the previous front-sector reading used for the closing rate.
// It is not safe for concurrent use.
type Fuser struct {
	cfg    config.FusionConfig
	window []float64

	prevFront   float64
	prevFrontAt time.Time
	hasPrev     bool
}

// NewFuser returns a Fuser using cfg.
func NewFuser(cfg config.FusionConfig) *Fuser {
	return &Fuser{cfg: cfg, window: make([]float64, 0, cfg.SmoothWindow)}
}

// Valid reports whether a raw distance is usable.
func (f *Fuser) Valid(mm float64) bool {
	return mm > 0 && mm >= f.cfg.NearCutoffMM && mm <= f.cfg.MaxDistMM
}

// Fuse builds the distance table for samples and derives the front
// distance. A frame with no usable front samples has HasFront false and
// leaves the smoothing window untouched.
func (f *Fuser) Fuse(samples []Sample, now time.Time) Frame {
	frame := Frame{At: now}
	var gated, wide []float64

	for _, s := range samples {
		if math.IsNaN(s.DistanceMM) || !f.Valid(s.DistanceMM) {
			frame.Rejected++
			continue
		}
		deg := roundDeg(s.AngleDeg + f.cfg.AngleOffsetDeg)
		frame.Table.Set(deg, s.DistanceMM)

		off := SignedDeg(deg)
		if off < 0 {
			off = -off
		}
		if off <= f.cfg.FrontGateDeg {
			gated = append(gated, s.DistanceMM)
		}
		if off <= f.cfg.FallbackHalfDeg {
			wide = append(wide, s.DistanceMM)
		}
	}

	inliers := gated
	if len(gated) < f.cfg.MinInliers {
		inliers = wide
		frame.Fallback = true
	}
	if len(inliers) == 0 {
		return frame
	}

	sort.Float64s(inliers)
	raw := f.clamp(stat.Quantile(f.cfg.Quantile, stat.Empirical, inliers, nil))

	frame.FrontMM = f.smooth(raw)
	frame.HasFront = true
	frame.Inliers = len(inliers)
	return frame
}

func (f *Fuser) clamp(mm float64) float64 {
	return math.Min(math.Max(mm, f.cfg.DistMinMM), f.cfg.DistMaxMM)
}

// smooth pushes mm into the rolling window and returns the window median.
// Even-length windows (only while the window is filling) report the lower
// median, which errs towards braking.
func (f *Fuser) smooth(mm float64) float64 {
	if len(f.window) == f.cfg.SmoothWindow {
		copy(f.window, f.window[1:])
		f.window = f.window[:len(f.window)-1]
	}
	f.window = append(f.window, mm)

	sorted := append([]float64(nil), f.window...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
