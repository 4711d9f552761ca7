// Package corner finds sharp local-minimum obstacles in the front half of
// the distance table and decides whether the vehicle is approaching one.
package corner

import (
	"github.com/banshee-data/autobrake/internal/config"
	"github.com/banshee-data/autobrake/internal/fusion"
)

// Candidate is a sharp local minimum. AngleDeg is signed in (-180, 180],
// zero straight ahead.
type Candidate struct {
	AngleDeg   int
	DistanceMM float64
}

// Detector scans distance tables for corner candidates.
type Detector struct {
	cfg config.CornerConfig
}

// NewDetector returns a Detector using cfg.
func NewDetector(cfg config.CornerConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect returns every candidate in the front sector, ordered by angle.
// A candidate at angle a with reading d0 and neighbours dL, dR at
// a∓offset (both inside the sector) must satisfy:
//
//	d0 + min_prominence < dL and d0 + min_prominence < dR
//	dL - d0 >= gradient and dR - d0 >= gradient
//	min_corner <= d0 <= max_corner
func (d *Detector) Detect(t *fusion.DistanceTable) []Candidate {
	half, off := d.cfg.HalfSectorDeg, d.cfg.NeighborOffsetDeg
	var out []Candidate

	for a := -half + off; a <= half-off; a++ {
		d0, ok := t.At(a)
		if !ok || d0 < d.cfg.MinCornerMM || d0 > d.cfg.MaxCornerMM {
			continue
		}
		dL, okL := t.At(a - off)
		dR, okR := t.At(a + off)
		if !okL || !okR {
			continue
		}
		if d0+d.cfg.MinProminenceMM >= dL || d0+d.cfg.MinProminenceMM >= dR {
			continue
		}
		if dL-d0 < d.cfg.GradientMM || dR-d0 < d.cfg.GradientMM {
			continue
		}
		out = append(out, Candidate{AngleDeg: a, DistanceMM: d0})
	}
	return out
}

// Nearest returns the candidate with the smallest distance. Ties go to the
// candidate closest to straight ahead.
func Nearest(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.DistanceMM < best.DistanceMM ||
			(c.DistanceMM == best.DistanceMM && abs(c.AngleDeg) < abs(best.AngleDeg)) {
			best = c
		}
	}
	return best, true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
