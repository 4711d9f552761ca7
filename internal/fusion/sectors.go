package fusion

import (
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/autobrake/internal/config"
)

// minRateInterval floors the time between calls when deriving a closing rate.
const minRateInterval = time.Millisecond

// Sectors holds the per-sector minimum distances of one frame.
type Sectors struct {
	FrontMM, LeftMM, RightMM    float64
	HasFront, HasLeft, HasRight bool

	// ClosingRateMMPS is the rate at which the front-sector minimum shrank
	// since the previous call; positive means approaching.
	ClosingRateMMPS float64
	HasRate         bool
}

// Imbalance returns left minus right, for reporting which side is tighter.
// It is zero unless both sides have readings.
func (s Sectors) Imbalance() float64 {
	if !s.HasLeft || !s.HasRight {
		return 0
	}
	return s.LeftMM - s.RightMM
}

func sectorMin(t *DistanceTable, s config.Sector) (float64, bool) {
	vals := t.Window(s.FromDeg, s.ToDeg)
	if len(vals) == 0 {
		return 0, false
	}
	return floats.Min(vals), true
}

// Sectors computes the sector minima of frame and the front closing rate
// relative to the previous call. A call without a front reading resets the
// rate history.
func (f *Fuser) Sectors(frame *Frame, now time.Time) Sectors {
	var s Sectors
	s.FrontMM, s.HasFront = sectorMin(&frame.Table, f.cfg.FrontSector)
	s.LeftMM, s.HasLeft = sectorMin(&frame.Table, f.cfg.LeftSector)
	s.RightMM, s.HasRight = sectorMin(&frame.Table, f.cfg.RightSector)

	if !s.HasFront {
		f.hasPrev = false
		return s
	}
	if f.hasPrev {
		dt := now.Sub(f.prevFrontAt)
		if dt < minRateInterval {
			dt = minRateInterval
		}
		s.ClosingRateMMPS = (f.prevFront - s.FrontMM) / dt.Seconds()
		s.HasRate = true
	}
	f.prevFront, f.prevFrontAt, f.hasPrev = s.FrontMM, now, true
	return s
}
