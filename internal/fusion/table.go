// Package fusion turns a batch of raw angular range samples into a per-degree
// distance table and a robust front distance.
package fusion

import "math"

// Degrees is the number of slots in a DistanceTable.
const Degrees = 360

// Sample is one raw range reading. AngleDeg is clockwise from straight ahead.
type Sample struct {
	AngleDeg   float64
	DistanceMM float64
}

// DistanceTable holds, per integer degree, the minimum valid distance seen
// in one frame. The zero value is an empty table.
type DistanceTable struct {
	dist [Degrees]float64
	set  [Degrees]bool
}

// NormaliseDeg maps any integer angle onto [0,360).
func NormaliseDeg(deg int) int {
	deg %= Degrees
	if deg < 0 {
		deg += Degrees
	}
	return deg
}

// SignedDeg maps an angle in [0,360) onto (-180,180].
func SignedDeg(deg int) int {
	deg = NormaliseDeg(deg)
	if deg > 180 {
		return deg - Degrees
	}
	return deg
}

// roundDeg rounds a fractional angle to its table slot.
func roundDeg(angle float64) int {
	return NormaliseDeg(int(math.Round(math.Mod(angle, Degrees))))
}

// At returns the distance at deg, if any sample landed there.
func (t *DistanceTable) At(deg int) (float64, bool) {
	deg = NormaliseDeg(deg)
	return t.dist[deg], t.set[deg]
}

// Set records mm at deg, keeping the smaller value if the slot is taken.
func (t *DistanceTable) Set(deg int, mm float64) {
	deg = NormaliseDeg(deg)
	if !t.set[deg] || mm < t.dist[deg] {
		t.dist[deg] = mm
		t.set[deg] = true
	}
}

// Len returns the number of populated slots.
func (t *DistanceTable) Len() int {
	n := 0
	for _, ok := range t.set {
		if ok {
			n++
		}
	}
	return n
}

// Window collects the populated distances in the inclusive window
// [from,to], wrapping through 0 when from > to.
func (t *DistanceTable) Window(from, to int) []float64 {
	from, to = NormaliseDeg(from), NormaliseDeg(to)
	span := to - from
	if span < 0 {
		span += Degrees
	}
	out := make([]float64, 0, span+1)
	for i := 0; i <= span; i++ {
		deg := (from + i) % Degrees
		if t.set[deg] {
			out = append(out, t.dist[deg])
		}
	}
	return out
}
