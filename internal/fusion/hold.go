package fusion

import "time"

// Hold bridges short gaps in the front distance by repeating the last good
// value for at most a fixed window. Once the window lapses the distance is
// reported missing and the safety machine starts counting lost frames.
type Hold struct {
	window time.Duration
	last   float64
	lastAt time.Time
	has    bool
}

// NewHold returns a Hold that bridges gaps up to window long.
func NewHold(window time.Duration) *Hold {
	return &Hold{window: window}
}

// Apply returns the distance to use this tick. held is true when the value
// was repeated from an earlier tick.
func (h *Hold) Apply(mm float64, ok bool, now time.Time) (out float64, valid, held bool) {
	if ok {
		h.last, h.lastAt, h.has = mm, now, true
		return mm, true, false
	}
	if h.has && now.Sub(h.lastAt) <= h.window {
		return h.last, true, true
	}
	h.has = false
	return 0, false, false
}
