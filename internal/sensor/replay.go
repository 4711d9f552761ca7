package sensor

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/autobrake/internal/db"
	"github.com/banshee-data/autobrake/internal/fusion"
)

// EndPolicy decides what a replay does after its last frame.
type EndPolicy string

const (
	EndStop EndPolicy = "stop" // Read returns ErrExhausted
	EndHold EndPolicy = "hold" // the last valid distance repeats
	EndLoop EndPolicy = "loop" // start over from the first frame
)

func ParseEndPolicy(s string) (EndPolicy, error) {
	switch p := EndPolicy(s); p {
	case EndStop, EndHold, EndLoop:
		return p, nil
	case "":
		return EndStop, nil
	default:
		return "", fmt.Errorf("sensor: unknown replay end policy %q", s)
	}
}

// replaySpreadDeg is the half-width of the synthetic front arc a replayed
// distance is spread over, wide enough to pass the fusion inlier count.
const replaySpreadDeg = 12

// ReplaySource plays back the front distance and speed of a recorded run,
// one frame per Read.
type ReplaySource struct {
	frames []db.ReplayFrame
	policy EndPolicy
	maxGap int

	mu      sync.Mutex
	next    int
	current db.ReplayFrame
	last    float64
	hasLast bool
	gap     int
}

// NewReplaySource returns a replay of frames. Runs of up to maxGap frames
// without a distance repeat the last valid one.
func NewReplaySource(frames []db.ReplayFrame, policy EndPolicy, maxGap int) *ReplaySource {
	return &ReplaySource{frames: frames, policy: policy, maxGap: maxGap}
}

func (r *ReplaySource) Start(ctx context.Context) error { return ctx.Err() }

func (r *ReplaySource) Read(ctx context.Context, _ Budget) ([]fusion.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.frames) {
		switch {
		case r.policy == EndLoop && len(r.frames) > 0:
			r.next = 0
		case r.policy == EndHold && r.hasLast:
			return spread(r.last), nil
		default:
			return nil, ErrExhausted
		}
	}

	f := r.frames[r.next]
	r.next++
	r.current = f

	switch {
	case f.HasDistance:
		r.last, r.hasLast, r.gap = f.DistanceMM, true, 0
		return spread(f.DistanceMM), nil
	case r.hasLast && r.gap < r.maxGap:
		r.gap++
		return spread(r.last), nil
	default:
		r.gap++
		return nil, ErrTimeout
	}
}

func spread(mm float64) []fusion.Sample {
	out := make([]fusion.Sample, 0, 2*replaySpreadDeg+1)
	for a := -replaySpreadDeg; a <= replaySpreadDeg; a++ {
		out = append(out, fusion.Sample{AngleDeg: float64(fusion.NormaliseDeg(a)), DistanceMM: mm})
	}
	return out
}

// Poll reports the recorded speed of the current frame as a STAT line.
// Frames recorded without a known speed yield nothing until ctx ends.
func (r *ReplaySource) Poll(ctx context.Context) (string, bool, error) {
	r.mu.Lock()
	f := r.current
	r.mu.Unlock()
	if f.HasSpeed {
		return fmt.Sprintf("STAT v=%.3f", f.SpeedMPS), true, nil
	}
	<-ctx.Done()
	return "", false, ctx.Err()
}

// Position returns the index of the next frame and the frame count.
func (r *ReplaySource) Position() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next, len(r.frames)
}

func (r *ReplaySource) Stop() error { return nil }

func (r *ReplaySource) Close() error { return nil }
