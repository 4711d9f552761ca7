package sensor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/autobrake/internal/fusion"
	"github.com/banshee-data/autobrake/internal/monitoring"
	"github.com/banshee-data/autobrake/internal/serialmux"
	"github.com/banshee-data/autobrake/internal/timeutil"
)

// ParseSample parses a scan bridge line "<angle>,<distance_mm>". A third
// quality field, when present, is ignored.
func ParseSample(line string) (fusion.Sample, bool) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 2 || len(parts) > 3 {
		return fusion.Sample{}, false
	}
	angle, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return fusion.Sample{}, false
	}
	dist, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return fusion.Sample{}, false
	}
	return fusion.Sample{AngleDeg: angle, DistanceMM: dist}, true
}

// SerialSource reads samples from a scan bridge that streams one
// measurement per line.
type SerialSource struct {
	mux      serialmux.SerialMuxInterface
	motorPWM int
	clock    timeutil.Clock

	mu     sync.Mutex
	subID  string
	lines  chan string
	closed bool

	samples   atomic.Uint64
	malformed atomic.Uint64
	timeouts  atomic.Uint64
}

// NewSerialSource returns a source on mux spinning the motor at motorPWM.
func NewSerialSource(mux serialmux.SerialMuxInterface, motorPWM int, clock timeutil.Clock) *SerialSource {
	return &SerialSource{mux: mux, motorPWM: motorPWM, clock: clock}
}

// Start subscribes to the bridge and starts the motor and scan.
func (s *SerialSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return serialmux.ErrClosed
	}
	if s.lines == nil {
		s.subID, s.lines = s.mux.Subscribe()
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.mux.SendCommand(fmt.Sprintf("MOTOR %d", s.motorPWM)); err != nil {
		return fmt.Errorf("sensor: start motor: %w", err)
	}
	if err := s.mux.SendCommand("SCAN"); err != nil {
		return fmt.Errorf("sensor: start scan: %w", err)
	}
	monitoring.Logf("sensor: %s scanning at motor pwm %d", s.mux.Name(), s.motorPWM)
	return nil
}

func (s *SerialSource) Read(ctx context.Context, b Budget) ([]fusion.Sample, error) {
	s.mu.Lock()
	lines := s.lines
	s.mu.Unlock()
	if lines == nil {
		return nil, errNotStarted
	}

	timer := s.clock.NewTimer(b.Window)
	defer timer.Stop()

	out := make([]fusion.Sample, 0, b.MaxPoints)
	for len(out) < b.MaxPoints {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C():
			return s.finish(out)
		case line, ok := <-lines:
			if !ok {
				return nil, serialmux.ErrClosed
			}
			sample, ok := ParseSample(line)
			if !ok {
				s.malformed.Add(1)
				monitoring.Debugf("sensor: malformed line %q", line)
				continue
			}
			out = append(out, sample)
		}
	}
	return s.finish(out)
}

func (s *SerialSource) finish(out []fusion.Sample) ([]fusion.Sample, error) {
	if len(out) == 0 {
		s.timeouts.Add(1)
		return nil, ErrTimeout
	}
	s.samples.Add(uint64(len(out)))
	return out, nil
}

// Stop halts the scan and the motor. Both commands are attempted.
func (s *SerialSource) Stop() error {
	return errors.Join(
		s.mux.SendCommand("STOP"),
		s.mux.SendCommand("MOTOR 0"),
	)
}

// Close drops the line subscription.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.lines != nil {
		s.mux.Unsubscribe(s.subID)
	}
	return nil
}

func (s *SerialSource) Stats() Stats {
	return Stats{
		Samples:   s.samples.Load(),
		Malformed: s.malformed.Load(),
		Timeouts:  s.timeouts.Load(),
	}
}
