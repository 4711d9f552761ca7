// Package actuator drives the brake controller over its line protocol.
//
// The controller accepts newline-terminated ASCII commands:
//
//	A:<angle>            servo target for a brake level
//	SET_DEG <deg>        raw servo angle
//	SET_US <us>          raw servo pulse width
//	MODE NORMAL|CORNER   hand corner braking to the controller
//	CMD SAFE|SLOW|BRAKE  preset brake command
//	SPD_CAP <km/h>       corner speed cap
//	HB                   heartbeat; the controller brakes when these stop
//	PING, QUIET 0|1, GET_STAT, GET MAP
//
// and reports telemetry (V:, STAT, SPEED), acks and events on the same line.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/autobrake/internal/brake"
	"github.com/banshee-data/autobrake/internal/config"
	"github.com/banshee-data/autobrake/internal/monitoring"
	"github.com/banshee-data/autobrake/internal/serialmux"
	"github.com/banshee-data/autobrake/internal/timeutil"
)

// Pulse widths accepted by SendPulse.
const (
	MinPulseUS = 500
	MaxPulseUS = 2500
)

// Mode is the controller's braking authority.
type Mode string

const (
	ModeNormal Mode = "NORMAL"
	ModeCorner Mode = "CORNER"
)

// Preset commands understood by CMD.
const (
	CmdSafe  = "SAFE"
	CmdSlow  = "SLOW"
	CmdBrake = "BRAKE"
)

var ErrLinkClosed = errors.New("actuator link closed")

// Stats counts link activity.
type Stats struct {
	Sent      uint64
	Coalesced uint64
	Failed    uint64
	Events    uint64
}

// Link is the brake controller connection. It is safe for concurrent use:
// the control loop sends commands while the speed poller reads telemetry.
type Link struct {
	mux   serialmux.SerialMuxInterface
	cfg   config.ActuatorConfig
	clock timeutil.Clock

	subID string
	lines chan string

	mu        sync.Mutex
	lastAngle int
	hasAngle  bool
	lastAt    time.Time
	mode      Mode
	closed    bool

	sent      atomic.Uint64
	coalesced atomic.Uint64
	failed    atomic.Uint64
	events    atomic.Uint64
}

// NewLink subscribes to mux and returns a Link. The mux stays owned by the
// caller; Close only drops the subscription.
func NewLink(cfg config.ActuatorConfig, mux serialmux.SerialMuxInterface, clock timeutil.Clock) *Link {
	id, ch := mux.Subscribe()
	return &Link{
		mux:   mux,
		cfg:   cfg,
		clock: clock,
		subID: id,
		lines: ch,
		mode:  ModeNormal,
	}
}

func (l *Link) send(command string) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrLinkClosed
	}
	if err := l.mux.SendCommand(command); err != nil {
		l.failed.Add(1)
		return fmt.Errorf("actuator: %s: %w", command, err)
	}
	l.sent.Add(1)
	monitoring.Debugf("actuator: -> %s", command)
	return nil
}

// SendLevel maps level to its configured servo angle and sends it.
func (l *Link) SendLevel(level brake.Level) error {
	angle, ok := l.cfg.Angles[level]
	if !ok {
		return fmt.Errorf("actuator: no angle configured for level %s", level)
	}
	return l.SendAngle(angle, false)
}

// SendAngle sends A:<angle>. Unless force is set, repeating the last angle
// within the minimum interval is suppressed.
func (l *Link) SendAngle(angle int, force bool) error {
	now := l.clock.Now()

	l.mu.Lock()
	if !force && l.hasAngle && l.lastAngle == angle && now.Sub(l.lastAt) < l.cfg.MinInterval.Duration {
		l.mu.Unlock()
		l.coalesced.Add(1)
		return nil
	}
	l.mu.Unlock()

	if err := l.send(fmt.Sprintf("A:%d", angle)); err != nil {
		return err
	}

	l.mu.Lock()
	l.lastAngle, l.hasAngle, l.lastAt = angle, true, now
	l.mu.Unlock()
	return nil
}

// LastAngle returns the last angle successfully sent.
func (l *Link) LastAngle() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastAngle, l.hasAngle
}

func (l *Link) SetDegrees(deg int) error {
	if deg < 0 || deg > 360 {
		return fmt.Errorf("actuator: servo angle %d out of range", deg)
	}
	return l.send(fmt.Sprintf("SET_DEG %d", deg))
}

func (l *Link) SendPulse(us int) error {
	if us < MinPulseUS || us > MaxPulseUS {
		return fmt.Errorf("actuator: pulse %dus outside %d-%dus", us, MinPulseUS, MaxPulseUS)
	}
	return l.send(fmt.Sprintf("SET_US %d", us))
}

// SetMode switches the controller's braking authority.
func (l *Link) SetMode(m Mode) error {
	if m != ModeNormal && m != ModeCorner {
		return fmt.Errorf("actuator: unknown mode %q", m)
	}
	if err := l.send("MODE " + string(m)); err != nil {
		return err
	}
	l.mu.Lock()
	l.mode = m
	l.mu.Unlock()
	return nil
}

// Mode returns the last mode acknowledged by a successful send.
func (l *Link) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

func (l *Link) Command(cmd string) error {
	switch cmd {
	case CmdSafe, CmdSlow, CmdBrake:
		return l.send("CMD " + cmd)
	default:
		return fmt.Errorf("actuator: unknown command %q", cmd)
	}
}

// SpeedCap sets the speed cap applied in corner mode; 0 removes it.
func (l *Link) SpeedCap(kmh int) error {
	if kmh < 0 {
		return fmt.Errorf("actuator: negative speed cap %d", kmh)
	}
	return l.send(fmt.Sprintf("SPD_CAP %d", kmh))
}

func (l *Link) Heartbeat() error { return l.send("HB") }

func (l *Link) Ping() error { return l.send("PING") }

func (l *Link) RequestStat() error { return l.send("GET_STAT") }

func (l *Link) RequestMap() error { return l.send("GET MAP") }

// Quiet toggles the controller's unsolicited STAT push.
func (l *Link) Quiet(on bool) error {
	if on {
		return l.send("QUIET 1")
	}
	return l.send("QUIET 0")
}

// Handshake greets the controller after connect. Failures are logged and
// joined; the link remains usable.
func (l *Link) Handshake(quiet bool) error {
	errs := []error{l.Ping(), l.Quiet(quiet), l.RequestMap()}
	err := errors.Join(errs...)
	if err != nil {
		monitoring.Logf("actuator: handshake: %v", err)
	}
	return err
}

// SweepCheck moves the servo through angles, dwelling after each, so an
// operator can watch the brake actuate at start-up.
func (l *Link) SweepCheck(ctx context.Context, angles []int, dwell time.Duration) error {
	for _, a := range angles {
		if err := l.SendAngle(a, true); err != nil {
			return err
		}
		t := l.clock.NewTimer(dwell)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C():
		}
	}
	return nil
}

// Neutralize releases the brake and returns authority to the host.
func (l *Link) Neutralize() error {
	var errs []error
	if angle, ok := l.cfg.Angles[brake.LevelSafe]; ok {
		errs = append(errs, l.SendAngle(angle, true))
	}
	errs = append(errs, l.SetMode(ModeNormal))
	return errors.Join(errs...)
}

// Poll returns the next telemetry line. Acks are dropped and events are
// logged on the way. ok is false when ctx ends first.
func (l *Link) Poll(ctx context.Context) (string, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case line, open := <-l.lines:
			if !open {
				return "", false, ErrLinkClosed
			}
			if l.telemetry(line) {
				return line, true, nil
			}
		}
	}
}

// Drain consumes every queued line without blocking and returns the newest
// telemetry line among them. ok is false when none was queued.
func (l *Link) Drain() (string, bool, error) {
	var latest string
	var found bool
	for {
		select {
		case line, open := <-l.lines:
			if !open {
				return latest, found, ErrLinkClosed
			}
			if l.telemetry(line) {
				latest, found = line, true
			}
		default:
			return latest, found, nil
		}
	}
}

// telemetry reports whether line is telemetry, counting and logging events.
func (l *Link) telemetry(line string) bool {
	switch serialmux.ClassifyLine(line) {
	case serialmux.LineTelemetry:
		return true
	case serialmux.LineEvent:
		l.events.Add(1)
		monitoring.Logf("actuator: controller event: %s", line)
	default:
		monitoring.Debugf("actuator: <- %s", line)
	}
	return false
}

func (l *Link) Stats() Stats {
	return Stats{
		Sent:      l.sent.Load(),
		Coalesced: l.coalesced.Load(),
		Failed:    l.failed.Load(),
		Events:    l.events.Load(),
	}
}

// Close drops the line subscription. Further sends fail with
// ErrLinkClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.mux.Unsubscribe(l.subID)
	return nil
}
