package serialmux

import "strings"

// Line classes reported by the brake controller and the scan bridge.
const (
	LineTelemetry = "telemetry"
	LineAck       = "ack"
	LineEvent     = "event"
	LineUnknown   = "unknown"
)

// ClassifyLine returns the class of a received line. Telemetry is what the
// speed estimator parses; acks answer commands; events are unsolicited
// notices such as watchdog trips.
func ClassifyLine(line string) string {
	l := strings.ToUpper(strings.TrimSpace(line))
	switch {
	case strings.HasPrefix(l, "V:"), strings.HasPrefix(l, "STAT"), strings.HasPrefix(l, "SPEED"):
		return LineTelemetry
	case strings.HasPrefix(l, "OK"), strings.HasPrefix(l, "ACK"), strings.HasPrefix(l, "PONG"),
		strings.HasPrefix(l, "MAP"):
		return LineAck
	case strings.HasPrefix(l, "EVT"), strings.HasPrefix(l, "EVENT"), strings.HasPrefix(l, "ERR"), strings.HasPrefix(l, "WDT"),
		strings.HasPrefix(l, "BOOT"):
		return LineEvent
	default:
		return LineUnknown
	}
}
