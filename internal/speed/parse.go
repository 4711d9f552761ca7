package speed

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/banshee-data/autobrake/internal/units"
)

var (
	// V:<km/h>
	vLineRx = regexp.MustCompile(`(?i)^V:\s*([-+]?\d+(?:\.\d+)?)`)
	// SPEED <km/h>, the controller's periodic push
	speedRx = regexp.MustCompile(`(?i)^SPEED\s+([-+]?\d+(?:\.\d+)?)`)
	// STAT ... rpm=<f> ... v=<m/s>
	statRx = regexp.MustCompile(`(?i)^STAT\b`)
	statV  = regexp.MustCompile(`(?i)\bv=([-+]?\d+(?:\.\d+)?)\b`)
	statR  = regexp.MustCompile(`(?i)\brpm=([-+]?\d+(?:\.\d+)?)\b`)
)

// Telemetry is one parsed telemetry line.
type Telemetry struct {
	MPS    float64
	RPM    float64
	HasRPM bool
}

// ParseTelemetry extracts a speed from a V:, SPEED or STAT line. V: and
// SPEED values are km/h; STAT v= values are already m/s. Lines without a
// speed are rejected.
func ParseTelemetry(line string) (Telemetry, bool) {
	line = strings.TrimSpace(line)

	m := vLineRx.FindStringSubmatch(line)
	if m == nil {
		m = speedRx.FindStringSubmatch(line)
	}
	if m != nil {
		kmh, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Telemetry{}, false
		}
		return Telemetry{MPS: units.KMHToMPS(kmh)}, true
	}

	if !statRx.MatchString(line) {
		return Telemetry{}, false
	}
	m = statV.FindStringSubmatch(line)
	if m == nil {
		return Telemetry{}, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Telemetry{}, false
	}
	t := Telemetry{MPS: v}
	if r := statR.FindStringSubmatch(line); r != nil {
		if rpm, err := strconv.ParseFloat(r[1], 64); err == nil {
			t.RPM, t.HasRPM = rpm, true
		}
	}
	return t, true
}
