// Package units converts between the speed units used on the wire and in
// the decision pipeline. The pipeline works in m/s and mm throughout.
package units

// Unit constants
const (
	MPS  = "mps"
	KMPH = "kmph"
	KPH  = "kph"
)

const kmhPerMPS = 3.6

// KMHToMPS converts km/h, as reported by V: telemetry lines, to m/s.
func KMHToMPS(kmh float64) float64 {
	return kmh / kmhPerMPS
}

// MPSToKMH converts m/s to km/h for the status line and SPD_CAP.
func MPSToKMH(mps float64) float64 {
	return mps * kmhPerMPS
}

// ConvertSpeed converts a speed from m/s to the target units. Unknown units
// leave the value in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case KMPH, KPH:
		return MPSToKMH(speedMPS)
	default:
		return speedMPS
	}
}
