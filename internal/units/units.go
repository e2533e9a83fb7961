// Package units provides speed arithmetic for the gate and the unit
// conversions used when records are served over the API.
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// FromKMH converts a speed in km/h, the unit records are stored in, to the
// target units. Unknown units leave the value in km/h.
func FromKMH(speedKMH float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedKMH / 1.609344
	case MPS:
		return speedKMH / 3.6
	default:
		return speedKMH
	}
}
