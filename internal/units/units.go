// Package units provides speed units and conversions.
package units

import "math"

// Conversion factors.
const (
	MPSToKMPH = 3.6
	KMPHToMPH = 0.621371
)

// Speed is a measured speed expressed in both reporting units.
type Speed struct {
	KMPH float64
	MPH  float64
}

// FromMPS converts meters per second to km/h and mph. mph is derived from
// km/h so both values round the same way the stored log does.
func FromMPS(mps float64) Speed {
	kmph := mps * MPSToKMPH
	return Speed{KMPH: kmph, MPH: kmph * KMPHToMPH}
}

// Value returns the speed in the display unit.
func (s Speed) Value(mph bool) float64 {
	if mph {
		return s.MPH
	}
	return s.KMPH
}

// Label returns the display suffix for the unit.
func Label(mph bool) string {
	if mph {
		return "mph"
	}
	return "km/h"
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
