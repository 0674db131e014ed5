// Package units converts phase quantities into the units a report is written in.
//
// Surfaces leave the unwrapper in radians (more precisely, in units of the
// configured phase period). A Converter turns them into waves by dividing by the
// period and applying the calibration wedge factor, and into micrometres when a
// wavelength is known.
package units

import "math"

// Unit names a reporting unit.
type Unit string

const (
	Radians     Unit = "rad"
	Waves       Unit = "waves"
	Micrometers Unit = "um"
)

// Converter scales phase values for reporting.
type Converter struct {
	// Period is the phase period of one fringe cycle, normally 2*pi
	Period float64

	// WedgeFactor is the calibration multiplier in physical units per phase cycle
	WedgeFactor float64

	// WavelengthNM is the illumination wavelength in nanometres; zero disables
	// physical-length reporting
	WavelengthNM float64
}

// NewConverter returns a converter, falling back to a 2*pi period and a unit
// wedge factor when those are not set.
func NewConverter(period, wedgeFactor, wavelengthNM float64) Converter {
	if period <= 0 {
		period = 2 * math.Pi
	}
	if wedgeFactor == 0 {
		wedgeFactor = 1
	}
	return Converter{Period: period, WedgeFactor: wedgeFactor, WavelengthNM: wavelengthNM}
}

// Unit returns the unit Scale produces.
func (c Converter) Unit() Unit {
	if c.WavelengthNM > 0 {
		return Micrometers
	}
	return Waves
}

// Factor is the multiplier Scale applies.
func (c Converter) Factor() float64 {
	f := c.WedgeFactor / c.Period
	if c.WavelengthNM > 0 {
		// nm -> um
		f *= c.WavelengthNM * 1e-3
	}
	return f
}

// Scale converts one phase value.
func (c Converter) Scale(v float64) float64 {
	return v * c.Factor()
}

// ScaleAll returns a converted copy of values; NaN stays NaN.
func (c Converter) ScaleAll(values []float64) []float64 {
	f := c.Factor()
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * f
	}
	return out
}
