// Package stats summarises surfaces with the peak-to-valley and RMS figures
// reported at every stage of the reconstruction.
package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"wavefront/internal/models"
)

// Summary holds the PV/RMS pair of a surface.
type Summary struct {
	// PV is the peak-to-valley distance, max - min over valid pixels
	PV float64 `yaml:"pv"`

	// RMS is the population standard deviation over valid pixels
	RMS float64 `yaml:"rms"`

	// Valid is the number of non-NaN pixels the figures were computed from
	Valid int `yaml:"valid"`
}

// Compute returns the PV and RMS of the non-NaN pixels of surface.
// Both figures are NaN when the surface has no valid pixel.
func Compute(surface *models.Grid) Summary {
	if surface == nil {
		return Summary{PV: math.NaN(), RMS: math.NaN()}
	}
	return FromValues(surface.ValidValues())
}

// FromValues is Compute over an already filtered sample slice.
func FromValues(values []float64) Summary {
	if len(values) == 0 {
		return Summary{PV: math.NaN(), RMS: math.NaN()}
	}
	return Summary{
		PV:    floats.Max(values) - floats.Min(values),
		RMS:   stat.PopStdDev(values, nil),
		Valid: len(values),
	}
}

// Scaled returns s with PV and RMS multiplied by factor.
func (s Summary) Scaled(factor float64) Summary {
	s.PV *= factor
	s.RMS *= factor
	return s
}
