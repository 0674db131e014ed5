// Package synthetic generates interferometric test data with known ground truth:
// smooth phase surfaces, their wrapped versions, and the five phase-shifted
// intensity frames that encode them.
package synthetic

import (
	"math"

	"wavefront/internal/models"
)

// SurfaceFunc returns the phase in radians at normalized coordinates (x, y) in [-1, 1].
type SurfaceFunc func(x, y float64) float64

// Surface samples fn over a width x height grid; pixels outside mask are NaN.
// A nil mask keeps every pixel.
func Surface(width, height int, mask *models.Mask, fn SurfaceFunc) *models.Grid {
	g := models.NewNaNGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if mask != nil && !mask.Data[i] {
				continue
			}
			g.Data[i] = fn(normalize(x, width), normalize(y, height))
		}
	}
	return g
}

// TiltDefocus is a surface with linear tilts and a quadratic defocus term,
// all expressed in radians at the edge of the unit square.
func TiltDefocus(tiltX, tiltY, defocus float64) SurfaceFunc {
	return func(x, y float64) float64 {
		return tiltX*x + tiltY*y + defocus*(2*(x*x+y*y)-1)
	}
}

// Wrap folds every valid sample into (-period/2, period/2].
func Wrap(g *models.Grid, period float64) *models.Grid {
	out := g.Clone()
	for i, v := range out.Data {
		if math.IsNaN(v) {
			continue
		}
		w := v - period*math.Round(v/period)
		if w <= -period/2 {
			w += period
		}
		out.Data[i] = w
	}
	return out
}

// Frames renders five intensity frames I_k = bias + amplitude*cos(phi + (k-2)*shift)
// for k = 0..4. Pixels where phase is NaN get the bias value.
func Frames(phase *models.Grid, shiftDeg, bias, amplitude float64) [models.FramesPerSet]*models.Grid {
	var frames [models.FramesPerSet]*models.Grid
	alpha := shiftDeg * math.Pi / 180
	for k := range frames {
		f := models.NewGrid(phase.Width, phase.Height)
		step := float64(k-2) * alpha
		for i, phi := range phase.Data {
			if math.IsNaN(phi) {
				f.Data[i] = bias
				continue
			}
			f.Data[i] = bias + amplitude*math.Cos(phi+step)
		}
		frames[k] = f
	}
	return frames
}

func normalize(i, n int) float64 {
	if n < 2 {
		return 0
	}
	return 2*float64(i)/float64(n-1) - 1
}
