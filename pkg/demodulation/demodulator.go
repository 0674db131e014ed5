// Package demodulation turns five phase-shifted interferograms into a wrapped
// phase map using the five-step (Hariharan) formula, and checks that the frames
// were actually captured a quarter period apart.
package demodulation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"wavefront/internal/models"
)

// ErrCalibration is matched by every *CalibrationError.
var ErrCalibration = errors.New("demodulation: phase shift out of calibration")

// CalibrationError reports frames whose effective phase step is out of
// tolerance. The caller should re-acquire the frames.
type CalibrationError struct {
	Quality Quality
	Reason  string
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("demodulation: %s (mean shift %.2f deg, std %.2f deg over %d pixels)",
		e.Reason, e.Quality.MeanAngle, e.Quality.StdAngle, e.Quality.Samples)
}

// Is lets errors.Is(err, ErrCalibration) match.
func (e *CalibrationError) Is(target error) bool {
	return target == ErrCalibration
}

// Options holds the calibration tolerances.
type Options struct {
	// MinShiftDeg and MaxShiftDeg bound the accepted mean phase step
	MinShiftDeg float64

	MaxShiftDeg float64

	// MaxShiftStdDeg bounds the spread of the phase step across the aperture
	MaxShiftStdDeg float64

	// ModulationFraction excludes pixels whose shift estimate is ill-conditioned:
	// a pixel is used only when |I4-I2| exceeds this fraction of its modulation
	ModulationFraction float64
}

// DefaultOptions returns the nominal quarter-wave tolerances.
func DefaultOptions() Options {
	return Options{
		MinShiftDeg:        86,
		MaxShiftDeg:        94,
		MaxShiftStdDeg:     8,
		ModulationFraction: 0.1,
	}
}

// Quality summarises the effective phase step estimated from the frames.
type Quality struct {
	MeanAngle float64 `yaml:"meanAngle"`
	StdAngle  float64 `yaml:"stdAngle"`
	Samples   int     `yaml:"samples"`
}

// Result is the demodulator output.
type Result struct {
	// Phase is the wrapped phase in (-pi, pi], NaN outside the mask
	Phase *models.Grid

	// Modulation is the fringe modulation per pixel, NaN outside the mask
	Modulation *models.Grid

	Quality Quality
}

// Demodulate computes the wrapped phase of five frames shifted by nominal
// quarter periods. An all-false mask yields an all-NaN phase and no error.
func Demodulate(frames [models.FramesPerSet]*models.Grid, mask *models.Mask, opts Options) (*Result, error) {
	if mask == nil {
		return nil, fmt.Errorf("%w: nil mask", models.ErrShapeMismatch)
	}
	for i, f := range frames {
		if err := mask.CheckShape(f); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
	}

	w, h := mask.Width, mask.Height
	phase := models.NewNaNGrid(w, h)
	modulation := models.NewNaNGrid(w, h)
	angles := make([]float64, 0, mask.Count())

	i1, i2, i3, i4, i5 := frames[0].Data, frames[1].Data, frames[2].Data, frames[3].Data, frames[4].Data
	for i, inside := range mask.Data {
		if !inside {
			continue
		}
		num := 2 * (i2[i] - i4[i])
		den := 2*i3[i] - i5[i] - i1[i]
		phase.Data[i] = math.Atan2(num, den)

		m := 0.5 * math.Hypot(num, den)
		modulation.Data[i] = m

		if a, ok := shiftAngle(i1[i], i2[i], i4[i], i5[i], m, opts.ModulationFraction); ok {
			angles = append(angles, a)
		}
	}

	res := &Result{Phase: phase, Modulation: modulation, Quality: estimateQuality(angles)}
	if mask.Count() == 0 {
		return res, nil
	}
	if err := checkQuality(res.Quality, opts); err != nil {
		return nil, err
	}
	return res, nil
}

// shiftAngle estimates the phase step at one pixel in degrees from
// cos(alpha) = (I5-I1) / (2(I4-I2)).
func shiftAngle(i1, i2, i4, i5, modulation, fraction float64) (float64, bool) {
	d := i4 - i2
	if d == 0 || math.Abs(d) <= fraction*modulation {
		return 0, false
	}
	c := (i5 - i1) / (2 * d)
	if c < -1 || c > 1 || math.IsNaN(c) {
		return 0, false
	}
	return math.Acos(c) * 180 / math.Pi, true
}

func estimateQuality(angles []float64) Quality {
	q := Quality{MeanAngle: math.NaN(), StdAngle: math.NaN(), Samples: len(angles)}
	switch len(angles) {
	case 0:
	case 1:
		q.MeanAngle, q.StdAngle = angles[0], 0
	default:
		q.MeanAngle, q.StdAngle = stat.PopMeanStdDev(angles, nil)
	}
	return q
}

func checkQuality(q Quality, opts Options) error {
	switch {
	case q.Samples == 0:
		return &CalibrationError{Quality: q, Reason: "no modulated pixel inside the mask"}
	case q.MeanAngle < opts.MinShiftDeg || q.MeanAngle > opts.MaxShiftDeg:
		return &CalibrationError{Quality: q,
			Reason: fmt.Sprintf("mean shift outside [%.0f, %.0f] deg", opts.MinShiftDeg, opts.MaxShiftDeg)}
	case q.StdAngle > opts.MaxShiftStdDeg:
		return &CalibrationError{Quality: q,
			Reason: fmt.Sprintf("shift spread above %.0f deg", opts.MaxShiftStdDeg)}
	}
	return nil
}
