// Package unwrap removes the modulo-period discontinuities of a wrapped phase map.
//
// Two-dimensional unwrapping runs twice, once columns-first and once rows-first,
// and the two answers are cross-checked. Pixels where they disagree are either
// resolved from local derivatives or reported as NaN; the unwrapper never
// guesses silently and never returns an error.
package unwrap

import (
	"math"

	"wavefront/internal/models"
)

// Unwrap1D unwraps a signal, skipping NaN samples.
//
// Successive differences are taken between consecutive valid samples, each is
// brought back within half a period by jump = -round(diff/period)*period, and
// the accumulated jumps are added to the original values. NaN samples are
// passed through and take no part in the cumulative sum.
func Unwrap1D(values []float64, period float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	prev := math.NaN()
	cumulative := 0.0
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if !math.IsNaN(prev) {
			diff := v - prev
			cumulative -= math.RoundToEven(diff/period) * period
		}
		out[i] = v + cumulative
		prev = v
	}
	return out
}

// UnwrapAxis applies Unwrap1D independently to every line of g along axis:
// AxisRows unwraps each column, AxisColumns unwraps each row.
func UnwrapAxis(g *models.Grid, period float64, axis models.Axis) *models.Grid {
	out := models.NewGrid(g.Width, g.Height)
	switch axis {
	case models.AxisRows:
		for x := 0; x < g.Width; x++ {
			col := Unwrap1D(g.Column(x), period)
			for y, v := range col {
				out.Data[y*g.Width+x] = v
			}
		}
	default:
		for y := 0; y < g.Height; y++ {
			copy(out.Data[y*g.Width:(y+1)*g.Width], Unwrap1D(g.Row(y), period))
		}
	}
	return out
}

// MergeWithOffset combines two estimates of the same per-column jump vector.
// b is first shifted by the period multiple nearest to the mean of b-a over
// the samples both define, then the two are averaged pairwise ignoring NaN:
// where only one side is defined it is taken as is.
func MergeWithOffset(a, b []float64, period float64) []float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	sum, count := 0.0, 0
	for i := 0; i < n; i++ {
		if !math.IsNaN(a[i]) && !math.IsNaN(b[i]) {
			sum += b[i] - a[i]
			count++
		}
	}
	offset := 0.0
	if count > 0 && period > 0 {
		offset = math.RoundToEven(sum/float64(count)/period) * period
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		av, bv := a[i], b[i]-offset
		switch {
		case math.IsNaN(av):
			out[i] = bv
		case math.IsNaN(bv):
			out[i] = av
		default:
			out[i] = (av + bv) / 2
		}
	}
	return out
}

// RemoveNaNGroups fills each interior run of NaN whose bounding values are equal
// within floating tolerance with that plateau value. Runs bounded by different
// values, and runs touching either end, are left as NaN.
func RemoveNaNGroups(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	i := 0
	for i < len(out) {
		if !math.IsNaN(out[i]) {
			i++
			continue
		}
		start := i
		for i < len(out) && math.IsNaN(out[i]) {
			i++
		}
		if start == 0 || i == len(out) {
			continue
		}
		before, after := out[start-1], out[i]
		if isClose(before, after) {
			for j := start; j < i; j++ {
				out[j] = before
			}
		}
	}
	return out
}

// isClose mirrors the usual relative+absolute tolerance test.
func isClose(a, b float64) bool {
	return math.Abs(a-b) <= 1e-8+1e-5*math.Abs(b)
}
