package unwrap

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"wavefront/internal/models"
)

// Options tunes the cross-direction reliability check.
type Options struct {
	// ToleranceFraction is the fraction of a period by which the two unwrapping
	// directions may disagree before a pixel is problematic
	ToleranceFraction float64

	// MaxProblematicRatio is the share of problematic pixels above which the
	// result is declared a serious problem
	MaxProblematicRatio float64

	// SecondaryRowDistance is the minimum distance, as a fraction of the image
	// height, between the main and secondary reference rows
	SecondaryRowDistance float64
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		ToleranceFraction:    1e-4,
		MaxProblematicRatio:  0.05,
		SecondaryRowDistance: 0.025,
	}
}

// Diagnostics quantifies how well the two unwrapping directions agree.
type Diagnostics struct {
	// StdOffset is the standard deviation of the offset between directions over
	// non-problematic pixels; +Inf when fewer than two remain
	StdOffset float64 `yaml:"stdOffset"`

	// InitialOffsetError is how far the raw mean offset sat from the nearest
	// period multiple before problematic pixels were discarded, in periods
	// (0 to 0.5)
	InitialOffsetError float64 `yaml:"initialOffsetError"`

	// ProblematicRatio is the share of commonly valid pixels where the two
	// directions disagree
	ProblematicRatio float64 `yaml:"problematicRatio"`
}

// Result is the output of Unwrap2D.
type Result struct {
	// Surface is the unwrapped phase, NaN outside the footprint and wherever the
	// unwrapper could not decide
	Surface *models.Grid

	// SeriousProblem is set when the two directions disagree too broadly for the
	// surface to be trusted; ambiguous pixels are then NaN
	SeriousProblem bool

	Diagnostics Diagnostics

	// Offset is the period multiple separating the rows-first result from the
	// columns-first one
	Offset float64

	// Problematic counts the pixels where the two directions disagreed
	Problematic int
}

// ColumnsFirst unwraps every column, then aligns the columns to a common
// reference using two independently unwrapped reference rows.
func ColumnsFirst(g *models.Grid, period float64) *models.Grid {
	return columnsFirst(g, period, DefaultOptions().SecondaryRowDistance)
}

func columnsFirst(g *models.Grid, period, secondaryDistance float64) *models.Grid {
	cols := UnwrapAxis(g, period, models.AxisRows)
	if g.Width == 0 || g.Height == 0 {
		return cols
	}

	nanCounts := make([]int, g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if math.IsNaN(cols.Data[y*g.Width+x]) {
				nanCounts[y]++
			}
		}
	}

	main := 0
	for y, n := range nanCounts {
		if n < nanCounts[main] {
			main = y
		}
	}

	minDistance := secondaryDistance * float64(g.Height)
	secondary := -1
	for y, n := range nanCounts {
		if math.Abs(float64(y-main)) < minDistance || y == main {
			continue
		}
		if secondary < 0 || n < nanCounts[secondary] {
			secondary = y
		}
	}

	jumps := rowJumps(cols, main, period)
	if secondary >= 0 {
		jumps = MergeWithOffset(jumps, rowJumps(cols, secondary, period), period)
	}
	jumps = RemoveNaNGroups(jumps)

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			cols.Data[y*g.Width+x] += jumps[x]
		}
	}
	return cols
}

// rowJumps unwraps row y of a column-unwrapped grid as a signal of its own and
// returns, per column, the shift aligning that column to the row's reference.
func rowJumps(cols *models.Grid, y int, period float64) []float64 {
	row := cols.Row(y)
	unwrapped := Unwrap1D(row, period)
	jumps := make([]float64, len(row))
	for x := range row {
		jumps[x] = unwrapped[x] - row[x]
	}
	return jumps
}

// RowsFirst is ColumnsFirst applied to the transposed grid.
func RowsFirst(g *models.Grid, period float64) *models.Grid {
	return rowsFirst(g, period, DefaultOptions().SecondaryRowDistance)
}

func rowsFirst(g *models.Grid, period, secondaryDistance float64) *models.Grid {
	return columnsFirst(g.Transpose(), period, secondaryDistance).Transpose()
}

// Unwrap2D unwraps g with the default options.
func Unwrap2D(g *models.Grid, period float64) *Result {
	return Unwrap2DWithOptions(g, period, DefaultOptions())
}

// Unwrap2DWithOptions unwraps g columns-first and rows-first and cross-checks
// the two. Both must agree up to one global period multiple; pixels where they
// do not are problematic. When problems are widespread, or the agreement is
// noisy, SeriousProblem is set and every doubtful pixel is NaN. Otherwise
// problematic pixels are resolved from local derivatives of each direction.
func Unwrap2DWithOptions(g *models.Grid, period float64, opts Options) *Result {
	cf := columnsFirst(g, period, opts.SecondaryRowDistance)
	rf := rowsFirst(g, period, opts.SecondaryRowDistance)
	tolerance := period * opts.ToleranceFraction

	both := make([]bool, len(cf.Data))
	diffs := make([]float64, 0, len(cf.Data))
	for i := range cf.Data {
		if cf.Valid(i) && rf.Valid(i) {
			both[i] = true
			diffs = append(diffs, cf.Data[i]-rf.Data[i])
		}
	}

	rawMean := 0.0
	if len(diffs) > 0 {
		rawMean = stat.Mean(diffs, nil)
	}
	offset := roundToPeriod(rawMean, period)

	problematic := make([]bool, len(cf.Data))
	agreeing := make([]float64, 0, len(diffs))
	nProblematic := 0
	for i := range cf.Data {
		if !both[i] {
			continue
		}
		d := cf.Data[i] - rf.Data[i]
		if math.Abs(d-offset) > tolerance {
			problematic[i] = true
			nProblematic++
			continue
		}
		agreeing = append(agreeing, d)
	}

	std := math.Inf(1)
	if len(agreeing) >= 2 {
		var mean float64
		mean, std = stat.MeanStdDev(agreeing, nil)
		offset = roundToPeriod(mean, period)
	} else if len(agreeing) == 1 {
		offset = roundToPeriod(agreeing[0], period)
	}

	ratio := 0.0
	if len(diffs) > 0 {
		ratio = float64(nProblematic) / float64(len(diffs))
	}

	res := &Result{
		Diagnostics: Diagnostics{
			StdOffset:          std,
			InitialOffsetError: offsetError(rawMean, period),
			ProblematicRatio:   ratio,
		},
		Offset:      offset,
		Problematic: nProblematic,
	}

	out := cf.Clone()
	if ratio > opts.MaxProblematicRatio || std > tolerance {
		res.SeriousProblem = true
		for i := range out.Data {
			if !both[i] || problematic[i] {
				out.Data[i] = math.NaN()
			}
		}
		res.Surface = out
		return res
	}

	// rows-first fills what columns-first could not reach; rf is expressed in
	// the columns-first reference by adding the offset
	for i := range out.Data {
		if !cf.Valid(i) && rf.Valid(i) {
			out.Data[i] = rf.Data[i] + offset
		}
	}

	w, h := g.Width, g.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !problematic[i] {
				continue
			}
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				out.Data[i] = math.NaN()
				continue
			}
			colSide := diverges(cf, x, y, models.AxisColumns, period)
			rowSide := diverges(rf, x, y, models.AxisRows, period)
			switch {
			case colSide && rowSide:
				out.Data[i] = math.NaN()
			case colSide:
				out.Data[i] = rf.Data[i] + offset
			case rowSide:
				// keep the columns-first value
			default:
				out.Data[i] = math.NaN()
			}
		}
	}

	res.Surface = out
	return res
}

// diverges inspects the three-sample window centred on (x, y) of g along axis
// and reports whether any step between valid neighbours exceeds a period, or
// whether no step could be measured at all.
//
// Columns-first errors show up as jumps between adjacent columns, so its window
// runs across the row; rows-first errors show up between adjacent rows.
func diverges(g *models.Grid, x, y int, axis models.Axis, period float64) bool {
	var window [3]float64
	for k := -1; k <= 1; k++ {
		if axis == models.AxisColumns {
			window[k+1] = g.At(x+k, y)
		} else {
			window[k+1] = g.At(x, y+k)
		}
	}

	measured := false
	for k := 0; k < 2; k++ {
		a, b := window[k], window[k+1]
		if math.IsNaN(a) || math.IsNaN(b) {
			continue
		}
		measured = true
		if math.Abs(b-a) > period {
			return true
		}
	}
	return !measured
}

// offsetError is the distance of v from the nearest period multiple, in periods.
func offsetError(v, period float64) float64 {
	if period <= 0 {
		return 0
	}
	k := v / period
	return math.Abs(k - math.RoundToEven(k))
}

func roundToPeriod(v, period float64) float64 {
	if period <= 0 {
		return 0
	}
	return math.RoundToEven(v/period) * period
}
