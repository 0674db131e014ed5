package unwrap

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"wavefront/internal/models"
	"wavefront/pkg/synthetic"
)

var nan = math.NaN()

// floatOpts compares float slices treating NaN as equal to NaN
var floatOpts = cmp.Options{cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-9)}

func TestUnwrap1D(t *testing.T) {
	p := 2 * math.Pi

	testCases := []struct {
		name   string
		values []float64
		want   []float64
	}{
		{"already continuous", []float64{0, 1, 2, 3}, []float64{0, 1, 2, 3}},
		{"single wrap up", []float64{2.5, 3, -3, -2.5}, []float64{2.5, 3, -3 + p, -2.5 + p}},
		{"single wrap down", []float64{-2.5, -3, 3, 2.5}, []float64{-2.5, -3, 3 - p, 2.5 - p}},
		{"NaN passes through", []float64{2.5, nan, -3, nan}, []float64{2.5, nan, -3 + p, nan}},
		{"leading NaN", []float64{nan, nan, 3, -3}, []float64{nan, nan, 3, -3 + p}},
		{"all NaN", []float64{nan, nan}, []float64{nan, nan}},
		{"empty", []float64{}, []float64{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Unwrap1D(tc.values, p)
			if diff := cmp.Diff(tc.want, got, floatOpts); diff != "" {
				t.Errorf("Unwrap1D mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnwrap1DDoesNotMutateInput(t *testing.T) {
	in := []float64{3, -3, 3}
	Unwrap1D(in, 2*math.Pi)
	if in[1] != -3 {
		t.Errorf("Input was modified: %v", in)
	}
}

func TestUnwrapAxis(t *testing.T) {
	p := 2 * math.Pi
	g := &models.Grid{
		Width:  2,
		Height: 3,
		Data: []float64{
			3, 3,
			-3, 3,
			-2.5, -3,
		},
	}

	byColumn := UnwrapAxis(g, p, models.AxisRows)
	wantColumn := []float64{
		3, 3,
		-3 + p, 3,
		-2.5 + p, -3 + p,
	}
	if diff := cmp.Diff(wantColumn, byColumn.Data, floatOpts); diff != "" {
		t.Errorf("AxisRows mismatch (-want +got):\n%s", diff)
	}

	byRow := UnwrapAxis(g, p, models.AxisColumns)
	wantRow := []float64{
		3, 3,
		-3, 3 - p,
		-2.5, -3,
	}
	if diff := cmp.Diff(wantRow, byRow.Data, floatOpts); diff != "" {
		t.Errorf("AxisColumns mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeWithOffset(t *testing.T) {
	p := 2 * math.Pi

	testCases := []struct {
		name string
		a, b []float64
		want []float64
	}{
		{
			"reference example",
			[]float64{1.0, 2.0, nan, 4.0},
			[]float64{2.5, nan, 3.5, 4.5},
			[]float64{1.75, 2.0, 3.5, 4.25},
		},
		{
			"secondary shifted by one period",
			[]float64{0, p, nan},
			[]float64{p, 2 * p, 3 * p},
			[]float64{0, p, 2 * p},
		},
		{
			"both NaN stays NaN",
			[]float64{nan, 1},
			[]float64{nan, 1},
			[]float64{nan, 1},
		},
		{
			"no overlap keeps both",
			[]float64{1, nan},
			[]float64{nan, 2},
			[]float64{1, 2},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := MergeWithOffset(tc.a, tc.b, p)
			if diff := cmp.Diff(tc.want, got, floatOpts); diff != "" {
				t.Errorf("MergeWithOffset mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRemoveNaNGroups(t *testing.T) {
	testCases := []struct {
		name string
		in   []float64
		want []float64
	}{
		{
			"reference example",
			[]float64{1, nan, nan, 1, 2, nan, 3, nan, nan, nan, 3},
			[]float64{1, 1, 1, 1, 2, nan, 3, 3, 3, 3, 3},
		},
		{
			"edges are not closed",
			[]float64{nan, 1, nan, 1, nan},
			[]float64{nan, 1, 1, 1, nan},
		},
		{
			"near-equal plateau",
			[]float64{2, nan, 2 + 1e-12},
			[]float64{2, 2, 2 + 1e-12},
		},
		{
			"no NaN",
			[]float64{1, 2, 3},
			[]float64{1, 2, 3},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := RemoveNaNGroups(tc.in)
			if diff := cmp.Diff(tc.want, got, floatOpts); diff != "" {
				t.Errorf("RemoveNaNGroups mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// createTestSurface returns a smooth tilt+defocus surface spanning many periods,
// with steps between neighbouring pixels well below half a period
func createTestSurface(size int, mask *models.Mask) *models.Grid {
	return synthetic.Surface(size, size, mask, synthetic.TiltDefocus(25, -10, 4))
}

// checkRoundTrip verifies got == want + k*period for a single k over the mask
func checkRoundTrip(t *testing.T, got, want *models.Grid, mask *models.Mask, period float64) {
	t.Helper()
	offset := nan
	for i, inside := range mask.Data {
		if !inside {
			if !math.IsNaN(got.Data[i]) {
				t.Fatalf("Expected NaN outside the mask at %d, got %f", i, got.Data[i])
			}
			continue
		}
		if math.IsNaN(got.Data[i]) {
			t.Fatalf("Unexpected NaN inside the mask at %d", i)
		}
		d := got.Data[i] - want.Data[i]
		if math.IsNaN(offset) {
			offset = d
			k := offset / period
			if math.Abs(k-math.Round(k)) > 1e-9 {
				t.Fatalf("Offset %f is not a period multiple", offset)
			}
			continue
		}
		if math.Abs(d-offset) > 1e-9 {
			t.Fatalf("Pixel %d is off by %f, expected the global offset %f", i, d, offset)
		}
	}
}

func TestColumnsFirstRoundTrip(t *testing.T) {
	const size = 64
	period := 2 * math.Pi
	mask := models.NewCircularMask(size, size, 30)
	surface := createTestSurface(size, mask)

	got := ColumnsFirst(synthetic.Wrap(surface, period), period)
	checkRoundTrip(t, got, surface, mask, period)

	got = RowsFirst(synthetic.Wrap(surface, period), period)
	checkRoundTrip(t, got, surface, mask, period)
}

func TestUnwrap2DSmoothSurface(t *testing.T) {
	period := 2 * math.Pi

	testCases := []struct {
		name string
		size int
		mask func(size int) *models.Mask
	}{
		{"circular aperture", 64, func(n int) *models.Mask { return models.NewCircularMask(n, n, float64(n)/2-2) }},
		{"full frame", 40, func(n int) *models.Mask { return models.NewMask(n, n, true) }},
		{"small circle", 48, func(n int) *models.Mask { return models.NewCircularMask(n, n, 12) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mask := tc.mask(tc.size)
			surface := createTestSurface(tc.size, mask)
			wrapped := synthetic.Wrap(surface, period)

			res := Unwrap2D(wrapped, period)
			if res.SeriousProblem {
				t.Fatalf("Unexpected serious problem, diagnostics %+v", res.Diagnostics)
			}
			if res.Diagnostics.ProblematicRatio != 0 {
				t.Errorf("Expected no problematic points, got ratio %f", res.Diagnostics.ProblematicRatio)
			}
			if res.Diagnostics.InitialOffsetError > 1e-9 {
				t.Errorf("Expected the raw offset on a period multiple, got %g periods", res.Diagnostics.InitialOffsetError)
			}
			if res.Diagnostics.StdOffset > period*1e-4 {
				t.Errorf("Offset spread %g too large", res.Diagnostics.StdOffset)
			}
			if math.Abs(res.Offset/period-math.Round(res.Offset/period)) > 1e-12 {
				t.Errorf("Offset %f is not a period multiple", res.Offset)
			}
			checkRoundTrip(t, res.Surface, surface, mask, period)

			// wrapped input is left untouched
			if res.Surface == wrapped {
				t.Error("Unwrap2D must return a new grid")
			}
		})
	}
}

func TestUnwrap2DCustomPeriod(t *testing.T) {
	const size = 32
	period := 1.0
	mask := models.NewCircularMask(size, size, 14)
	surface := synthetic.Surface(size, size, mask, func(x, y float64) float64 {
		return 3*x + 2*y*y
	})

	res := Unwrap2D(synthetic.Wrap(surface, period), period)
	if res.SeriousProblem {
		t.Fatalf("Unexpected serious problem, diagnostics %+v", res.Diagnostics)
	}
	checkRoundTrip(t, res.Surface, surface, mask, period)
}

// corruptPixels shifts the wrapped samples at pts by half a period, folding the
// result back into (-period/2, period/2]
func corruptPixels(g *models.Grid, period float64, pts [][2]int) {
	for _, p := range pts {
		i := p[1]*g.Width + p[0]
		v := g.Data[i] + period/2
		if v > period/2 {
			v -= period
		}
		g.Data[i] = v
	}
}

func TestUnwrap2DResolvesProblematicPixels(t *testing.T) {
	period := 2 * math.Pi

	testCases := []struct {
		name    string
		size    int
		mask    func(size int) *models.Mask
		surface synthetic.SurfaceFunc
		corrupt [][2]int
		wantNaN [][2]int
	}{
		{
			// covers the column-only, row-only, both and neither cases
			name:    "circular aperture",
			size:    64,
			mask:    func(n int) *models.Mask { return models.NewCircularMask(n, n, 30) },
			surface: synthetic.TiltDefocus(20, 20, 0),
			corrupt: [][2]int{{45, 15}, {40, 10}},
			wantNaN: [][2]int{{40, 10}, {44, 10}, {45, 10}, {45, 11}, {45, 15}},
		},
		{
			// the disagreement runs out to the right and bottom edges
			name:    "full frame",
			size:    40,
			mask:    func(n int) *models.Mask { return models.NewMask(n, n, true) },
			surface: synthetic.TiltDefocus(20, -20, 0),
			corrupt: [][2]int{{30, 10}},
			wantNaN: [][2]int{{30, 10}, {39, 10}, {30, 39}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mask := tc.mask(tc.size)
			surface := synthetic.Surface(tc.size, tc.size, mask, tc.surface)
			wrapped := synthetic.Wrap(surface, period)
			corruptPixels(wrapped, period, tc.corrupt)

			res := Unwrap2D(wrapped, period)
			if res.SeriousProblem {
				t.Fatalf("Local corruption flagged as a serious problem, diagnostics %+v", res.Diagnostics)
			}
			if res.Problematic == 0 || res.Diagnostics.ProblematicRatio <= 0 {
				t.Fatalf("Expected problematic pixels, got %d (ratio %f)", res.Problematic, res.Diagnostics.ProblematicRatio)
			}

			var gotNaN [][2]int
			offset := nan
			for y := 0; y < tc.size; y++ {
				for x := 0; x < tc.size; x++ {
					i := y*tc.size + x
					got := res.Surface.Data[i]
					if !mask.Data[i] {
						if !math.IsNaN(got) {
							t.Fatalf("Expected NaN outside the mask at (%d, %d), got %f", x, y, got)
						}
						continue
					}
					if math.IsNaN(got) {
						gotNaN = append(gotNaN, [2]int{x, y})
						continue
					}
					d := got - surface.Data[i]
					if math.IsNaN(offset) {
						offset = d
						continue
					}
					if math.Abs(d-offset) > 1e-9 {
						t.Fatalf("Pixel (%d, %d) is off by %f, expected the global offset %f", x, y, d, offset)
					}
				}
			}
			if k := offset / period; math.Abs(k-math.Round(k)) > 1e-9 {
				t.Errorf("Offset %f is not a period multiple", offset)
			}
			if diff := cmp.Diff(tc.wantNaN, gotNaN); diff != "" {
				t.Errorf("Undecided pixels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnwrap2DFillsFromRowsFirst(t *testing.T) {
	const size = 40
	period := 2 * math.Pi

	// the lower block shares no row with the top rows used as the
	// columns-first reference, but reaches the vertical strip along its rows
	mask := models.NewMask(size, size, false)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			upper := x < 20 && y < 20
			strip := x >= 20 && x <= 22
			lower := x >= 23 && x <= 34 && y >= 25 && y <= 34
			mask.Data[y*size+x] = upper || strip || lower
		}
	}
	surface := synthetic.Surface(size, size, mask, synthetic.TiltDefocus(20, 20, 4))
	wrapped := synthetic.Wrap(surface, period)

	unreached := 0
	cf := ColumnsFirst(wrapped, period)
	for i, inside := range mask.Data {
		if inside && !cf.Valid(i) {
			unreached++
		}
	}
	if unreached == 0 {
		t.Fatal("Expected columns-first to leave part of the mask undefined")
	}

	res := Unwrap2D(wrapped, period)
	if res.SeriousProblem || res.Problematic != 0 {
		t.Fatalf("Unexpected disagreement: %d problematic, diagnostics %+v", res.Problematic, res.Diagnostics)
	}
	checkRoundTrip(t, res.Surface, surface, mask, period)
}

func TestUnwrap2DOffsetErrorInPeriods(t *testing.T) {
	const size = 64
	mask := models.NewCircularMask(size, size, 30)
	surface := synthetic.Surface(size, size, mask, synthetic.TiltDefocus(20, 20, 0))

	radians := synthetic.Wrap(surface, 2*math.Pi)
	corruptPixels(radians, 2*math.Pi, [][2]int{{45, 15}, {40, 10}})
	cycles := radians.Clone()
	for i := range cycles.Data {
		cycles.Data[i] /= 2 * math.Pi
	}

	a := Unwrap2D(radians, 2*math.Pi).Diagnostics.InitialOffsetError
	b := Unwrap2D(cycles, 1).Diagnostics.InitialOffsetError
	if a <= 0 || a > 0.5 {
		t.Fatalf("Expected an offset error within (0, 0.5] periods, got %g", a)
	}
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("Offset error depends on the period unit: %g with 2*pi, %g with 1", a, b)
	}
}

func TestUnwrap2DNoiseIsSerious(t *testing.T) {
	const size = 32
	period := 2 * math.Pi
	rng := rand.New(rand.NewSource(7))

	g := models.NewGrid(size, size)
	for i := range g.Data {
		g.Data[i] = (rng.Float64()*2 - 1) * math.Pi
	}

	res := Unwrap2D(g, period)
	if !res.SeriousProblem {
		t.Fatalf("Expected a serious problem for random phase, diagnostics %+v", res.Diagnostics)
	}
	if res.Diagnostics.ProblematicRatio <= 0.05 {
		t.Errorf("Expected a problematic ratio above 5%%, got %f", res.Diagnostics.ProblematicRatio)
	}

	nanCount := 0
	for _, v := range res.Surface.Data {
		if math.IsNaN(v) {
			nanCount++
		}
	}
	if nanCount < res.Problematic {
		t.Errorf("Expected every problematic pixel to be NaN: %d NaN for %d problematic", nanCount, res.Problematic)
	}
}

func TestUnwrap2DAllInvalid(t *testing.T) {
	g := models.NewNaNGrid(16, 16)

	res := Unwrap2D(g, 2*math.Pi)
	if res.Surface == nil {
		t.Fatal("Expected a surface even for all-invalid input")
	}
	for i, v := range res.Surface.Data {
		if !math.IsNaN(v) {
			t.Fatalf("Expected NaN at %d, got %f", i, v)
		}
	}
	if !math.IsInf(res.Diagnostics.StdOffset, 1) {
		t.Errorf("Expected +Inf offset spread with no samples, got %f", res.Diagnostics.StdOffset)
	}
	if res.Diagnostics.ProblematicRatio != 0 {
		t.Errorf("Expected zero ratio with no samples, got %f", res.Diagnostics.ProblematicRatio)
	}
}

func TestUnwrap2DEmptyGrid(t *testing.T) {
	res := Unwrap2D(models.NewGrid(0, 0), 2*math.Pi)
	if res.Surface == nil || len(res.Surface.Data) != 0 {
		t.Errorf("Expected an empty surface, got %+v", res.Surface)
	}
}

func TestDiverges(t *testing.T) {
	p := 2 * math.Pi
	g := &models.Grid{
		Width:  3,
		Height: 3,
		Data: []float64{
			0, nan, 0,
			0, 1, 9,
			nan, 1.5, 0,
		},
	}

	testCases := []struct {
		name string
		axis models.Axis
		want bool
	}{
		{"row window jumps over a period", models.AxisColumns, true},
		{"column window smooth", models.AxisRows, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := diverges(g, 1, 1, tc.axis, p); got != tc.want {
				t.Errorf("diverges = %v, want %v", got, tc.want)
			}
		})
	}

	isolated := &models.Grid{Width: 3, Height: 3, Data: []float64{
		nan, nan, nan,
		nan, 1, nan,
		nan, nan, nan,
	}}
	if !diverges(isolated, 1, 1, models.AxisColumns, p) {
		t.Error("Expected divergence when no neighbour is valid")
	}
}
