// Package zernike decomposes an unwrapped surface onto the 37-term fringe
// Zernike basis, subtracts named aberration groups, and converts the low-order
// coefficients to classical Seidel terms.
//
// Coordinates are normalized so the image spans [-1, 1] on both axes. The
// default projection is the single-term ratio sum(S*Z)/sum(Z^2) over valid
// pixels, which assumes the basis is close to orthogonal on the aperture; this
// holds for near-circular masks. FitLeastSquares solves all terms jointly over
// the true footprint instead.
package zernike

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"wavefront/internal/models"
)

var (
	// ErrUnknownGroup is returned for an aberration group name with no basis term.
	ErrUnknownGroup = errors.New("zernike: unknown aberration group")

	// ErrOrderOutOfRange is returned when a group needs a term above MaxOrder.
	ErrOrderOutOfRange = errors.New("zernike: order above configured maximum")

	// ErrNoValidPixels is returned by FitLeastSquares on an empty footprint.
	ErrNoValidPixels = errors.New("zernike: no valid pixels")
)

// Options configures a Decomposer.
type Options struct {
	// MaxOrder is the highest basis index the decomposer computes
	MaxOrder int
}

// DefaultOptions covers the whole 37-term basis.
func DefaultOptions() Options {
	return Options{MaxOrder: DefaultMaxOrder}
}

// ProgressCallback is called after each coefficient computed by ProcessAll.
type ProgressCallback func(order, total int)

// Decomposer owns the coefficient cache of one surface. It is not safe for
// concurrent use; callers sharing an instance must serialize access.
type Decomposer struct {
	surface  *models.Grid
	maxOrder int

	// valid holds the indices of non-NaN surface pixels
	valid []int

	// x and y are the normalized coordinates of each column and row
	x, y []float64

	// basis caches each evaluated polynomial over the valid pixels
	basis map[int][]float64

	coeffs   []float64
	computed []bool
}

// NewDecomposer prepares the decomposition of surface. NaN pixels are outside
// the footprint.
func NewDecomposer(surface *models.Grid, opts Options) *Decomposer {
	maxOrder := opts.MaxOrder
	if maxOrder < 0 || maxOrder > DefaultMaxOrder {
		maxOrder = DefaultMaxOrder
	}

	d := &Decomposer{
		surface:  surface,
		maxOrder: maxOrder,
		x:        axisCoordinates(surface.Width),
		y:        axisCoordinates(surface.Height),
		basis:    make(map[int][]float64),
		coeffs:   make([]float64, maxOrder+1),
		computed: make([]bool, maxOrder+1),
	}
	for i := range surface.Data {
		if surface.Valid(i) {
			d.valid = append(d.valid, i)
		}
	}
	for i := range d.coeffs {
		d.coeffs[i] = math.NaN()
	}
	return d
}

// MaxOrder returns the highest index this decomposer computes.
func (d *Decomposer) MaxOrder() int {
	return d.maxOrder
}

// ValidPixels returns the size of the footprint.
func (d *Decomposer) ValidPixels() int {
	return len(d.valid)
}

// ProcessCoefficient computes and caches coefficient order. An order outside
// [0, MaxOrder] is a no-op returning (NaN, false).
//
// The projection is sum(S*Z)/sum(Z^2) over valid pixels. With no valid pixel
// the coefficient is NaN; when Z vanishes on every valid pixel the term is
// unobservable and the coefficient is 0.
func (d *Decomposer) ProcessCoefficient(order int) (float64, bool) {
	if order < 0 || order > d.maxOrder {
		return math.NaN(), false
	}
	if d.computed[order] {
		return d.coeffs[order], true
	}

	z := d.basisValues(order)
	var num, den float64
	for k, i := range d.valid {
		num += d.surface.Data[i] * z[k]
		den += z[k] * z[k]
	}

	c := 0.0
	switch {
	case len(d.valid) == 0:
		c = math.NaN()
	case den > 0:
		c = num / den
	}

	d.coeffs[order] = c
	d.computed[order] = true
	return c, true
}

// ProcessAll computes every coefficient up to MaxOrder in increasing order,
// checking ctx and reporting progress between orders.
func (d *Decomposer) ProcessAll(ctx context.Context, progress ProgressCallback) error {
	total := d.maxOrder + 1
	for order := 0; order <= d.maxOrder; order++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.ProcessCoefficient(order)
		if progress != nil {
			progress(order, total)
		}
	}
	return nil
}

// FitLeastSquares solves for coefficients 0..maxOrder jointly over the valid
// footprint and stores them in the cache, replacing any single-term values.
func (d *Decomposer) FitLeastSquares(maxOrder int) ([]float64, error) {
	if maxOrder < 0 || maxOrder > d.maxOrder {
		maxOrder = d.maxOrder
	}
	n := maxOrder + 1
	if len(d.valid) == 0 {
		return nil, ErrNoValidPixels
	}
	if len(d.valid) < n {
		return nil, fmt.Errorf("zernike: %d valid pixels cannot determine %d terms", len(d.valid), n)
	}

	a := mat.NewDense(len(d.valid), n, nil)
	for j := 0; j < n; j++ {
		z := d.basisValues(j)
		for k := range d.valid {
			a.Set(k, j, z[k])
		}
	}
	b := mat.NewVecDense(len(d.valid), nil)
	for k, i := range d.valid {
		b.SetVec(k, d.surface.Data[i])
	}

	var qr mat.QR
	qr.Factorize(a)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("zernike: least-squares solve: %w", err)
		}
		// ill-conditioned but finite: keep the solution
	}

	out := make([]float64, n)
	for j := 0; j < n; j++ {
		out[j] = x.AtVec(j)
		d.coeffs[j] = out[j]
		d.computed[j] = true
	}
	return out, nil
}

// Coefficients returns a copy of the cache; orders not yet computed are NaN.
func (d *Decomposer) Coefficients() []float64 {
	out := make([]float64, len(d.coeffs))
	copy(out, d.coeffs)
	return out
}

// Computed reports whether coefficient order is cached.
func (d *Decomposer) Computed(order int) bool {
	return order >= 0 && order <= d.maxOrder && d.computed[order]
}

// BasisSurface returns polynomial index evaluated over the full image grid,
// NaN outside the footprint.
func (d *Decomposer) BasisSurface(index int) *models.Grid {
	g := models.NewNaNGrid(d.surface.Width, d.surface.Height)
	z := d.basisValues(index)
	for k, i := range d.valid {
		g.Data[i] = z[k]
	}
	return g
}

// CorrectSurface builds the correction map as the coefficient-weighted sum of
// the basis polynomials of the named groups, computing missing coefficients on
// demand, and returns it together with surface - correction. Both keep the
// footprint of the surface.
func (d *Decomposer) CorrectSurface(groups []string) (correction, corrected *models.Grid, err error) {
	var indices []int
	for _, name := range groups {
		idx, ok := GroupIndices(name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownGroup, name)
		}
		for _, i := range idx {
			if i > d.maxOrder {
				return nil, nil, fmt.Errorf("%w: %q needs order %d, maximum is %d",
					ErrOrderOutOfRange, name, i, d.maxOrder)
			}
		}
		indices = append(indices, idx...)
	}

	correction = models.NewNaNGrid(d.surface.Width, d.surface.Height)
	for _, i := range d.valid {
		correction.Data[i] = 0
	}

	seen := make(map[int]bool)
	for _, order := range indices {
		if seen[order] {
			continue
		}
		seen[order] = true
		c, _ := d.ProcessCoefficient(order)
		if math.IsNaN(c) {
			continue
		}
		z := d.basisValues(order)
		for k, i := range d.valid {
			correction.Data[i] += c * z[k]
		}
	}

	corrected = d.surface.Clone()
	for i := range corrected.Data {
		if math.IsNaN(correction.Data[i]) {
			corrected.Data[i] = math.NaN()
			continue
		}
		corrected.Data[i] -= correction.Data[i]
	}
	return correction, corrected, nil
}

// basisValues evaluates polynomial index on the valid pixels, memoized.
func (d *Decomposer) basisValues(index int) []float64 {
	if z, ok := d.basis[index]; ok {
		return z
	}
	z := make([]float64, len(d.valid))
	w := d.surface.Width
	for k, i := range d.valid {
		z[k] = Evaluate(index, d.x[i%w], d.y[i/w])
	}
	d.basis[index] = z
	return z
}

// axisCoordinates maps n pixel positions onto [-1, 1].
func axisCoordinates(n int) []float64 {
	c := make([]float64, n)
	if n == 1 {
		return c
	}
	for i := range c {
		c[i] = 2*float64(i)/float64(n-1) - 1
	}
	return c
}
