package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned whenever two grids that must share a footprint do not.
var ErrShapeMismatch = errors.New("models: shape mismatch")

// FramesPerSet is the number of phase-shifted frames forming one acquisition.
const FramesPerSet = 5

// Axis selects the direction a 1D operation runs along.
type Axis int

const (
	// AxisRows runs along the rows index, i.e. down each column.
	AxisRows Axis = iota
	// AxisColumns runs along the columns index, i.e. across each row.
	AxisColumns
)

// Grid is a 2D field of float samples stored in row-major order.
// It carries intensity frames as well as wrapped and unwrapped phase maps;
// invalid pixels in phase maps are NaN.
type Grid struct {
	// Data is the sample data as a 1D array in row-major order
	Data []float64

	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int
}

// NewGrid allocates a zero-filled grid.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// NewNaNGrid allocates a grid with every sample set to NaN.
func NewNaNGrid(width, height int) *Grid {
	g := NewGrid(width, height)
	for i := range g.Data {
		g.Data[i] = math.NaN()
	}
	return g
}

// At returns the sample at row y, column x.
func (g *Grid) At(x, y int) float64 {
	return g.Data[y*g.Width+x]
}

// Set stores v at row y, column x.
func (g *Grid) Set(x, y int, v float64) {
	g.Data[y*g.Width+x] = v
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := &Grid{
		Data:   make([]float64, len(g.Data)),
		Width:  g.Width,
		Height: g.Height,
	}
	copy(c.Data, g.Data)
	return c
}

// Row returns a copy of row y.
func (g *Grid) Row(y int) []float64 {
	row := make([]float64, g.Width)
	copy(row, g.Data[y*g.Width:(y+1)*g.Width])
	return row
}

// Column returns a copy of column x.
func (g *Grid) Column(x int) []float64 {
	col := make([]float64, g.Height)
	for y := 0; y < g.Height; y++ {
		col[y] = g.Data[y*g.Width+x]
	}
	return col
}

// Transpose returns a new grid with rows and columns swapped.
func (g *Grid) Transpose() *Grid {
	t := NewGrid(g.Height, g.Width)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			t.Data[x*t.Width+y] = g.Data[y*g.Width+x]
		}
	}
	return t
}

// Valid reports whether the sample at index i is a number.
func (g *Grid) Valid(i int) bool {
	return !math.IsNaN(g.Data[i])
}

// ValidValues returns the non-NaN samples in row-major order.
func (g *Grid) ValidValues() []float64 {
	values := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	return values
}

// SameShape reports whether g and other have the same dimensions.
func (g *Grid) SameShape(width, height int) bool {
	return g.Width == width && g.Height == height && len(g.Data) == width*height
}

// Mask marks the pixels inside the usable aperture.
// Masks are treated as immutable once a measurement begins.
type Mask struct {
	// Data holds one flag per pixel in row-major order
	Data []bool

	// Width and Height are the mask dimensions
	Width, Height int
}

// NewMask allocates a mask with every pixel set to value.
func NewMask(width, height int, value bool) *Mask {
	m := &Mask{
		Data:   make([]bool, width*height),
		Width:  width,
		Height: height,
	}
	if value {
		for i := range m.Data {
			m.Data[i] = true
		}
	}
	return m
}

// NewCircularMask returns a mask whose valid region is the disk centred on the
// grid with the given radius in pixels.
func NewCircularMask(width, height int, radius float64) *Mask {
	m := NewMask(width, height, false)
	cx := float64(width-1) / 2
	cy := float64(height-1) / 2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			m.Data[y*width+x] = dx*dx+dy*dy <= radius*radius
		}
	}
	return m
}

// Count returns the number of valid pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// CheckShape returns ErrShapeMismatch when g does not share the mask footprint.
func (m *Mask) CheckShape(g *Grid) error {
	if g == nil || !g.SameShape(m.Width, m.Height) || len(m.Data) != m.Width*m.Height {
		return fmt.Errorf("%w: mask is %dx%d", ErrShapeMismatch, m.Width, m.Height)
	}
	return nil
}

// Apply returns a copy of g with every pixel outside the mask set to NaN.
func (m *Mask) Apply(g *Grid) (*Grid, error) {
	if err := m.CheckShape(g); err != nil {
		return nil, err
	}
	out := g.Clone()
	for i, inside := range m.Data {
		if !inside {
			out.Data[i] = math.NaN()
		}
	}
	return out, nil
}

// AcquisitionSet groups the five phase-shifted frames of one measurement.
type AcquisitionSet struct {
	// Frames are ordered by increasing phase shift
	Frames [FramesPerSet]*Grid

	// Index is the position of this set within the Images stack
	Index int
}

// Shape returns the common frame dimensions, or ErrShapeMismatch when the
// frames disagree.
func (s *AcquisitionSet) Shape() (width, height int, err error) {
	if s.Frames[0] == nil {
		return 0, 0, fmt.Errorf("%w: set %d has no frames", ErrShapeMismatch, s.Index)
	}
	width, height = s.Frames[0].Width, s.Frames[0].Height
	for i, f := range s.Frames {
		if f == nil || !f.SameShape(width, height) {
			return 0, 0, fmt.Errorf("%w: frame %d of set %d", ErrShapeMismatch, i, s.Index)
		}
	}
	return width, height, nil
}
