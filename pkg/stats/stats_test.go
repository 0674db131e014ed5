package stats

import (
	"math"
	"testing"

	"wavefront/internal/models"
)

func TestCompute(t *testing.T) {
	nan := math.NaN()

	testCases := []struct {
		name      string
		data      []float64
		wantPV    float64
		wantRMS   float64
		wantValid int
	}{
		{"flat", []float64{2, 2, 2, 2}, 0, 0, 4},
		{"two levels", []float64{1, 3, 1, 3}, 2, 1, 4},
		{"ignores NaN", []float64{1, nan, 3, nan}, 2, 1, 2},
		{"single pixel", []float64{nan, 5, nan, nan}, 0, 0, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := &models.Grid{Data: tc.data, Width: 2, Height: 2}
			s := Compute(g)
			if math.Abs(s.PV-tc.wantPV) > 1e-12 {
				t.Errorf("PV = %f, want %f", s.PV, tc.wantPV)
			}
			if math.Abs(s.RMS-tc.wantRMS) > 1e-12 {
				t.Errorf("RMS = %f, want %f", s.RMS, tc.wantRMS)
			}
			if s.Valid != tc.wantValid {
				t.Errorf("Valid = %d, want %d", s.Valid, tc.wantValid)
			}
		})
	}
}

func TestComputeAllInvalid(t *testing.T) {
	g := models.NewNaNGrid(8, 8)
	s := Compute(g)
	if !math.IsNaN(s.PV) || !math.IsNaN(s.RMS) {
		t.Errorf("Expected NaN figures for an all-invalid surface, got PV=%f RMS=%f", s.PV, s.RMS)
	}
	if s.Valid != 0 {
		t.Errorf("Expected no valid pixels, got %d", s.Valid)
	}

	if s := Compute(nil); !math.IsNaN(s.PV) {
		t.Errorf("Expected NaN PV for a nil surface, got %f", s.PV)
	}
}

func TestScaled(t *testing.T) {
	s := Summary{PV: 2, RMS: 0.5, Valid: 10}.Scaled(3)
	if s.PV != 6 || s.RMS != 1.5 || s.Valid != 10 {
		t.Errorf("Unexpected scaled summary %+v", s)
	}
}
