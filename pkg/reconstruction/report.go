package reconstruction

import (
	"math"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"wavefront/pkg/demodulation"
	"wavefront/pkg/stats"
	"wavefront/pkg/units"
	"wavefront/pkg/unwrap"
	"wavefront/pkg/zernike"
)

// SetReport is the scalar summary of one set in reporting units.
type SetReport struct {
	Index          int                  `yaml:"index"`
	Error          string               `yaml:"error,omitempty"`
	Shift          demodulation.Quality `yaml:"shift"`
	SeriousProblem bool                 `yaml:"seriousProblem"`
	Unwrap         unwrap.Diagnostics   `yaml:"unwrap"`
	Problematic    int                  `yaml:"problematic"`
	Unwrapped      stats.Summary        `yaml:"unwrapped"`
	Correction     stats.Summary        `yaml:"correction"`
	Corrected      stats.Summary        `yaml:"corrected"`
	Coefficients   []float64            `yaml:"coefficients,omitempty"`
	Seidel         *zernike.Seidel      `yaml:"seidel,omitempty"`
}

// Report is the scalar output of a run.
type Report struct {
	Input       string      `yaml:"input"`
	Unit        units.Unit  `yaml:"unit"`
	Corrections []string    `yaml:"corrections"`
	Sets        int         `yaml:"sets"`
	Failed      int         `yaml:"failed"`
	Results     []SetReport `yaml:"results"`
}

// Report converts the results into reporting units. Grids are not included.
func (r *Reconstructor) Report() *Report {
	conv := r.params.Units
	f := conv.Factor()
	rep := &Report{
		Input:       r.params.InputFile,
		Unit:        conv.Unit(),
		Corrections: r.params.Corrections,
		Sets:        len(r.results),
	}
	for _, res := range r.results {
		sr := SetReport{
			Index:          res.Index,
			Shift:          res.Quality,
			SeriousProblem: res.SeriousProblem,
			Unwrap:         res.Diagnostics,
			Problematic:    res.Problematic,
			Unwrapped:      res.UnwrappedStats.Scaled(f),
			Correction:     res.CorrectionStats.Scaled(f),
			Corrected:      res.CorrectedStats.Scaled(f),
		}
		if res.Err != nil {
			rep.Failed++
			sr.Error = res.Err.Error()
			nan := stats.Summary{PV: math.NaN(), RMS: math.NaN()}
			sr.Unwrapped, sr.Correction, sr.Corrected = nan, nan, nan
		}
		if res.Coefficients != nil {
			sr.Coefficients = conv.ScaleAll(res.Coefficients)
		}
		if res.HasSeidel {
			s := res.Seidel.Scaled(f)
			sr.Seidel = &s
		}
		rep.Results = append(rep.Results, sr)
	}
	return rep
}

// WriteReport saves the report as YAML, creating the parent directory.
func WriteReport(rep *Report, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return pkgerrors.Wrap(err, "failed to create report directory")
	}
	data, err := yaml.Marshal(rep)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal report")
	}
	return pkgerrors.Wrapf(os.WriteFile(path, data, 0644), "failed to write report %s", path)
}
