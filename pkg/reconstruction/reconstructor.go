package reconstruction

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wavefront/internal/models"
	"wavefront/pkg/config"
	"wavefront/pkg/container"
	"wavefront/pkg/demodulation"
	"wavefront/pkg/stats"
	"wavefront/pkg/units"
	"wavefront/pkg/unwrap"
	"wavefront/pkg/zernike"
)

// ErrNoSets is returned when the input holds no acquisition set.
var ErrNoSets = errors.New("reconstruction: no acquisition sets")

// Params holds the pipeline parameters.
type Params struct {
	// InputFile is the interchange container holding the Images and Masks stacks.
	InputFile string

	// MaskIndex selects the mask plane applied to every set. A container
	// without masks is processed over the full frame.
	MaskIndex int

	// NumCores bounds how many acquisition sets are processed concurrently.
	NumCores int

	// Period is the phase period in radians, normally 2*pi.
	Period float64

	// Projection is config.ProjectionSingle or config.ProjectionLeastSquares.
	Projection string

	// Corrections lists the aberration groups removed from each surface.
	Corrections []string

	Demodulation demodulation.Options
	Unwrap       unwrap.Options
	Zernike      zernike.Options

	// Units converts radians into the reporting unit.
	Units units.Converter
}

// NewParams builds pipeline parameters from a validated configuration.
func NewParams(cfg *config.Config, inputFile string) *Params {
	return &Params{
		InputFile:    inputFile,
		MaskIndex:    cfg.Processing.MaskIndex,
		NumCores:     cfg.Processing.NumCores,
		Period:       cfg.Processing.Period,
		Projection:   cfg.Processing.Projection,
		Corrections:  append([]string(nil), cfg.Processing.Corrections...),
		Demodulation: cfg.DemodulationOptions(),
		Unwrap:       cfg.UnwrapOptions(),
		Zernike:      cfg.ZernikeOptions(),
		Units:        cfg.Converter(),
	}
}

// SetResult is everything computed for one acquisition set. Grids are in
// radians; Err is set when the set failed calibration and nothing past the
// demodulation step was computed.
type SetResult struct {
	Index int

	Quality    demodulation.Quality
	Wrapped    *models.Grid
	Modulation *models.Grid

	Unwrapped      *models.Grid
	SeriousProblem bool
	Diagnostics    unwrap.Diagnostics
	Problematic    int

	Coefficients []float64
	Seidel       zernike.Seidel
	HasSeidel    bool

	Correction *models.Grid
	Corrected  *models.Grid

	UnwrappedStats  stats.Summary
	CorrectionStats stats.Summary
	CorrectedStats  stats.Summary

	Err error
}

// Reconstructor runs the fringe-to-wavefront pipeline over every acquisition
// set of a container:
//
//  1. Loading the acquisition sets and the selected mask
//  2. Demodulating each set into a wrapped phase, checking the phase step
//  3. Unwrapping with the cross-direction reliability check
//  4. Decomposing onto the Zernike basis and converting to Seidel terms
//  5. Subtracting the configured aberration groups
//  6. Summarising each stage with PV and RMS
//
// Steps 2 to 6 run concurrently across sets, each set owning its decomposer.
type Reconstructor struct {
	params *Params

	sets []models.AcquisitionSet
	mask *models.Mask

	results []*SetResult
}

// NewReconstructor creates a new reconstructor instance with the provided parameters.
func NewReconstructor(params *Params) *Reconstructor {
	return &Reconstructor{params: params}
}

// SetInput supplies the acquisition sets and mask directly; Process then skips
// reading the container. A nil mask keeps every pixel.
func (r *Reconstructor) SetInput(sets []models.AcquisitionSet, mask *models.Mask) {
	r.sets = sets
	r.mask = mask
}

// Process runs the complete pipeline. A set that fails calibration is recorded
// in its SetResult and the other sets continue; any other failure aborts.
func (r *Reconstructor) Process(ctx context.Context) error {
	if r.sets == nil {
		logrus.WithField("step", "load").Infof("Loading acquisition sets from %s", r.params.InputFile)
		if err := r.loadSets(); err != nil {
			return pkgerrors.Wrap(err, "failed to load acquisition sets")
		}
	}
	if len(r.sets) == 0 {
		return ErrNoSets
	}
	if r.mask == nil {
		w, h, err := r.sets[0].Shape()
		if err != nil {
			return err
		}
		r.mask = models.NewMask(w, h, true)
	}

	logrus.WithFields(logrus.Fields{
		"sets":       len(r.sets),
		"aperture":   r.mask.Count(),
		"projection": r.params.Projection,
	}).Info("Processing acquisition sets")

	if err := r.processSetsInParallel(ctx); err != nil {
		return err
	}

	failed := 0
	for _, res := range r.results {
		if res.Err != nil {
			failed++
		}
	}
	logrus.WithFields(logrus.Fields{"sets": len(r.results), "failed": failed}).Info("Reconstruction finished")
	return nil
}

func (r *Reconstructor) loadSets() error {
	c, err := container.Open(r.params.InputFile)
	if err != nil {
		return err
	}
	defer c.Close()

	sets, err := c.AcquisitionSets()
	if err != nil {
		return err
	}
	r.sets = sets

	masks, err := c.ReadMasks()
	if err != nil {
		return err
	}
	if len(masks) == 0 {
		logrus.Warn("Container holds no mask, processing the full frame")
		return nil
	}
	if r.params.MaskIndex < 0 || r.params.MaskIndex >= len(masks) {
		return pkgerrors.Wrapf(container.ErrNoMask, "mask %d of %d", r.params.MaskIndex, len(masks))
	}
	r.mask = masks[r.params.MaskIndex]
	return nil
}

func (r *Reconstructor) processSetsInParallel(ctx context.Context) error {
	numCores := r.params.NumCores
	if numCores < 1 {
		numCores = runtime.NumCPU()
	}

	results := make([]*SetResult, len(r.sets))
	var completed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numCores)
	for i := range r.sets {
		i := i
		g.Go(func() error {
			res, err := r.ProcessSet(gctx, r.sets[i])
			if err != nil {
				return pkgerrors.Wrapf(err, "set %d", r.sets[i].Index)
			}
			results[i] = res

			done := completed.Add(1)
			logrus.WithField("set", res.Index).Infof("Set processed (%d/%d)", done, len(r.sets))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.results = results
	return nil
}

// ProcessSet runs steps 2 to 6 on one acquisition set with the reconstructor's
// mask. Calibration failures are reported in the result, not as an error.
func (r *Reconstructor) ProcessSet(ctx context.Context, set models.AcquisitionSet) (*SetResult, error) {
	log := logrus.WithField("set", set.Index)
	res := &SetResult{Index: set.Index}

	mask := r.mask
	if mask == nil {
		w, h, err := set.Shape()
		if err != nil {
			return nil, err
		}
		mask = models.NewMask(w, h, true)
	}

	demod, err := demodulation.Demodulate(set.Frames, mask, r.params.Demodulation)
	if err != nil {
		var calErr *demodulation.CalibrationError
		if errors.As(err, &calErr) {
			log.WithField("step", "demodulate").Warnf("Rejected: %v", err)
			res.Quality = calErr.Quality
			res.Err = err
			return res, nil
		}
		return nil, err
	}
	res.Quality = demod.Quality
	res.Wrapped = demod.Phase
	res.Modulation = demod.Modulation
	log.WithFields(logrus.Fields{
		"step":  "demodulate",
		"shift": demod.Quality.MeanAngle,
		"std":   demod.Quality.StdAngle,
	}).Debug("Wrapped phase computed")

	unw := unwrap.Unwrap2DWithOptions(demod.Phase, r.params.Period, r.params.Unwrap)
	res.Unwrapped = unw.Surface
	res.SeriousProblem = unw.SeriousProblem
	res.Diagnostics = unw.Diagnostics
	res.Problematic = unw.Problematic
	if unw.SeriousProblem {
		log.WithFields(logrus.Fields{
			"step":        "unwrap",
			"problematic": unw.Diagnostics.ProblematicRatio,
			"stdOffset":   unw.Diagnostics.StdOffset,
		}).Warn("Unwrapping directions disagree, ambiguous pixels dropped")
	} else {
		log.WithField("step", "unwrap").Debug("Surface unwrapped")
	}

	d := zernike.NewDecomposer(unw.Surface, r.params.Zernike)
	if err := r.decompose(ctx, d, log); err != nil {
		return nil, err
	}
	res.Coefficients = d.Coefficients()
	res.Seidel, res.HasSeidel = d.ToSeidel()

	res.Correction, res.Corrected, err = d.CorrectSurface(r.params.Corrections)
	if err != nil {
		return nil, err
	}

	res.UnwrappedStats = stats.Compute(res.Unwrapped)
	res.CorrectionStats = stats.Compute(res.Correction)
	res.CorrectedStats = stats.Compute(res.Corrected)
	log.WithFields(logrus.Fields{
		"step": "stats",
		"pv":   res.CorrectedStats.PV,
		"rms":  res.CorrectedStats.RMS,
	}).Debug("Surface corrected")

	return res, nil
}

func (r *Reconstructor) decompose(ctx context.Context, d *zernike.Decomposer, log *logrus.Entry) error {
	log = log.WithField("step", "zernike")
	if r.params.Projection == config.ProjectionLeastSquares {
		if _, err := d.FitLeastSquares(d.MaxOrder()); err != nil {
			if errors.Is(err, zernike.ErrNoValidPixels) {
				log.Warn("Empty footprint, coefficients left undefined")
				return nil
			}
			return pkgerrors.Wrap(err, "least-squares fit failed")
		}
		return ctx.Err()
	}
	return d.ProcessAll(ctx, func(order, total int) {
		log.Tracef("Coefficient %d/%d", order+1, total)
	})
}

// GetResults returns the per-set results in container order.
func (r *Reconstructor) GetResults() []*SetResult {
	return r.results
}
