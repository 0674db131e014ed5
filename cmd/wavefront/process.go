package main

import (
	"fmt"
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wavefront/pkg/reconstruction"
)

func NewProcessCommand() *cobra.Command {
	var (
		numCores     int
		maskIndex    int
		projection   string
		corrections  []string
		wedgeFactor  float64
		wavelengthNM float64
		reportFile   string
	)

	cmd := &cobra.Command{
		Use:   "process <container>",
		Short: "Reconstruct every acquisition set of a container",
		Long: `Reconstruct every acquisition set of a container.

Sets whose effective phase step is out of calibration are reported and skipped;
the remaining sets are still processed. Flags override the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("cores") {
				cfg.Processing.NumCores = numCores
			}
			if flags.Changed("mask") {
				cfg.Processing.MaskIndex = maskIndex
			}
			if flags.Changed("projection") {
				cfg.Processing.Projection = projection
			}
			if flags.Changed("corrections") {
				cfg.Processing.Corrections = corrections
			}
			if flags.Changed("wedge") {
				cfg.Calibration.WedgeFactor = wedgeFactor
			}
			if flags.Changed("wavelength") {
				cfg.Calibration.WavelengthNM = wavelengthNM
			}
			if flags.Changed("report") {
				cfg.Output.ReportFile = reportFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			r := reconstruction.NewReconstructor(reconstruction.NewParams(cfg, args[0]))

			start := time.Now()
			if err := r.Process(cmd.Context()); err != nil {
				return pkgerrors.Wrap(err, "reconstruction failed")
			}
			logrus.Infof("Reconstruction completed in %.2f seconds", time.Since(start).Seconds())

			rep := r.Report()
			if cfg.Output.Verbose {
				printSummary(cmd, rep)
			}
			if cfg.Output.ReportFile != "" {
				if err := reconstruction.WriteReport(rep, cfg.Output.ReportFile); err != nil {
					return err
				}
				logrus.Infof("Report saved to %s", cfg.Output.ReportFile)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&numCores, "cores", 0, "number of sets processed concurrently")
	f.IntVar(&maskIndex, "mask", 0, "index of the mask plane to apply")
	f.StringVar(&projection, "projection", "", "zernike projection (single, leastsquares)")
	f.StringSliceVar(&corrections, "corrections", nil, "aberration groups to subtract, e.g. piston,tilt,defocus")
	f.Float64Var(&wedgeFactor, "wedge", 0, "calibration wedge factor")
	f.Float64Var(&wavelengthNM, "wavelength", 0, "wavelength in nm, enables micrometre reporting")
	f.StringVarP(&reportFile, "report", "o", "", "YAML report path, empty to disable")

	return cmd
}

func printSummary(cmd *cobra.Command, rep *reconstruction.Report) {
	cmd.Printf("Input: %s\n", rep.Input)
	cmd.Printf("Sets: %d processed, %d rejected (unit: %s)\n\n", rep.Sets, rep.Failed, rep.Unit)
	cmd.Printf("%-5s %-8s %-8s %-10s %-10s %-10s %-10s %s\n",
		"SET", "SHIFT", "STD", "PV", "RMS", "PV CORR", "RMS CORR", "STATUS")
	for _, s := range rep.Results {
		cmd.Printf("%-5d %-8.2f %-8.2f %-10s %-10s %-10s %-10s %s\n",
			s.Index, s.Shift.MeanAngle, s.Shift.StdAngle,
			formatValue(s.Unwrapped.PV), formatValue(s.Unwrapped.RMS),
			formatValue(s.Corrected.PV), formatValue(s.Corrected.RMS),
			status(s))
	}
}

func status(s reconstruction.SetReport) string {
	switch {
	case s.Error != "":
		return "rejected: " + s.Error
	case s.SeriousProblem:
		return fmt.Sprintf("unwrap ambiguous (%.1f%% problematic)", 100*s.Unwrap.ProblematicRatio)
	}
	return "ok"
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}
