package main

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wavefront/internal/models"
	"wavefront/pkg/container"
	"wavefront/pkg/synthetic"
)

func NewInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <container>",
		Short: "Print the shape of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container.Open(args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			info, err := c.Describe()
			if err != nil {
				return err
			}
			cmd.Printf("Container: %s\n", info.Path)
			cmd.Printf("Images:    %d planes (%d sets)\n", info.Depth, info.Sets)
			cmd.Printf("Masks:     %d planes\n", info.Masks)
			cmd.Printf("Shape:     %dx%d\n", info.Width, info.Height)
			if info.Depth%models.FramesPerSet != 0 {
				logrus.Warnf("Images depth %d is not a multiple of %d, the container cannot be processed",
					info.Depth, models.FramesPerSet)
			}
			return nil
		},
	}
}

func NewSynthCommand() *cobra.Command {
	var (
		size      int
		radius    float64
		shifts    []float64
		tiltX     float64
		tiltY     float64
		defocus   float64
		bias      float64
		amplitude float64
	)

	cmd := &cobra.Command{
		Use:   "synth <container>",
		Short: "Write a synthetic container for smoke testing",
		Long: `Write a synthetic container for smoke testing.

Each value of --shifts produces one acquisition set of a tilt + defocus surface
captured with that phase step in degrees. A circular mask is stored as mask 0.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if size < 2 {
				return pkgerrors.Errorf("size must be at least 2, got %d", size)
			}
			if radius <= 0 {
				radius = float64(size)/2 - 2
			}

			c, err := container.Create(args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			mask := models.NewCircularMask(size, size, radius)
			phase := synthetic.Surface(size, size, mask, synthetic.TiltDefocus(tiltX, tiltY, defocus))

			planes := make([]*models.Grid, 0, len(shifts)*models.FramesPerSet)
			for _, shift := range shifts {
				frames := synthetic.Frames(phase, shift, bias, amplitude)
				planes = append(planes, frames[:]...)
			}
			// drop masks left by an earlier run so a new size is accepted
			if err := c.WriteMasks(nil); err != nil {
				return err
			}
			if err := c.WriteImages(planes); err != nil {
				return err
			}
			if err := c.WriteMasks([]*models.Mask{mask}); err != nil {
				return err
			}

			logrus.WithFields(logrus.Fields{
				"sets":   len(shifts),
				"size":   size,
				"pixels": mask.Count(),
			}).Infof("Synthetic container written to %s", args[0])
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&size, "size", 128, "frame width and height in pixels")
	f.Float64Var(&radius, "radius", 0, "mask radius in pixels (default size/2-2)")
	f.Float64SliceVar(&shifts, "shifts", []float64{90}, "phase step of each set in degrees")
	f.Float64Var(&tiltX, "tilt-x", 20, "x tilt in radians at the frame edge")
	f.Float64Var(&tiltY, "tilt-y", -8, "y tilt in radians at the frame edge")
	f.Float64Var(&defocus, "defocus", 3, "defocus coefficient in radians")
	f.Float64Var(&bias, "bias", 128, "mean intensity")
	f.Float64Var(&amplitude, "amplitude", 100, "fringe amplitude")

	return cmd
}
