package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wavefront/pkg/config"
	"wavefront/pkg/logging"
)

var (
	configPath = "wavefront.yaml"
	logLevel   = ""
	logFormat  = ""

	// cfg is loaded once by the root command before any subcommand runs
	cfg *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wavefront",
		Short: "wavefront reconstructs optical wavefronts from phase-shifted interferograms",
		Long: `wavefront reconstructs optical wavefronts from phase-shifted interferograms.

Every block of five frames in a container is demodulated into a wrapped phase,
unwrapped, decomposed onto the Zernike basis and corrected for the configured
aberration groups. PV and RMS figures are reported for each stage.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setup()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&configPath, "config", "c", configPath, "config file path (defaults are used when missing)")
	globalFlags.StringVarP(&logLevel, "log-level", "l", logLevel, "log level (trace, debug, info, warn, error), overrides the config")
	globalFlags.StringVar(&logFormat, "log-format", logFormat, "log format (text, json), overrides the config")

	cmd.AddCommand(
		NewProcessCommand(),
		NewInspectCommand(),
		NewSynthCommand(),
		NewConfigCommand(),
	)

	return cmd
}

func setup() error {
	var err error
	cfg, err = config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr); err != nil {
		return fmt.Errorf("failed to set up logging: %v", err)
	}
	return nil
}
