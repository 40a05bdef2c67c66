package main

import (
	"github.com/sgostarter/i/l"
	"github.com/spf13/cobra"

	pi "properimage/pkg/properimage"
)

var (
	version = "dev"

	configPath string
	verbose    bool

	logger = l.NewNopLoggerWrapper()
	params = pi.NewParams()
)

var rootCmd = &cobra.Command{
	Use:   "properimage",
	Short: "PSF estimation, optimal image subtraction and co-addition",
	Long: `properimage estimates the PSF of aligned astronomical frames from a
source catalog and runs Zackay-Ofek optimal subtraction and co-addition
on them. Frames are FITS files or 16-bit images; catalogs are CSV files
with x, y and flux columns.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML parameter file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log progress to the console")
}

func setup(_ *cobra.Command, _ []string) error {
	if verbose {
		logger = l.NewConsoleLoggerWrapper()
	} else {
		logger = l.NewNopLoggerWrapper()
	}

	if configPath == "" {
		params = pi.NewParams()
		return params.Finalize()
	}
	p, err := pi.LoadParams(configPath)
	if err != nil {
		return err
	}
	params = p
	return nil
}
