package main

import (
	"fmt"

	"github.com/spf13/cobra"

	pi "properimage/pkg/properimage"
)

var (
	psfCatalog string
	psfKernel  string
	psfKLBasis bool
	psfNormal  string
)

var psfCmd = &cobra.Command{
	Use:   "psf <frame>",
	Short: "Estimate the PSF of a frame and report its variation across the field",
	Args:  cobra.ExactArgs(1),
	RunE:  runPSF,
}

func init() {
	psfCmd.Flags().StringVar(&psfCatalog, "catalog", "", "source catalog CSV (default: <frame>.csv)")
	psfCmd.Flags().StringVar(&psfKernel, "kernel", "", "write the PSF kernel to this FITS file")
	psfCmd.Flags().BoolVar(&psfKLBasis, "kl-basis", false, "fit a spatially variable Karhunen-Loeve PSF basis")
	psfCmd.Flags().StringVar(&psfNormal, "normal", "", "write the PSF normalization image to this FITS file")
	rootCmd.AddCommand(psfCmd)
}

func runPSF(cmd *cobra.Command, args []string) error {
	if psfKLBasis {
		params.PSF.KLBasis = true
	}
	img, header, err := loadSingleImage(args[0], psfCatalog, 0)
	if err != nil {
		return err
	}

	psf := img.PSF()
	cmd.Printf("Image: %s\n", img)
	cmd.Printf("Noise: %s\n", img.Noise())
	cmd.Printf("PSF: %s\n", psf)
	if psf.Shape != nil {
		cmd.Printf("FWHM: %.3f px, eccentricity %.3f\n", psf.Shape.FWHMPixels, psf.Shape.Eccentricity)
	}

	for i, b := range psf.Basis {
		cmd.Printf("Basis %d: power %.4f, field degree %d\n", i, b.Power, b.Field.Degree)
	}

	shape := img.Shape()
	if field := pi.AnalyzeField(psf.StarShapes, shape.X, shape.Y); field != nil {
		printField(cmd, field)
	}

	if psfKernel != "" {
		kernel, err := pi.NewPixelArray(psf.Size, psf.Size, psf.Kernel, nil)
		if err != nil {
			return err
		}
		h := outputHeader(header, "psf")
		h.Set("PSFSTAMP", fmt.Sprint(psf.Stamps))
		h.Set("PSFUNC", fmt.Sprintf("%g", psf.Uncertainty))
		if err := pi.WriteFits(psfKernel, kernel, h); err != nil {
			return err
		}
		cmd.Printf("Kernel written to %s\n", psfKernel)
	}

	if psfNormal != "" {
		h := outputHeader(header, "psf-normalization")
		h.Set("PSFBASIS", fmt.Sprint(len(psf.Basis)))
		if err := pi.WriteFits(psfNormal, psf.NormalizationImage(shape.X, shape.Y), h); err != nil {
			return err
		}
		cmd.Printf("Normalization image written to %s\n", psfNormal)
	}
	return nil
}

func printField(cmd *cobra.Command, field *pi.FieldAnalysis) {
	rows := [][]pi.ZonePosition{
		{pi.ZoneTopLeft, pi.ZoneTop, pi.ZoneTopRight},
		{pi.ZoneLeft, pi.ZoneCenter, pi.ZoneRight},
		{pi.ZoneBottomLeft, pi.ZoneBottom, pi.ZoneBottomRight},
	}
	for _, row := range rows {
		for _, pos := range row {
			z := field.Zones[pos]
			if z.StarCount == 0 {
				cmd.Printf("%8s: %-14s", z.Label, "-")
				continue
			}
			cmd.Printf("%8s: %5.2f (%3d)   ", z.Label, z.MedianFWHM, z.StarCount)
		}
		cmd.Println()
	}
	if !field.Reliable {
		cmd.Println("Field analysis: too few stars for a reliable tilt estimate")
		return
	}
	cmd.Printf("Tilt: %.1f%%, off-axis: %.1f%% (best %s, worst %s)\n",
		field.TiltPct, field.OffAxisPct, field.BestCorner, field.WorstCorner)
}
