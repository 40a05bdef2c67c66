package main

import (
	"fmt"

	"github.com/sgostarter/i/l"
	"github.com/spf13/cobra"

	pi "properimage/pkg/properimage"
)

var (
	newCatalog       string
	refCatalog       string
	newZeroPoint     float64
	refZeroPoint     float64
	differenceOut    string
	significanceOut  string
	scoreOut         string
	overlayOut       string
	overlayLimit     float64
	maxListTransient int
)

var subtractCmd = &cobra.Command{
	Use:   "subtract <new> <reference>",
	Short: "Compute the optimal difference of two aligned frames and list transients",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubtract,
}

func init() {
	f := subtractCmd.Flags()
	f.StringVar(&newCatalog, "new-catalog", "", "source catalog of the new frame (default: <new>.csv)")
	f.StringVar(&refCatalog, "ref-catalog", "", "source catalog of the reference frame (default: <reference>.csv)")
	f.Float64Var(&newZeroPoint, "new-zp", 0, "flux scale of the new frame (default: from header, else 1)")
	f.Float64Var(&refZeroPoint, "ref-zp", 0, "flux scale of the reference frame (default: from header, else 1)")
	f.StringVarP(&differenceOut, "out", "o", "", "write the difference image D to this FITS file")
	f.StringVar(&significanceOut, "significance", "", "write the significance map S_corr to this FITS file")
	f.StringVar(&scoreOut, "score", "", "write the proper score map to this FITS file")
	f.StringVar(&overlayOut, "overlay", "", "render the significance map with transients to this JPEG file")
	f.Float64Var(&overlayLimit, "overlay-limit", 0, "color scale limit of the overlay (default: detection threshold)")
	f.IntVar(&maxListTransient, "max-list", 20, "maximum number of transients to print")
	rootCmd.AddCommand(subtractCmd)
}

func runSubtract(cmd *cobra.Command, args []string) error {
	n, header, err := loadSingleImage(args[0], newCatalog, newZeroPoint)
	if err != nil {
		return err
	}
	r, _, err := loadSingleImage(args[1], refCatalog, refZeroPoint)
	if err != nil {
		return err
	}

	result, err := pi.NewSubtractor(params.Engine, logger).Subtract(n, r)
	if err != nil {
		return err
	}
	cmd.Printf("New: %s\n", n)
	cmd.Printf("Reference: %s\n", r)
	cmd.Printf("F_D=%g, ||P_D||=%g\n", result.FluxD, result.PSFNorm)

	transients, err := pi.FindTransients(result.Significance, params.Detection, logger)
	if err != nil {
		return err
	}
	cmd.Printf("Transients above %.1f sigma: %d\n", params.Detection.Threshold, len(transients))
	for i, t := range transients {
		if i == maxListTransient {
			cmd.Printf("  ... %d more\n", len(transients)-i)
			break
		}
		cmd.Printf("  %3d %s\n", i+1, t)
	}

	outputs := []struct {
		path, product string
		px            pi.PixelArray
	}{
		{differenceOut, "difference", result.Difference},
		{significanceOut, "significance", result.Significance},
		{scoreOut, "score", result.Score},
	}
	for _, o := range outputs {
		if o.path == "" {
			continue
		}
		h := outputHeader(header, o.product)
		h.Set("FLUXD", fmt.Sprintf("%g", result.FluxD))
		h.Set("NTRANS", fmt.Sprint(len(transients)))
		if err := pi.WriteFits(o.path, o.px, h); err != nil {
			return err
		}
		logger.WithFields(l.StringField("product", o.product), l.StringField("path", o.path)).Debug("written")
	}

	if overlayOut != "" {
		limit := overlayLimit
		if limit <= 0 {
			limit = params.Detection.Threshold
		}
		if err := pi.RenderSignificanceOverlay(result.Significance, transients, limit, overlayOut); err != nil {
			return err
		}
		cmd.Printf("Overlay written to %s\n", overlayOut)
	}
	return nil
}
