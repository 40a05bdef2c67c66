//go:build js && wasm

package main

import (
	"bytes"
	"syscall/js"

	"github.com/sgostarter/i/l"

	pi "properimage/pkg/properimage"
)

var (
	lastSignificance *pi.PixelArray
	lastTransients   []pi.Transient
	lastLimit        float64
)

func main() {
	js.Global().Set("estimatePSF", js.FuncOf(estimatePSF))
	js.Global().Set("subtractFITS", js.FuncOf(subtractFITS))
	js.Global().Set("renderOverlay", js.FuncOf(renderOverlay))
	select {} // block forever
}

func copyBytes(v js.Value) []byte {
	b := make([]byte, v.Get("length").Int())
	js.CopyBytesToGo(b, v)
	return b
}

// buildImage decodes a FITS frame and its CSV catalog and estimates the PSF.
func buildImage(fitsValue, csvValue js.Value, opts js.Value, p *pi.Params) (*pi.SingleImage, error) {
	fitsData, err := pi.ReadFitsFromBytes(copyBytes(fitsValue))
	if err != nil {
		return nil, err
	}
	px, err := fitsData.ToPixelArray(fitsData.Header.ObjectName())
	if err != nil {
		return nil, err
	}
	if opts.Type() == js.TypeObject && opts.Get("debayer").Type() == js.TypeBoolean && opts.Get("debayer").Bool() {
		px = pi.DebayerRGGB(px)
	}

	dets, err := pi.ReadCatalogCSV(bytes.NewReader(copyBytes(csvValue)))
	if err != nil {
		return nil, err
	}

	zp := 1.0
	if v, ok := fitsData.Header.FluxScale(); ok && v > 0 {
		zp = v
	}
	return pi.BuildSingleImage(px, dets, zp, p, l.NewNopLoggerWrapper())
}

// options reads the numeric overrides understood by both entry points.
func options(opts js.Value) *pi.Params {
	p := pi.NewParams()
	if opts.Type() != js.TypeObject {
		return p
	}
	if v := opts.Get("threshold"); v.Type() == js.TypeNumber {
		p.Detection.Threshold = v.Float()
	}
	if v := opts.Get("stampSize"); v.Type() == js.TypeNumber {
		p.PSF.StampSize = v.Int()
		p.Catalog.Margin = 0
	}
	if v := opts.Get("klBasis"); v.Type() == js.TypeBoolean {
		p.PSF.KLBasis = v.Bool()
	}
	if v := opts.Get("padding"); v.Type() == js.TypeString {
		p.Engine.Padding = v.String()
	}
	// no goroutine parallelism to gain in the browser
	p.Engine.Workers = 1
	return p
}

func estimatePSF(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("usage: estimatePSF(fitsBytes, csvBytes, options)")
	}
	opts := js.Undefined()
	if len(args) >= 3 {
		opts = args[2]
	}
	p := options(opts)
	if err := p.Finalize(); err != nil {
		return errorResult(err.Error())
	}

	img, err := buildImage(args[0], args[1], opts, p)
	if err != nil {
		return errorResult("PSF error: " + err.Error())
	}
	return js.ValueOf(imageResult(img))
}

func subtractFITS(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return errorResult("usage: subtractFITS(newFits, newCsv, refFits, refCsv, options)")
	}
	opts := js.Undefined()
	if len(args) >= 5 {
		opts = args[4]
	}
	p := options(opts)
	if err := p.Finalize(); err != nil {
		return errorResult(err.Error())
	}

	n, err := buildImage(args[0], args[1], opts, p)
	if err != nil {
		return errorResult("new image: " + err.Error())
	}
	r, err := buildImage(args[2], args[3], opts, p)
	if err != nil {
		return errorResult("reference image: " + err.Error())
	}

	logger := l.NewNopLoggerWrapper()
	result, err := pi.NewSubtractor(p.Engine, logger).Subtract(n, r)
	if err != nil {
		return errorResult("subtraction error: " + err.Error())
	}
	transients, err := pi.FindTransients(result.Significance, p.Detection, logger)
	if err != nil {
		return errorResult("detection error: " + err.Error())
	}
	lastSignificance = &result.Significance
	lastTransients = transients
	lastLimit = p.Detection.Threshold

	jsTransients := make([]interface{}, len(transients))
	for i, t := range transients {
		jsTransients[i] = map[string]interface{}{
			"x":      t.Center.X,
			"y":      t.Center.Y,
			"peak":   t.Peak,
			"pixels": t.Pixels,
		}
	}
	return js.ValueOf(map[string]interface{}{
		"width":      result.Significance.Width,
		"height":     result.Significance.Height,
		"fluxD":      result.FluxD,
		"new":        imageResult(n),
		"reference":  imageResult(r),
		"transients": jsTransients,
	})
}

func imageResult(img *pi.SingleImage) map[string]interface{} {
	psf := img.PSF()
	res := map[string]interface{}{
		"name":        img.Name(),
		"background":  img.Noise().Background,
		"sigma":       img.Noise().Sigma,
		"zeroPoint":   img.ZeroPoint(),
		"stamps":      psf.Stamps,
		"rejected":    psf.Rejected,
		"iterations":  psf.Iterations,
		"converged":   psf.Converged,
		"uncertainty": psf.Uncertainty,
	}
	if len(psf.Basis) > 0 {
		powers := make([]interface{}, len(psf.Basis))
		for i, b := range psf.Basis {
			powers[i] = b.Power
		}
		res["basisPower"] = powers
	}
	if psf.Shape != nil {
		res["fwhm"] = psf.Shape.FWHMPixels
		res["eccentricity"] = psf.Shape.Eccentricity
	}

	shape := img.Shape()
	if field := pi.AnalyzeField(psf.StarShapes, shape.X, shape.Y); field != nil {
		zoneOrder := []pi.ZonePosition{
			pi.ZoneTopLeft, pi.ZoneTop, pi.ZoneTopRight,
			pi.ZoneLeft, pi.ZoneCenter, pi.ZoneRight,
			pi.ZoneBottomLeft, pi.ZoneBottom, pi.ZoneBottomRight,
		}
		jsZones := make([]interface{}, len(zoneOrder))
		for i, pos := range zoneOrder {
			z := field.Zones[pos]
			jsZones[i] = map[string]interface{}{
				"label":              z.Label,
				"starCount":          z.StarCount,
				"medianFWHM":         z.MedianFWHM,
				"medianEccentricity": z.MedianEccentricity,
			}
		}
		res["field"] = map[string]interface{}{
			"zones":       jsZones,
			"tiltPct":     field.TiltPct,
			"offAxisPct":  field.OffAxisPct,
			"bestCorner":  field.BestCorner,
			"worstCorner": field.WorstCorner,
			"reliable":    field.Reliable,
		}
	}
	return res
}

func renderOverlay(this js.Value, args []js.Value) interface{} {
	if lastSignificance == nil {
		return js.Null()
	}

	jpegBytes, err := pi.RenderSignificanceOverlayBytes(*lastSignificance, lastTransients, lastLimit)
	if err != nil {
		return js.Null()
	}

	uint8Array := js.Global().Get("Uint8Array").New(len(jpegBytes))
	js.CopyBytesToJS(uint8Array, jpegBytes)
	return uint8Array
}

func errorResult(msg string) interface{} {
	return js.ValueOf(map[string]interface{}{
		"error": msg,
	})
}
