package properimage

import (
	"math"

	"github.com/sgostarter/i/l"
)

// fillWeightFloor is the smallest interpolation weight a filled pixel needs;
// holes wider than the fill kernel stay masked.
const fillWeightFloor = 1e-3

// PrepareStats counts what PrepareFrame did to a frame.
type PrepareStats struct {
	NonFinite  int
	Saturated  int
	CosmicRays int
	Filled     int
	Masked     int
}

// PrepareFrame masks saturated pixels and cosmic rays, then fills masked
// pixels by normalized Gaussian convolution so transforms see no holes.
// Filled pixels are unmasked in the result; px is not modified.
func PrepareFrame(px PixelArray, p PrepareParams, noise NoiseEstimate, logger l.Wrapper) (PixelArray, PrepareStats, error) {
	var stats PrepareStats
	if err := px.Validate(); err != nil {
		return PixelArray{}, stats, err
	}
	if logger == nil {
		logger = l.NewNopLoggerWrapper()
	}
	logger = logger.WithFields(l.StringField(l.ClsKey, "prepare"), l.StringField("image", px.label()))

	out := px.Clone()
	mask := make([]bool, len(out.Data))
	copy(mask, px.Mask)
	for i, v := range out.Data {
		switch {
		case mask[i]:
		case math.IsNaN(v) || math.IsInf(v, 0):
			mask[i] = true
			stats.NonFinite++
		case p.SaturationLevel > 0 && v >= p.SaturationLevel:
			mask[i] = true
			stats.Saturated++
		}
	}
	out.Mask = mask

	if p.CosmicRaySigma > 0 && noise.Sigma > 0 {
		stats.CosmicRays = maskCosmicRays(out, p, noise)
		if stats.CosmicRays > 0 {
			logger.WithFields(l.IntField("pixels", stats.CosmicRays)).Debug("cosmic rays masked")
		}
	}

	if p.FillMasked && out.MaskedCount() > 0 {
		stats.Filled = fillMasked(out, p.FillKernelSize, noise.Background)
	}

	stats.Masked = out.MaskedCount()
	if stats.Masked == 0 && px.Mask == nil {
		out.Mask = nil
	}
	if stats.Masked > 0 {
		logger.WithFields(l.IntField("masked", stats.Masked), l.IntField("filled", stats.Filled)).
			Warn("masked pixels remain after preparation")
	}
	return out, stats, nil
}

// maskCosmicRays flags pixels that stand out from their 3x3 median by more
// than CosmicRaySigma·σ and are sharper than the local structure by ObjLim.
func maskCosmicRays(px PixelArray, p PrepareParams, noise NoiseEstimate) int {
	img := NewMatWithSize(px.Height, px.Width)
	defer img.Close()
	data := img.DataFloat32()
	for i, v := range px.Data {
		if px.Mask[i] {
			data[i] = float32(noise.Background)
		} else {
			data[i] = float32(v)
		}
	}

	blurred := NewMat()
	defer blurred.Close()
	diff := NewMat()
	defer diff.Close()
	hits := NewMat()
	defer hits.Close()

	medianBlur(img, &blurred, 3)
	absDiff(img, blurred, &diff)
	thresholdBinary(diff, &hits, float32(p.CosmicRaySigma*noise.Sigma), 1.0)
	if countNonZero(hits) == 0 {
		return 0
	}

	hitData := hits.DataFloat32()
	blurData := blurred.DataFloat32()
	flagged := 0
	for i, hit := range hitData {
		if hit == 0 || px.Mask[i] {
			continue
		}
		excess := float64(data[i] - blurData[i])
		structure := math.Max(float64(blurData[i])-noise.Background, noise.Sigma)
		if excess > 0 && excess > p.CosmicRayObjLim*structure {
			px.Mask[i] = true
			flagged++
		}
	}
	return flagged
}

// fillMasked replaces masked pixels with the Gaussian-weighted mean of their
// unmasked neighbours and unmasks them. It returns the number filled.
func fillMasked(px PixelArray, kernelSize int, background float64) int {
	values := NewMatWithSize(px.Height, px.Width)
	defer values.Close()
	weights := NewMatWithSize(px.Height, px.Width)
	defer weights.Close()
	vData, wData := values.DataFloat32(), weights.DataFloat32()
	for i, v := range px.Data {
		if !px.Mask[i] {
			vData[i] = float32(v - background)
			wData[i] = 1
		}
	}

	smoothValues := NewMat()
	defer smoothValues.Close()
	smoothWeights := NewMat()
	defer smoothWeights.Close()
	ConvolveGaussian(&values, &smoothValues, kernelSize)
	ConvolveGaussian(&weights, &smoothWeights, kernelSize)

	holes := NewMatWithSize(px.Height, px.Width)
	defer holes.Close()
	ratio := NewMatWithSize(px.Height, px.Width)
	defer ratio.Close()
	hData, rData := holes.DataFloat32(), ratio.DataFloat32()
	sv, sw := smoothValues.DataFloat32(), smoothWeights.DataFloat32()
	for i := range px.Data {
		if px.Mask[i] && sw[i] > fillWeightFloor {
			hData[i] = 1
			rData[i] = sv[i] / sw[i]
		}
	}
	matCopyToWithMask(ratio, &values, holes)

	filled := 0
	for i, h := range hData {
		if h != 0 {
			px.Data[i] = float64(vData[i]) + background
			px.Mask[i] = false
			filled++
		}
	}
	return filled
}
