/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package properimage

import (
	"math"
)

// EstimateNoise performs iterative symmetric kappa-sigma clipping over the
// usable pixels of px and returns the clipped mean as background and the
// clipped standard deviation as noise.
func EstimateNoise(px PixelArray, p NoiseParams) (NoiseEstimate, error) {
	if err := px.Validate(); err != nil {
		return NoiseEstimate{}, err
	}

	valid := make([]bool, len(px.Data))
	numValid := 0
	for i := range px.Data {
		if px.Usable(i) {
			valid[i] = true
			numValid++
		}
	}
	if numValid < p.MinPixels {
		return NoiseEstimate{}, &InsufficientDataError{Input: px.label(), What: "pixels", Have: numValid, Need: p.MinPixels}
	}

	img := px.ToMat()
	defer img.Close()
	clipMask := NewMat()
	defer clipMask.Close()

	var mean, sigma float64
	if numValid == len(px.Data) {
		mean, sigma = matMeanStdDev(img)
	} else {
		mean, sigma, _ = meanStdDevWithMask(img, nil, valid)
	}
	count := numValid
	numIterations := 0

	for numIterations < p.MaxIterations && sigma > 0 {
		lower := float32(mean - p.ClipSigma*sigma)
		upper := float32(mean + p.ClipSigma*sigma)
		inRangeScalar(img, lower, upper, &clipMask)
		meanVal, sigmaVal, n := meanStdDevWithMask(img, clipMask.DataFloat32(), valid)
		numIterations++

		if n < p.MinPixels {
			return NoiseEstimate{}, &InsufficientDataError{Input: px.label(), What: "pixels after clipping", Have: n, Need: p.MinPixels}
		}

		converged := n == count || math.Abs(sigmaVal-sigma) <= p.Tolerance*sigma
		mean, sigma, count = meanVal, sigmaVal, n
		if converged {
			break
		}
	}

	if !(sigma > 0) {
		return NoiseEstimate{}, &InsufficientDataError{Input: px.label(), What: "distinct pixel values", Have: 1, Need: 2}
	}

	return NoiseEstimate{
		Background: mean,
		Sigma:      sigma,
		Variance:   sigma * sigma,
		Pixels:     count,
		Iterations: numIterations,
	}, nil
}

// meanStdDevWithMask computes mean and stddev of pixels where both the clip
// mask (if any) is non-zero and valid is set.
func meanStdDevWithMask(img Mat, clip []float32, valid []bool) (float64, float64, int) {
	imgData := img.DataFloat32()

	var sum float64
	count := 0
	for i, ok := range valid {
		if ok && (clip == nil || clip[i] != 0) {
			sum += float64(imgData[i])
			count++
		}
	}
	if count == 0 {
		return 0, 0, 0
	}
	mean := sum / float64(count)

	var sse float64
	for i, ok := range valid {
		if ok && (clip == nil || clip[i] != 0) {
			diff := float64(imgData[i]) - mean
			sse += diff * diff
		}
	}
	return mean, math.Sqrt(sse / float64(count)), count
}
