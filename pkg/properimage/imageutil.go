package properimage

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ConvolveGaussian applies a separated Gaussian convolution.
func ConvolveGaussian(src, dst *Mat, kernelSize int) {
	if kernelSize < 3 || kernelSize%2 == 0 {
		panic("kernelSize must be a positive odd number >= 3")
	}
	sigma := 0.159758 * float64(kernelSize)
	kernel := getGaussianKernel1D(kernelSize, sigma)
	defer kernel.Close()
	sepFilter2DReflect(*src, dst, kernel, kernel)
}

// Binarize thresholds the image to 0/1.
func Binarize(src, dst *Mat, threshold float64) {
	thresholdBinary(*src, dst, float32(threshold), 1.0)
}

// sigmaClippedMean returns the mean of values after iteratively discarding
// those further than k standard deviations from the running mean.
func sigmaClippedMean(values []float64, k float64, maxIterations int) float64 {
	kept := append([]float64(nil), values...)
	for it := 0; it < maxIterations && len(kept) > 2; it++ {
		mean, std := stat.MeanStdDev(kept, nil)
		if std == 0 {
			return mean
		}
		next := kept[:0:0]
		for _, v := range kept {
			if math.Abs(v-mean) <= k*std {
				next = append(next, v)
			}
		}
		if len(next) == len(kept) || len(next) == 0 {
			break
		}
		kept = next
	}
	return stat.Mean(kept, nil)
}

// medianFloat64 returns the median without modifying values.
func medianFloat64(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}

// normalizeSum scales v in place to unit sum and returns the original sum.
func normalizeSum(v []float64) float64 {
	s := floats.Sum(v)
	if s != 0 {
		floats.Scale(1/s, v)
	}
	return s
}

// relativeChange returns ||a-b|| / ||b||.
func relativeChange(a, b []float64) float64 {
	nb := floats.Norm(b, 2)
	if nb == 0 {
		return math.Inf(1)
	}
	return floats.Distance(a, b, 2) / nb
}
