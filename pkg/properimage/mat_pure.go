//go:build purego || js

package properimage

import (
	"math"
	"sort"
)

// Mat is a pure Go 2D float32 matrix.
type Mat struct {
	data []float32
	rows int
	cols int
}

func NewMat() Mat { return Mat{} }

func NewMatWithSize(rows, cols int) Mat {
	return Mat{data: make([]float32, rows*cols), rows: rows, cols: cols}
}

func (m Mat) Rows() int { return m.rows }
func (m Mat) Cols() int { return m.cols }

func (m Mat) Clone() Mat {
	return Mat{data: append([]float32(nil), m.data...), rows: m.rows, cols: m.cols}
}

func (m *Mat) Close() {
	m.data = nil
	m.rows = 0
	m.cols = 0
}

// DataFloat32 returns the backing float32 slice.
func (m Mat) DataFloat32() []float32 { return m.data }

func ensureSize(dst *Mat, rows, cols int) {
	if dst.rows != rows || dst.cols != cols || dst.data == nil {
		*dst = NewMatWithSize(rows, cols)
	}
}

// --- Pure Go CV operations ---

func reflectIndex(idx, size int) int {
	if size == 1 {
		return 0
	}
	for idx < 0 || idx >= size {
		if idx < 0 {
			idx = -idx - 1
		}
		if idx >= size {
			idx = 2*size - 1 - idx
		}
	}
	return idx
}

func clampIndex(idx, size int) int {
	if idx < 0 {
		return 0
	}
	if idx >= size {
		return size - 1
	}
	return idx
}

// sepFilter2DReflect convolves rows with kernelX and columns with kernelY,
// reflecting at the borders with the edge pixel repeated (OpenCV BORDER_REFLECT).
func sepFilter2DReflect(src Mat, dst *Mat, kernelX, kernelY Mat) {
	rows, cols := src.rows, src.cols
	kx, ky := kernelX.data, kernelY.data
	kxHalf, kyHalf := len(kx)/2, len(ky)/2

	temp := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		row := src.data[r*cols : (r+1)*cols]
		for c := 0; c < cols; c++ {
			var sum float32
			if c >= kxHalf && c < cols-kxHalf {
				base := c - kxHalf
				for k, w := range kx {
					sum += row[base+k] * w
				}
			} else {
				for k, w := range kx {
					sum += row[reflectIndex(c+k-kxHalf, cols)] * w
				}
			}
			temp[r*cols+c] = sum
		}
	}

	out := make([]float32, rows*cols)
	rowOffs := make([]int, len(ky))
	for r := 0; r < rows; r++ {
		for k := range ky {
			rowOffs[k] = reflectIndex(r+k-kyHalf, rows) * cols
		}
		for c := 0; c < cols; c++ {
			var sum float32
			for k, w := range ky {
				sum += temp[rowOffs[k]+c] * w
			}
			out[r*cols+c] = sum
		}
	}

	ensureSize(dst, rows, cols)
	copy(dst.data, out)
}

func getGaussianKernel1D(size int, sigma float64) Mat {
	m := NewMatWithSize(size, 1)
	half := size / 2
	sum := 0.0
	values := make([]float64, size)
	for i := range values {
		x := float64(i - half)
		values[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += values[i]
	}
	for i, v := range values {
		m.data[i] = float32(v / sum)
	}
	return m
}

// medianBlur replicates edge pixels, matching OpenCV's median filter border.
func medianBlur(src Mat, dst *Mat, ksize int) {
	rows, cols := src.rows, src.cols
	half := ksize / 2
	result := make([]float32, rows*cols)
	window := make([]float32, 0, ksize*ksize)

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			window = window[:0]
			for dr := -half; dr <= half; dr++ {
				rr := clampIndex(r+dr, rows)
				for dc := -half; dc <= half; dc++ {
					window = append(window, src.data[rr*cols+clampIndex(c+dc, cols)])
				}
			}
			sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
			result[r*cols+c] = window[len(window)/2]
		}
	}

	ensureSize(dst, rows, cols)
	copy(dst.data, result)
}

func absDiff(a, b Mat, dst *Mat) {
	ensureSize(dst, a.rows, a.cols)
	for i := range a.data {
		d := a.data[i] - b.data[i]
		if d < 0 {
			d = -d
		}
		dst.data[i] = d
	}
}

func thresholdBinary(src Mat, dst *Mat, thresh, maxval float32) {
	ensureSize(dst, src.rows, src.cols)
	for i, v := range src.data {
		if v > thresh {
			dst.data[i] = maxval
		} else {
			dst.data[i] = 0
		}
	}
}

func countNonZero(src Mat) int {
	count := 0
	for _, v := range src.data {
		if v != 0 {
			count++
		}
	}
	return count
}

func inRangeScalar(src Mat, lower, upper float32, dst *Mat) {
	ensureSize(dst, src.rows, src.cols)
	for i, v := range src.data {
		if v >= lower && v <= upper {
			dst.data[i] = 1
		} else {
			dst.data[i] = 0
		}
	}
}

func matMeanStdDev(src Mat) (float64, float64) {
	n := len(src.data)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range src.data {
		sum += float64(v)
	}
	mean := sum / float64(n)
	var sse float64
	for _, v := range src.data {
		d := float64(v) - mean
		sse += d * d
	}
	return mean, math.Sqrt(sse / float64(n))
}

func matCopyToWithMask(src Mat, dst *Mat, mask Mat) {
	for i, m := range mask.data {
		if m != 0 {
			dst.data[i] = src.data[i]
		}
	}
}
