package fourier

// NextSmooth returns the smallest integer >= n whose only prime factors are
// 2, 3 and 5.
func NextSmooth(n int) int {
	if n <= 1 {
		return 1
	}
	for m := n; ; m++ {
		r := m
		for _, p := range []int{2, 3, 5} {
			for r%p == 0 {
				r /= p
			}
		}
		if r == 1 {
			return m
		}
	}
}

// PaddedSize returns the transform size for an axis of n pixels that must
// absorb a kernel of the given size without wrap-around.
func PaddedSize(n, kernelSize int) int {
	return NextSmooth(n + kernelSize)
}

// Pad places a width x height grid at the origin of a pw x ph grid and fills
// the remainder according to mode.
func Pad(data []float64, width, height, pw, ph int, mode PadMode) []float64 {
	out := make([]float64, pw*ph)
	for y := 0; y < height; y++ {
		copy(out[y*pw:y*pw+width], data[y*width:(y+1)*width])
	}
	if mode != PadTaper || (pw == width && ph == height) {
		return out
	}

	if gap := pw - width; gap > 0 {
		for y := 0; y < height; y++ {
			right := out[y*pw+width-1]
			left := out[y*pw]
			for x := width; x < pw; x++ {
				t := float64(x-width+1) / float64(gap+1)
				out[y*pw+x] = (1-t)*right + t*left
			}
		}
	}
	if gap := ph - height; gap > 0 {
		bottom := (height - 1) * pw
		for y := height; y < ph; y++ {
			t := float64(y-height+1) / float64(gap+1)
			for x := 0; x < pw; x++ {
				out[y*pw+x] = (1-t)*out[bottom+x] + t*out[x]
			}
		}
	}
	return out
}

// Crop extracts the width x height grid at the origin of a pw x ph grid.
func Crop(data []float64, pw, width, height int) []float64 {
	out := make([]float64, width*height)
	for y := 0; y < height; y++ {
		copy(out[y*width:(y+1)*width], data[y*pw:y*pw+width])
	}
	return out
}

// EmbedKernel places a centered odd-sized square kernel on a pw x ph grid
// with its center pixel at (0, 0), wrapping negative offsets.
func EmbedKernel(kernel []float64, size, pw, ph int) []float64 {
	out := make([]float64, pw*ph)
	half := size / 2
	for ky := 0; ky < size; ky++ {
		y := mod(ky-half, ph)
		for kx := 0; kx < size; kx++ {
			x := mod(kx-half, pw)
			out[y*pw+x] += kernel[ky*size+kx]
		}
	}
	return out
}

// ExtractKernel is the inverse of EmbedKernel: it reads a centered size x size
// kernel out of an origin-centered pw x ph grid.
func ExtractKernel(data []float64, pw, ph, size int) []float64 {
	out := make([]float64, size*size)
	half := size / 2
	for ky := 0; ky < size; ky++ {
		y := mod(ky-half, ph)
		for kx := 0; kx < size; kx++ {
			x := mod(kx-half, pw)
			out[ky*size+kx] = data[y*pw+x]
		}
	}
	return out
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
