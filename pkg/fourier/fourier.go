// Package fourier provides the 2-D transform context used by the image
// engines: padding to FFT-friendly sizes, forward and inverse transforms,
// kernel embedding at the grid origin and sub-pixel phase-ramp shifts.
//
// All grids are row-major with index y*width + x.
package fourier

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// PadMode selects how the area outside the image is filled before a transform.
type PadMode int

const (
	// PadZero fills the pad area with zeros.
	PadZero PadMode = iota
	// PadTaper fills the pad area with a linear ramp between opposite image
	// edges so the periodic extension has no step.
	PadTaper
)

func (m PadMode) String() string {
	switch m {
	case PadZero:
		return "zero"
	case PadTaper:
		return "taper"
	default:
		return "unknown"
	}
}

// ParsePadMode maps a configuration string to a PadMode.
func ParsePadMode(s string) (PadMode, bool) {
	switch s {
	case "", "zero":
		return PadZero, true
	case "taper":
		return PadTaper, true
	}
	return PadZero, false
}

// Context holds the FFT plans and scratch buffers for one padded grid size.
// A Context is owned by a single caller and is not safe for concurrent use.
type Context struct {
	width, height int
	rowFFT        *fourier.CmplxFFT
	colFFT        *fourier.CmplxFFT
	row           []complex128
	col           []complex128
}

// NewContext creates a transform context for a width x height grid.
func NewContext(width, height int) *Context {
	return &Context{
		width:  width,
		height: height,
		rowFFT: fourier.NewCmplxFFT(width),
		colFFT: fourier.NewCmplxFFT(height),
		row:    make([]complex128, width),
		col:    make([]complex128, height),
	}
}

func (c *Context) Len() int { return c.width * c.height }

// Forward returns the unnormalized 2-D DFT of a real grid.
func (c *Context) Forward(data []float64) []complex128 {
	out := make([]complex128, c.Len())
	for i, v := range data[:c.Len()] {
		out[i] = complex(v, 0)
	}
	c.transform(out, true)
	return out
}

// Inverse returns the real part of the inverse 2-D DFT, scaled by 1/(w*h)
// so that Inverse(Forward(x)) == x.
func (c *Context) Inverse(spec []complex128) []float64 {
	work := make([]complex128, c.Len())
	copy(work, spec)
	c.transform(work, false)
	scale := 1.0 / float64(c.Len())
	out := make([]float64, c.Len())
	for i, v := range work {
		out[i] = real(v) * scale
	}
	return out
}

func (c *Context) transform(a []complex128, forward bool) {
	w, h := c.width, c.height

	for y := 0; y < h; y++ {
		r := a[y*w : (y+1)*w]
		copy(c.row, r)
		if forward {
			c.rowFFT.Coefficients(c.row, c.row)
		} else {
			c.rowFFT.Sequence(c.row, c.row)
		}
		copy(r, c.row)
	}

	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			c.col[y] = a[y*w+x]
		}
		if forward {
			c.colFFT.Coefficients(c.col, c.col)
		} else {
			c.colFFT.Sequence(c.col, c.col)
		}
		for y := 0; y < h; y++ {
			a[y*w+x] = c.col[y]
		}
	}
}

// Frequency returns the signed frequency index of bin k on an n-point axis.
func Frequency(k, n int) int {
	if k > n/2 {
		return k - n
	}
	return k
}

// Shift translates a grid of the context's size by (dx, dy) pixels using a
// Fourier phase ramp, so out(x, y) = in(x-dx, y-dy) with periodic boundaries.
func (c *Context) Shift(data []float64, dx, dy float64) []float64 {
	if dx == 0 && dy == 0 {
		out := make([]float64, c.Len())
		copy(out, data)
		return out
	}
	spec := c.Forward(data)
	w, h := c.width, c.height
	// Nyquist bins keep the +n/2 phase; taking the real part on the way back
	// symmetrizes them, which is exact for integer shifts.
	for y := 0; y < h; y++ {
		fy := float64(Frequency(y, h)) / float64(h)
		for x := 0; x < w; x++ {
			fx := float64(Frequency(x, w)) / float64(w)
			phase := -2 * math.Pi * (fx*dx + fy*dy)
			spec[y*w+x] *= cmplx.Rect(1, phase)
		}
	}
	return c.Inverse(spec)
}

// Gradient returns the spectral x and y derivatives of a grid.
func (c *Context) Gradient(data []float64) ([]float64, []float64) {
	spec := c.Forward(data)
	w, h := c.width, c.height
	sx := make([]complex128, len(spec))
	sy := make([]complex128, len(spec))
	for y := 0; y < h; y++ {
		ky := 2 * math.Pi * float64(Frequency(y, h)) / float64(h)
		if h%2 == 0 && y == h/2 {
			ky = 0
		}
		for x := 0; x < w; x++ {
			kx := 2 * math.Pi * float64(Frequency(x, w)) / float64(w)
			if w%2 == 0 && x == w/2 {
				kx = 0
			}
			i := y*w + x
			sx[i] = spec[i] * complex(0, kx)
			sy[i] = spec[i] * complex(0, ky)
		}
	}
	return c.Inverse(sx), c.Inverse(sy)
}

// MaxAbs returns the largest modulus in a spectrum.
func MaxAbs(spec []complex128) float64 {
	var m float64
	for _, v := range spec {
		if a := cmplx.Abs(v); a > m {
			m = a
		}
	}
	return m
}
