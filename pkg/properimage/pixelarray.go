package properimage

import (
	"fmt"
	"image"
	"math"
)

// PixelArray is a row-major grid of intensities with an optional bad-pixel
// mask. A nil Mask means every pixel is valid.
type PixelArray struct {
	Name   string
	Width  int
	Height int
	Data   []float64
	Mask   []bool
}

// NewPixelArray wraps data (and an optional mask) after checking shapes.
func NewPixelArray(width, height int, data []float64, mask []bool) (PixelArray, error) {
	px := PixelArray{Width: width, Height: height, Data: data, Mask: mask}
	return px, px.Validate()
}

// NewBlankPixelArray allocates a zeroed, unmasked grid.
func NewBlankPixelArray(width, height int) PixelArray {
	return PixelArray{Width: width, Height: height, Data: make([]float64, width*height)}
}

// Validate checks that the data and mask agree with the declared shape.
func (px PixelArray) Validate() error {
	if px.Width <= 0 || px.Height <= 0 {
		return fmt.Errorf("%s: invalid shape %dx%d", px.label(), px.Width, px.Height)
	}
	if len(px.Data) != px.Width*px.Height {
		return fmt.Errorf("%s: data length %d does not match %dx%d", px.label(), len(px.Data), px.Width, px.Height)
	}
	if px.Mask != nil && len(px.Mask) != len(px.Data) {
		return fmt.Errorf("%s: mask length %d does not match data length %d", px.label(), len(px.Mask), len(px.Data))
	}
	return nil
}

func (px PixelArray) label() string {
	if px.Name == "" {
		return "image"
	}
	return px.Name
}

// Shape returns the grid size as a point (width, height).
func (px PixelArray) Shape() image.Point { return image.Pt(px.Width, px.Height) }

func (px PixelArray) At(x, y int) float64 { return px.Data[y*px.Width+x] }

// Masked reports whether pixel i is flagged as invalid.
func (px PixelArray) Masked(i int) bool {
	return px.Mask != nil && px.Mask[i]
}

// Usable reports whether pixel i is unmasked and finite.
func (px PixelArray) Usable(i int) bool {
	if px.Masked(i) {
		return false
	}
	v := px.Data[i]
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MaskedCount returns the number of flagged pixels.
func (px PixelArray) MaskedCount() int {
	n := 0
	for _, m := range px.Mask {
		if m {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (px PixelArray) Clone() PixelArray {
	c := px
	c.Data = append([]float64(nil), px.Data...)
	if px.Mask != nil {
		c.Mask = append([]bool(nil), px.Mask...)
	}
	return c
}

// ToMat converts the data to a CV_32F Mat for the filter backend.
func (px PixelArray) ToMat() Mat {
	m := NewMatWithSize(px.Height, px.Width)
	dest := m.DataFloat32()
	for i, v := range px.Data {
		dest[i] = float32(v)
	}
	return m
}
