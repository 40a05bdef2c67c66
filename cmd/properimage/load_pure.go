//go:build purego || js

package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/tiff"

	pi "properimage/pkg/properimage"
)

func loadNonFitsImage(path string) (pi.PixelArray, error) {
	f, err := os.Open(path)
	if err != nil {
		return pi.PixelArray{}, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return pi.PixelArray{}, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	px := pi.NewBlankPixelArray(w, h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// luminance in the 16-bit range
			px.Data[y*w+x] = float64((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
		}
	}
	return px, nil
}
