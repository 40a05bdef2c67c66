//go:build !purego && !js

package main

import (
	"fmt"

	"gocv.io/x/gocv"

	pi "properimage/pkg/properimage"
)

func loadNonFitsImage(path string) (pi.PixelArray, error) {
	src := gocv.IMRead(path, gocv.IMReadGrayScale|gocv.IMReadAnyDepth)
	if src.Empty() {
		return pi.PixelArray{}, fmt.Errorf("could not load image: %s", path)
	}
	defer src.Close()

	floatMat := gocv.NewMat()
	defer floatMat.Close()
	src.ConvertTo(&floatMat, gocv.MatTypeCV32F)

	data, err := floatMat.DataPtrFloat32()
	if err != nil {
		return pi.PixelArray{}, fmt.Errorf("reading pixels of %s: %w", path, err)
	}
	w, h := floatMat.Cols(), floatMat.Rows()
	px := pi.NewBlankPixelArray(w, h)
	for i := range px.Data {
		px.Data[i] = float64(data[i])
	}
	return px, nil
}
