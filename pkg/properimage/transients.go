/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package properimage

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/sgostarter/i/l"
)

// FindTransients thresholds |S| of a significance map and returns the
// 8-connected regions above p.Threshold, strongest first. Negative regions
// (flux that disappeared from the new image) keep their sign in Peak.
func FindTransients(significance PixelArray, p DetectionParams, logger l.Wrapper) ([]Transient, error) {
	if err := significance.Validate(); err != nil {
		return nil, err
	}
	if !(p.Threshold > 0) {
		return nil, fmt.Errorf("%s: detection threshold must be positive, got %g", significance.label(), p.Threshold)
	}
	if logger == nil {
		logger = l.NewNopLoggerWrapper()
	}

	absMap := NewMatWithSize(significance.Height, significance.Width)
	defer absMap.Close()
	absData := absMap.DataFloat32()
	for i, v := range significance.Data {
		if significance.Usable(i) {
			absData[i] = float32(math.Abs(v))
		}
	}

	structureMap := NewMat()
	defer structureMap.Close()
	Binarize(&absMap, &structureMap, p.Threshold)

	transients := scanRegions(significance, structureMap)
	kept := transients[:0]
	for _, t := range transients {
		if t.Pixels >= p.MinPixels {
			kept = append(kept, t)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return math.Abs(kept[i].Peak) > math.Abs(kept[j].Peak)
	})

	logger.WithFields(
		l.StringField(l.ClsKey, "transients"),
		l.IntField("regions", len(transients)),
		l.IntField("kept", len(kept)),
	).Debug("significance map scanned")
	return kept, nil
}

// scanRegions walks the binary structure map, flood-filling each region and
// clearing it so every pixel is visited once.
func scanRegions(significance PixelArray, structureMap Mat) []Transient {
	const zeroThreshold float32 = 0.001

	width, height := significance.Width, significance.Height
	structureData := structureMap.DataFloat32()
	regions := make([]Transient, 0)
	stack := make([]image.Point, 0, 256)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if structureData[y*width+x] < zeroThreshold {
				continue
			}

			t := Transient{Bounds: image.Rect(x, y, x+1, y+1)}
			var sx, sy, sw float64
			stack = append(stack[:0], image.Pt(x, y))
			structureData[y*width+x] = 0

			for len(stack) > 0 {
				pt := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				v := significance.Data[pt.Y*width+pt.X]
				a := math.Abs(v)
				sx += a * float64(pt.X)
				sy += a * float64(pt.Y)
				sw += a
				t.Pixels++
				if a > math.Abs(t.Peak) {
					t.Peak = v
				}
				t.Bounds = t.Bounds.Union(image.Rect(pt.X, pt.Y, pt.X+1, pt.Y+1))

				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := pt.X+dx, pt.Y+dy
						if nx < 0 || ny < 0 || nx >= width || ny >= height {
							continue
						}
						if structureData[ny*width+nx] < zeroThreshold {
							continue
						}
						structureData[ny*width+nx] = 0
						stack = append(stack, image.Pt(nx, ny))
					}
				}
			}

			t.Center = Point2d{X: sx / sw, Y: sy / sw}
			regions = append(regions, t)
		}
	}
	return regions
}
