package properimage

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	overlayTargetWidth = 800
	overlaySummaryH    = 40
)

// RenderSignificanceOverlay writes a JPEG of the significance map with the
// given transients circled. Values are clipped to ±limit.
func RenderSignificanceOverlay(significance PixelArray, transients []Transient, limit float64, outputPath string) error {
	img, err := renderSignificanceImage(significance, transients, limit)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create overlay file: %w", err)
	}
	defer f.Close()

	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

// RenderSignificanceOverlayBytes is RenderSignificanceOverlay into memory.
func RenderSignificanceOverlayBytes(significance PixelArray, transients []Transient, limit float64) ([]byte, error) {
	img, err := renderSignificanceImage(significance, transients, limit)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderSignificanceImage(significance PixelArray, transients []Transient, limit float64) (*image.RGBA, error) {
	if err := significance.Validate(); err != nil {
		return nil, err
	}
	if !(limit > 0) {
		return nil, fmt.Errorf("overlay limit must be positive, got %g", limit)
	}

	// Integer upscaling keeps pixels square for small maps.
	scale := max(1, overlayTargetWidth/significance.Width)
	imgW := significance.Width * scale
	imgH := significance.Height * scale
	img := image.NewRGBA(image.Rect(0, 0, imgW, imgH+overlaySummaryH))

	for y := 0; y < significance.Height; y++ {
		for x := 0; x < significance.Width; x++ {
			i := y*significance.Width + x
			c := color.RGBA{90, 90, 90, 255}
			if significance.Usable(i) {
				c = divergingColor(significance.Data[i] / limit)
			}
			for sy := 0; sy < scale; sy++ {
				for sx := 0; sx < scale; sx++ {
					img.SetRGBA(x*scale+sx, y*scale+sy, c)
				}
			}
		}
	}
	for y := imgH; y < imgH+overlaySummaryH; y++ {
		for x := 0; x < imgW; x++ {
			img.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
		}
	}

	face := basicfont.Face7x13
	markColor := color.RGBA{255, 255, 0, 255}
	peak := 0.0
	for i, t := range transients {
		peak = math.Max(peak, math.Abs(t.Peak))
		cx := int((t.Center.X + 0.5) * float64(scale))
		cy := int((t.Center.Y + 0.5) * float64(scale))
		radius := max(t.Bounds.Dx(), t.Bounds.Dy())*scale + 4
		drawCircle(img, cx, cy, radius, markColor)
		drawCenteredText(img, face, fmt.Sprintf("#%d %.1f", i+1, t.Peak), cx, cy-radius-4, markColor)
	}

	summary := fmt.Sprintf("%d transients, max |S| %.1f, scale ±%.1f", len(transients), peak, limit)
	drawText(img, face, summary, 10, imgH+overlaySummaryH/2+4, color.RGBA{220, 220, 220, 255})
	return img, nil
}

// divergingColor maps v in [-1, 1] to blue (negative), black (zero) and red
// (positive).
func divergingColor(v float64) color.RGBA {
	if math.IsNaN(v) {
		return color.RGBA{90, 90, 90, 255}
	}
	t := math.Min(math.Abs(v), 1.0)
	level := uint8(math.Round(255 * math.Sqrt(t)))
	if v >= 0 {
		return color.RGBA{level, uint8(float64(level) * 0.3), 0, 255}
	}
	return color.RGBA{0, uint8(float64(level) * 0.3), level, 255}
}

func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func drawCenteredText(img *image.RGBA, face font.Face, s string, cx, cy int, c color.RGBA) {
	advance := font.MeasureString(face, s)
	drawText(img, face, s, cx-advance.Round()/2, cy, c)
}

// drawCircle draws a circle outline with the midpoint algorithm.
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	x, y, err := radius, 0, 0
	for x >= y {
		for _, p := range [8][2]int{{x, y}, {y, x}, {-y, x}, {-x, y}, {-x, -y}, {-y, -x}, {y, -x}, {x, -y}} {
			img.Set(cx+p[0], cy+p[1], c)
		}
		y++
		err += 1 + 2*y
		if 2*(err-x)+1 > 0 {
			x--
			err += 1 - 2*x
		}
	}
}
