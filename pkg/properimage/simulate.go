package properimage

import (
	"math"
	"math/rand"
)

// StarSpec places a point source of total flux at a sub-pixel position.
type StarSpec struct {
	X, Y float64
	Flux float64
}

// SimulationParams describes a synthetic frame.
type SimulationParams struct {
	Width      int
	Height     int
	PSFSigma   float64
	Background float64
	Noise      float64
	Seed       int64
}

// GaussianKernel returns a centered size x size pixel-integrated circular
// Gaussian normalized to unit sum.
func GaussianKernel(size int, sigma float64) []float64 {
	half := float64(size / 2)
	k := make([]float64, size*size)
	for y := 0; y < size; y++ {
		wy := pixelIntegral(float64(y)-half, sigma)
		for x := 0; x < size; x++ {
			k[y*size+x] = wy * pixelIntegral(float64(x)-half, sigma)
		}
	}
	normalizeSum(k)
	return k
}

// pixelIntegral is the mass of a unit 1-D Gaussian over [d-0.5, d+0.5].
func pixelIntegral(d, sigma float64) float64 {
	s := sigma * math.Sqrt2
	return 0.5 * (math.Erf((d+0.5)/s) - math.Erf((d-0.5)/s))
}

// RenderStar adds a pixel-integrated Gaussian star to px in place, truncated
// at six sigma.
func RenderStar(px PixelArray, star StarSpec, sigma float64) {
	r := int(math.Ceil(6 * sigma))
	cx, cy := int(math.Round(star.X)), int(math.Round(star.Y))
	for y := max(0, cy-r); y <= min(px.Height-1, cy+r); y++ {
		wy := pixelIntegral(float64(y)-star.Y, sigma)
		for x := max(0, cx-r); x <= min(px.Width-1, cx+r); x++ {
			px.Data[y*px.Width+x] += star.Flux * wy * pixelIntegral(float64(x)-star.X, sigma)
		}
	}
}

// SimulateFrame renders stars over a flat background and adds seeded
// Gaussian noise.
func SimulateFrame(p SimulationParams, stars []StarSpec) PixelArray {
	px := NewBlankPixelArray(p.Width, p.Height)
	for i := range px.Data {
		px.Data[i] = p.Background
	}
	for _, s := range stars {
		RenderStar(px, s, p.PSFSigma)
	}
	if p.Noise > 0 {
		rng := rand.New(rand.NewSource(p.Seed))
		for i := range px.Data {
			px.Data[i] += p.Noise * rng.NormFloat64()
		}
	}
	return px
}
