package fourier

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomGrid(w, h int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, w*h)
	for i := range out {
		out[i] = rng.NormFloat64()*5 + 100
	}
	return out
}

func gaussianGrid(w, h int, cx, cy, sigma float64) []float64 {
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			out[y*w+x] = math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
		}
	}
	return out
}

func centroid(data []float64, w, h int) (float64, float64) {
	var sx, sy, s float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := data[y*w+x]
			sx += v * float64(x)
			sy += v * float64(y)
			s += v
		}
	}
	return sx / s, sy / s
}

func TestNextSmooth(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 7: 8, 11: 12, 64: 64, 79: 80, 97: 100, 271: 288}
	for in, want := range cases {
		assert.Equal(t, want, NextSmooth(in), "NextSmooth(%d)", in)
	}
	assert.Equal(t, 80, PaddedSize(64, 15))
}

func TestRoundTripPadTransformCrop(t *testing.T) {
	for _, mode := range []PadMode{PadZero, PadTaper} {
		w, h := 37, 23
		data := randomGrid(w, h, 7)
		pw, ph := PaddedSize(w, 9), PaddedSize(h, 9)

		ctx := NewContext(pw, ph)
		padded := Pad(data, w, h, pw, ph, mode)
		back := Crop(ctx.Inverse(ctx.Forward(padded)), pw, w, h)

		require.Len(t, back, len(data))
		for i := range data {
			assert.InDelta(t, data[i], back[i], 1e-9, "mode %s index %d", mode, i)
		}
	}
}

func TestPadTaperIsContinuous(t *testing.T) {
	w, h := 4, 3
	data := []float64{
		1, 2, 3, 10,
		1, 2, 3, 10,
		1, 2, 3, 10,
	}
	padded := Pad(data, w, h, 8, 3, PadTaper)
	row := padded[:8]
	// ramp from the right edge (10) back to the left edge (1)
	for x := 4; x < 8; x++ {
		assert.Less(t, row[x], row[x-1])
		assert.Greater(t, row[x], 1.0)
	}
}

func TestEmbedExtractKernel(t *testing.T) {
	size := 5
	kernel := make([]float64, size*size)
	for i := range kernel {
		kernel[i] = float64(i + 1)
	}
	grid := EmbedKernel(kernel, size, 16, 12)
	assert.Equal(t, kernel[2*size+2], grid[0], "center pixel sits at the origin")
	assert.Equal(t, kernel[0], grid[(12-2)*16+(16-2)])
	assert.Equal(t, kernel, ExtractKernel(grid, 16, 12, size))
}

func TestShiftIntegerMatchesRoll(t *testing.T) {
	w, h := 12, 10
	data := randomGrid(w, h, 3)
	ctx := NewContext(w, h)
	shifted := ctx.Shift(data, 2, -1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := mod(y+1, h)*w + mod(x-2, w)
			assert.InDelta(t, data[src], shifted[y*w+x], 1e-9)
		}
	}
}

func TestShiftSubPixelMovesCentroid(t *testing.T) {
	w, h := 15, 15
	data := gaussianGrid(w, h, 7, 7, 1.5)
	ctx := NewContext(w, h)
	shifted := ctx.Shift(data, 0.3, -0.45)
	cx, cy := centroid(shifted, w, h)
	assert.InDelta(t, 7.3, cx, 1e-3)
	assert.InDelta(t, 6.55, cy, 1e-3)

	var before, after float64
	for i := range data {
		before += data[i]
		after += shifted[i]
	}
	assert.InDelta(t, before, after, 1e-9, "shift preserves total flux")
}

func TestGradientOfSinusoid(t *testing.T) {
	w, h := 16, 15
	data := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = math.Sin(2 * math.Pi * 2 * float64(x) / float64(w))
		}
	}
	ctx := NewContext(w, h)
	gx, gy := ctx.Gradient(data)
	k := 2 * math.Pi * 2 / float64(w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			assert.InDelta(t, k*math.Cos(k*float64(x)), gx[y*w+x], 1e-9)
			assert.InDelta(t, 0, gy[y*w+x], 1e-9)
		}
	}
}

func TestParsePadMode(t *testing.T) {
	m, ok := ParsePadMode("taper")
	assert.True(t, ok)
	assert.Equal(t, PadTaper, m)

	m, ok = ParsePadMode("")
	assert.True(t, ok)
	assert.Equal(t, PadZero, m)

	_, ok = ParsePadMode("mirror")
	assert.False(t, ok)
}
