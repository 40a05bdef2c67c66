package properimage

import (
	"bytes"
	"image/jpeg"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSignificanceOverlayBytes(t *testing.T) {
	sig := NewBlankPixelArray(100, 60)
	sig.Data[30*100+40] = 9
	transients := []Transient{{Center: Point2d{X: 40, Y: 30}, Peak: 9, Pixels: 1}}

	data, err := RenderSignificanceOverlayBytes(sig, transients, 5)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Greater(t, img.Bounds().Dy(), 480)
}

func TestRenderSignificanceOverlayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.jpg")
	require.NoError(t, RenderSignificanceOverlay(NewBlankPixelArray(20, 20), nil, 3, path))

	_, err := RenderSignificanceOverlayBytes(NewBlankPixelArray(20, 20), nil, 0)
	assert.Error(t, err)
}
