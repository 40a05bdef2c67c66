package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pi "properimage/pkg/properimage"
)

func starGrid() []pi.StarSpec {
	var stars []pi.StarSpec
	for y := 20; y < 128; y += 24 {
		for x := 20; x < 128; x += 24 {
			stars = append(stars, pi.StarSpec{X: float64(x) + 0.3, Y: float64(y) - 0.2, Flux: 8000})
		}
	}
	return stars
}

func writeFrame(t *testing.T, dir, name string, stars []pi.StarSpec, seed int64) string {
	t.Helper()
	px := pi.SimulateFrame(pi.SimulationParams{
		Width: 128, Height: 128, PSFSigma: 1.5, Background: 100, Noise: 5, Seed: seed,
	}, stars)
	path := filepath.Join(dir, name+".fits")
	h := pi.NewFitsHeader()
	h.Set("OBJECT", name)
	require.NoError(t, pi.WriteFits(path, px, h))

	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".csv"), catalogCSV(stars), 0o600))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), buf.String())
	return buf.String()
}

func TestPSFCommand(t *testing.T) {
	dir := t.TempDir()
	frame := writeFrame(t, dir, "field", starGrid(), 1)
	kernel := filepath.Join(dir, "kernel.fits")

	out := execute(t, "psf", frame, "--kernel", kernel)
	assert.Contains(t, out, "PSF: {Size=15")
	assert.Contains(t, out, "Kernel written to")

	img, err := pi.ReadFits(kernel)
	require.NoError(t, err)
	assert.Equal(t, 15, img.Width)
	assert.Equal(t, "psf", img.Header.GetString("PRODUCT"))
}

func TestPSFCommandWithKLBasis(t *testing.T) {
	dir := t.TempDir()
	frame := writeFrame(t, dir, "field", starGrid(), 1)
	normal := filepath.Join(dir, "normal.fits")
	psfKernel = ""
	defer func() { psfKLBasis, psfNormal = false, "" }()

	out := execute(t, "psf", frame, "--kl-basis", "--normal", normal)
	assert.Contains(t, out, "Basis 0: power")
	assert.Contains(t, out, "Normalization image written to")

	img, err := pi.ReadFits(normal)
	require.NoError(t, err)
	assert.Equal(t, 128, img.Width)
	assert.Equal(t, "psf-normalization", img.Header.GetString("PRODUCT"))
	assert.InDelta(t, 1.0, img.Data[64*128+64], 0.05)
}

func TestSubtractCommandFindsTransient(t *testing.T) {
	dir := t.TempDir()
	stars := starGrid()
	ref := writeFrame(t, dir, "ref", stars, 2)
	withTransient := append(append([]pi.StarSpec(nil), stars...), pi.StarSpec{X: 56, Y: 80, Flux: 3000})
	// the transient is not in the catalog used for the PSF
	newFrame := writeFrame(t, dir, "new", withTransient, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.csv"), catalogCSV(stars), 0o600))

	diff := filepath.Join(dir, "diff.fits")
	out := execute(t, "subtract", newFrame, ref, "--out", diff)
	assert.Contains(t, out, "Transients above 5.0 sigma:")
	assert.Regexp(t, `1 \{Center=\((55|56)\.\d+,(79|80)\.\d+\)`, out)

	img, err := pi.ReadFits(diff)
	require.NoError(t, err)
	assert.Equal(t, "difference", img.Header.GetString("PRODUCT"))
	assert.Equal(t, "new", img.Header.ObjectName())
}

func TestCoaddCommand(t *testing.T) {
	dir := t.TempDir()
	stars := starGrid()
	a := writeFrame(t, dir, "a", stars, 4)
	b := writeFrame(t, dir, "b", stars, 5)
	out := filepath.Join(dir, "coadd.fits")

	text := execute(t, "coadd", a, b, "--solve-zp", "--out", out)
	assert.Contains(t, text, "Co-added 2 frames")
	assert.Contains(t, text, "Frame 1: flux scale")

	img, err := pi.ReadFits(out)
	require.NoError(t, err)
	n, ok := img.Header.GetInt("NCOMBINE")
	assert.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestCoaddCommandRejectsCatalogCount(t *testing.T) {
	rootCmd.SetOut(new(bytes.Buffer))
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs([]string{"coadd", "a.fits", "b.fits", "--catalogs", "a.csv"})
	defer func() { coaddCatalogs = nil }()
	assert.Error(t, rootCmd.Execute())
}

func catalogCSV(stars []pi.StarSpec) []byte {
	var buf bytes.Buffer
	buf.WriteString("x,y,flux\n")
	for _, s := range stars {
		fmt.Fprintf(&buf, "%f,%f,%f\n", s.X, s.Y, s.Flux)
	}
	return buf.Bytes()
}
