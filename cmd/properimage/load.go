package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sgostarter/i/l"

	pi "properimage/pkg/properimage"
)

var debayer bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&debayer, "debayer", false, "treat frames as raw RGGB mosaics and debayer to luminance")
}

func isFits(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return true
	}
	return false
}

// loadFrame reads a FITS or image file. The returned header is nil for
// non-FITS inputs.
func loadFrame(path string) (pi.PixelArray, *pi.FitsHeader, error) {
	var (
		px     pi.PixelArray
		header *pi.FitsHeader
		err    error
	)
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if isFits(path) {
		var img *pi.FitsImage
		img, err = pi.ReadFits(path)
		if err != nil {
			return px, nil, err
		}
		header = img.Header
		if object := header.ObjectName(); object != "" {
			name = object
		}
		px, err = img.ToPixelArray(name)
	} else {
		px, err = loadNonFitsImage(path)
		px.Name = name
	}
	if err != nil {
		return px, nil, err
	}

	if debayer {
		px = pi.DebayerRGGB(px)
	}

	logger.WithFields(
		l.StringField(l.ClsKey, "loader"),
		l.StringField("path", path),
		l.IntField("width", px.Width),
		l.IntField("height", px.Height),
		l.IntField("masked", px.MaskedCount()),
	).Debug("frame loaded")
	return px, header, nil
}

// frameZeroPoint picks the flux scale for a frame: an explicit value wins,
// then the header, then 1.
func frameZeroPoint(explicit float64, header *pi.FitsHeader) float64 {
	if explicit > 0 {
		return explicit
	}
	if header != nil {
		if zp, ok := header.FluxScale(); ok && zp > 0 {
			return zp
		}
	}
	return 1
}

// catalogPath defaults to the frame path with a .csv extension.
func catalogPath(framePath, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return strings.TrimSuffix(framePath, filepath.Ext(framePath)) + ".csv"
}

// loadSingleImage loads a frame with its catalog and builds the PSF model.
func loadSingleImage(framePath, catalog string, zeroPoint float64) (*pi.SingleImage, *pi.FitsHeader, error) {
	px, header, err := loadFrame(framePath)
	if err != nil {
		return nil, nil, err
	}
	dets, err := pi.ReadCatalogFile(catalogPath(framePath, catalog))
	if err != nil {
		return nil, nil, err
	}
	img, err := pi.BuildSingleImage(px, dets, frameZeroPoint(zeroPoint, header), params, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", framePath, err)
	}
	return img, header, nil
}

// outputHeader carries the descriptive cards of a source frame into an
// output file.
func outputHeader(src *pi.FitsHeader, product string) *pi.FitsHeader {
	h := pi.NewFitsHeader()
	if src != nil {
		for _, key := range []string{"OBJECT", "DATE-OBS", "TELESCOP", "INSTRUME", "FILTER"} {
			if v := src.GetString(key); v != "" {
				h.Set(key, v)
			}
		}
	}
	h.Set("PRODUCT", product)
	h.Set("ORIGIN", "properimage "+version)
	return h
}
