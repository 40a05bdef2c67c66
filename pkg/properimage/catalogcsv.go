package properimage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cast"
)

// catalogColumns maps accepted header names to Detection fields.
var catalogColumns = map[string]string{
	"x": "x", "x_image": "x", "xcentroid": "x",
	"y": "y", "y_image": "y", "ycentroid": "y",
	"flux": "flux", "flux_auto": "flux",
	"peak": "peak", "flux_max": "peak",
	"npix": "pixels", "isoarea_image": "pixels",
	"flag": "flags", "flags": "flags",
	"saturated": "saturated",
}

// ReadCatalogFile reads a detection catalog from a CSV file.
func ReadCatalogFile(path string) ([]Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	dets, err := ReadCatalogCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dets, nil
}

// ReadCatalogCSV parses a header-led CSV with at least x, y and flux
// columns. Peak, npix, flags and saturated are optional. Values are converted
// leniently, so "1", "true" and "T" all mark a saturated source.
func ReadCatalogCSV(r io.Reader) ([]Detection, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	head, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	index := make(map[string]int)
	for i, name := range head {
		if field, ok := catalogColumns[strings.ToLower(strings.TrimSpace(name))]; ok {
			index[field] = i
		}
	}
	for _, required := range []string{"x", "y", "flux"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("catalog has no '%s' column", required)
		}
	}

	var dets []Detection
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog line %d: %w", line, err)
		}

		var d Detection
		get := func(field string) (string, bool) {
			i, ok := index[field]
			if !ok || i >= len(record) {
				return "", false
			}
			return strings.TrimSpace(record[i]), true
		}
		required := func(field string) (float64, error) {
			v, _ := get(field)
			f, err := cast.ToFloat64E(v)
			if err != nil {
				return 0, fmt.Errorf("catalog line %d: %s: %w", line, field, err)
			}
			return f, nil
		}
		if d.X, err = required("x"); err != nil {
			return nil, err
		}
		if d.Y, err = required("y"); err != nil {
			return nil, err
		}
		if d.Flux, err = required("flux"); err != nil {
			return nil, err
		}
		if v, ok := get("peak"); ok && v != "" {
			d.Peak = cast.ToFloat64(v)
		}
		if v, ok := get("pixels"); ok && v != "" {
			d.Pixels = cast.ToInt(v)
		}
		if v, ok := get("flags"); ok && v != "" {
			d.Flags = SourceFlag(cast.ToUint32(v))
		}
		if v, ok := get("saturated"); ok && v != "" {
			d.Saturated = cast.ToBool(v)
		}
		dets = append(dets, d)
	}
	return dets, nil
}
