package properimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/spf13/cast"
)

const (
	fitsBlockSize = 2880
	fitsCardSize  = 80
)

// FitsHeader holds parsed header cards in file order.
type FitsHeader struct {
	Cards map[string]string
	Order []string
}

// NewFitsHeader creates an empty header.
func NewFitsHeader() *FitsHeader {
	return &FitsHeader{Cards: make(map[string]string)}
}

// Set adds or replaces a card. Values are stored unquoted.
func (h *FitsHeader) Set(key, value string) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if _, ok := h.Cards[key]; !ok {
		h.Order = append(h.Order, key)
	}
	h.Cards[key] = value
}

func (h *FitsHeader) GetString(key string) string {
	return h.Cards[strings.ToUpper(key)]
}

func (h *FitsHeader) GetDouble(key string) (float64, bool) {
	v, ok := h.Cards[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	d, err := cast.ToFloat64E(strings.TrimSpace(v))
	return d, err == nil
}

func (h *FitsHeader) GetInt(key string) (int, bool) {
	v, ok := h.Cards[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	i, err := cast.ToIntE(strings.TrimSpace(v))
	return i, err == nil
}

func (h *FitsHeader) ObjectName() string { return h.GetString("OBJECT") }

// ZeroPointMag returns the photometric zero point magnitude (ZERO_P).
func (h *FitsHeader) ZeroPointMag() (float64, bool) { return h.GetDouble("ZERO_P") }

// FluxScale returns the linear flux scale used as a SingleImage zero point.
// FLXSCALE wins; otherwise ZERO_P is converted relative to magnitude 25.
func (h *FitsHeader) FluxScale() (float64, bool) {
	if v, ok := h.GetDouble("FLXSCALE"); ok && v > 0 {
		return v, true
	}
	if zp, ok := h.ZeroPointMag(); ok {
		return math.Pow(10, 0.4*(zp-25)), true
	}
	return 0, false
}

// FitsImage is a decoded primary HDU with physical pixel values.
type FitsImage struct {
	Width  int
	Height int
	BitPix int
	Data   []float64
	Mask   []bool
	Header *FitsHeader
}

// ToPixelArray wraps the decoded data. Blank and NaN pixels are masked.
func (f *FitsImage) ToPixelArray(name string) (PixelArray, error) {
	px, err := NewPixelArray(f.Width, f.Height, f.Data, f.Mask)
	px.Name = name
	return px, err
}

// ReadFits reads the primary HDU of a FITS file.
func ReadFits(filePath string) (*FitsImage, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return readFitsFromReader(f, false)
}

// ReadFitsHeaderOnly reads only the primary header.
func ReadFitsHeaderOnly(filePath string) (*FitsImage, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return readFitsFromReader(f, true)
}

// ReadFitsFromBytes decodes a FITS file held in memory.
func ReadFitsFromBytes(data []byte) (*FitsImage, error) {
	return readFitsFromReader(bytes.NewReader(data), false)
}

func readFitsFromReader(r io.Reader, headerOnly bool) (*FitsImage, error) {
	header, err := readFitsHeader(r)
	if err != nil {
		return nil, err
	}

	naxis, _ := header.GetInt("NAXIS")
	width, _ := header.GetInt("NAXIS1")
	height, _ := header.GetInt("NAXIS2")
	bitpix, _ := header.GetInt("BITPIX")
	if naxis < 2 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid FITS: NAXIS=%d, NAXIS1=%d, NAXIS2=%d", naxis, width, height)
	}

	img := &FitsImage{Width: width, Height: height, BitPix: bitpix, Header: header}
	if headerOnly {
		return img, nil
	}

	bscale, ok := header.GetDouble("BSCALE")
	if !ok {
		bscale = 1
	}
	bzero, _ := header.GetDouble("BZERO")
	blank, hasBlank := header.GetInt("BLANK")

	bytesPer := int(math.Abs(float64(bitpix))) / 8
	n := width * height
	raw := make([]byte, n*bytesPer)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading BITPIX %d pixel data: %w", bitpix, err)
	}

	img.Data = make([]float64, n)
	mask := make([]bool, n)
	masked := 0
	for i := 0; i < n; i++ {
		var stored float64
		isBlank := false
		switch bitpix {
		case 8:
			stored = float64(raw[i])
			isBlank = hasBlank && int(raw[i]) == blank
		case 16:
			v := int16(binary.BigEndian.Uint16(raw[i*2:]))
			stored = float64(v)
			isBlank = hasBlank && int(v) == blank
		case 32:
			v := int32(binary.BigEndian.Uint32(raw[i*4:]))
			stored = float64(v)
			isBlank = hasBlank && int(v) == blank
		case -32:
			stored = float64(math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:])))
			isBlank = math.IsNaN(stored)
		case -64:
			stored = math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
			isBlank = math.IsNaN(stored)
		default:
			return nil, fmt.Errorf("unsupported BITPIX: %d", bitpix)
		}
		if isBlank {
			img.Data[i] = math.NaN()
			mask[i] = true
			masked++
			continue
		}
		img.Data[i] = stored*bscale + bzero
	}
	if masked > 0 {
		img.Mask = mask
	}
	return img, nil
}

func readFitsHeader(r io.Reader) (*FitsHeader, error) {
	header := NewFitsHeader()
	block := make([]byte, fitsBlockSize)
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, fmt.Errorf("reading FITS header block: %w", err)
		}
		for off := 0; off < fitsBlockSize; off += fitsCardSize {
			card := string(block[off : off+fitsCardSize])
			keyword := strings.TrimSpace(card[:8])
			if keyword == "END" {
				return header, nil
			}
			if keyword == "" || card[8:10] != "= " {
				continue
			}
			if value := parseFitsValue(card[10:]); value != "" {
				header.Set(keyword, value)
			}
		}
	}
}

// parseFitsValue extracts the value field of a card, dropping the comment.
// Quoted strings may contain '/' and doubled quotes.
func parseFitsValue(field string) string {
	field = strings.TrimLeft(field, " ")
	if strings.HasPrefix(field, "'") {
		var sb strings.Builder
		for i := 1; i < len(field); i++ {
			if field[i] == '\'' {
				if i+1 < len(field) && field[i+1] == '\'' {
					sb.WriteByte('\'')
					i++
					continue
				}
				break
			}
			sb.WriteByte(field[i])
		}
		return strings.TrimRight(sb.String(), " ")
	}

	value := strings.TrimSpace(strings.SplitN(field, "/", 2)[0])
	switch value {
	case "T":
		return "True"
	case "F":
		return "False"
	}
	return value
}
