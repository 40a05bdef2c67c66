package properimage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// structuralKeys are written by the encoder and never copied from a header.
var structuralKeys = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true, "NAXIS2": true,
	"EXTEND": true, "BSCALE": true, "BZERO": true, "BLANK": true, "END": true,
}

// WriteFits writes px as a BITPIX -32 primary HDU. Masked pixels are NaN.
func WriteFits(filePath string, px PixelArray, header *FitsHeader) error {
	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create FITS file: %w", err)
	}
	if err := WriteFitsTo(f, px, header); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteFitsTo encodes px and the non-structural cards of header to w.
func WriteFitsTo(w io.Writer, px PixelArray, header *FitsHeader) error {
	if err := px.Validate(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	cards := []string{
		fitsCard("SIMPLE", "T"),
		fitsCard("BITPIX", "-32"),
		fitsCard("NAXIS", "2"),
		fitsCard("NAXIS1", strconv.Itoa(px.Width)),
		fitsCard("NAXIS2", strconv.Itoa(px.Height)),
	}
	if header != nil {
		for _, key := range header.Order {
			if !structuralKeys[key] {
				cards = append(cards, fitsCard(key, formatFitsValue(header.Cards[key])))
			}
		}
	}
	cards = append(cards, fmt.Sprintf("%-80s", "END"))

	written := 0
	for _, c := range cards {
		n, err := bw.WriteString(c)
		if err != nil {
			return fmt.Errorf("write FITS header: %w", err)
		}
		written += n
	}
	if err := writePadding(bw, written, ' '); err != nil {
		return err
	}

	buf := make([]byte, 4)
	for i, v := range px.Data {
		f := float32(v)
		if px.Masked(i) {
			f = float32(math.NaN())
		}
		binary.BigEndian.PutUint32(buf, math.Float32bits(f))
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("write FITS data: %w", err)
		}
	}
	if err := writePadding(bw, len(px.Data)*4, 0); err != nil {
		return err
	}
	return bw.Flush()
}

func writePadding(w *bufio.Writer, written int, fill byte) error {
	if rem := written % fitsBlockSize; rem != 0 {
		pad := make([]byte, fitsBlockSize-rem)
		for i := range pad {
			pad[i] = fill
		}
		if _, err := w.Write(pad); err != nil {
			return fmt.Errorf("write FITS padding: %w", err)
		}
	}
	return nil
}

// fitsCard renders a fixed-format card; value is already encoded.
func fitsCard(key, value string) string {
	if strings.HasPrefix(value, "'") {
		return fmt.Sprintf("%-8s= %-70s", key, value)[:fitsCardSize]
	}
	return fmt.Sprintf("%-8s= %20s%50s", key, value, "")[:fitsCardSize]
}

// formatFitsValue encodes a stored header value as a logical, a number or a
// quoted string.
func formatFitsValue(v string) string {
	switch v {
	case "True":
		return "T"
	case "False":
		return "F"
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	s := strings.ReplaceAll(v, "'", "''")
	if len(s) < 8 {
		s += strings.Repeat(" ", 8-len(s))
	}
	if len(s) > 68 {
		s = s[:68]
	}
	return "'" + s + "'"
}
