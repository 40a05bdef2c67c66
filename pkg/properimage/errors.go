package properimage

import (
	"errors"
	"fmt"
	"image"
)

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrEmptyCatalog     = errors.New("empty catalog")
	ErrEmptyInput       = errors.New("empty input")
	ErrGridMismatch     = errors.New("grid mismatch")
	ErrDegeneratePSF    = errors.New("degenerate psf")
	ErrPSFEstimation    = errors.New("psf estimation failed")
)

// InsufficientDataError reports that too few usable pixels or values remain.
type InsufficientDataError struct {
	Input string
	What  string
	Have  int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient %s: have %d, need %d", e.Input, e.What, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// EmptyCatalogError reports that no source survived filtering or matching.
type EmptyCatalogError struct {
	Input string
	Total int
}

func (e *EmptyCatalogError) Error() string {
	return fmt.Sprintf("%s: no usable sources out of %d", e.Input, e.Total)
}

func (e *EmptyCatalogError) Is(target error) bool { return target == ErrEmptyCatalog }

// EmptyInputError reports a missing image or an empty image set.
type EmptyInputError struct {
	Input string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("%s: empty input", e.Input)
}

func (e *EmptyInputError) Is(target error) bool { return target == ErrEmptyInput }

// GridMismatchError reports inputs that are not on the same pixel grid.
type GridMismatchError struct {
	Input string
	Want  image.Point
	Got   image.Point
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("%s: grid %dx%d does not match %dx%d", e.Input, e.Got.X, e.Got.Y, e.Want.X, e.Want.Y)
}

func (e *GridMismatchError) Is(target error) bool { return target == ErrGridMismatch }

// DegeneratePSFError reports a PSF whose spectrum is (near-)zero everywhere.
type DegeneratePSFError struct {
	Input       string
	MaxSpectrum float64
}

func (e *DegeneratePSFError) Error() string {
	return fmt.Sprintf("%s: degenerate psf spectrum (max |P| = %g)", e.Input, e.MaxSpectrum)
}

func (e *DegeneratePSFError) Is(target error) bool { return target == ErrDegeneratePSF }

// PSFEstimationError reports a PSF fit that could not produce a model.
type PSFEstimationError struct {
	Input      string
	Reason     string
	Stamps     int
	Iterations int
}

func (e *PSFEstimationError) Error() string {
	return fmt.Sprintf("%s: psf estimation failed: %s (stamps=%d, iterations=%d)", e.Input, e.Reason, e.Stamps, e.Iterations)
}

func (e *PSFEstimationError) Is(target error) bool { return target == ErrPSFEstimation }
