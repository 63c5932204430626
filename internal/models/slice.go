package models

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// PixelSpacing is the physical distance in mm between adjacent pixels of a slice.
// Row is the distance between two rows (vertical step), Column the distance
// between two columns (horizontal step).
type PixelSpacing struct {
	Row    float64 `yaml:"row"`
	Column float64 `yaml:"column"`
}

// PixelLoader lazily produces the pixel buffer of a slice. It is called at most
// once per slice during the volume build.
type PixelLoader func() (any, error)

// Slice represents one source 2D cross-section with its patient-space geometry.
// A slice is treated as immutable once it has been handed to the stack builder.
type Slice struct {
	// Width and Height are the slice dimensions in pixels
	Width  int
	Height int

	// Type is the numeric element type of the pixel buffer
	Type ElementType

	// Spacing is the in-plane pixel spacing in mm
	Spacing PixelSpacing

	// Row and Column are the patient-space unit direction vectors of the
	// first row and first column
	Row    r3.Vec
	Column r3.Vec

	// Origin is the patient-space position of the top-left pixel centre
	Origin r3.Vec

	// Pixels holds the row-major buffer: one of []uint8, []int8, []uint16,
	// []int16, []uint32, []int32, []float32 or []float64 matching Type.
	// It may be nil when Loader is set.
	Pixels any

	// Loader is consulted when Pixels is nil
	Loader PixelLoader

	// Index is the acquisition index of this slice in its series
	Index int

	// Filename is the original filename of the slice, if any
	Filename string
}

// Normal returns the slice normal, row x column.
func (s *Slice) Normal() r3.Vec {
	return r3.Cross(s.Row, s.Column)
}

// Position projects the slice origin onto the given stack normal.
func (s *Slice) Position(normal r3.Vec) float64 {
	return r3.Dot(s.Origin, normal)
}

// PixelData returns the pixel buffer, calling the loader if needed, and checks
// that its concrete type and length agree with the slice header.
func (s *Slice) PixelData() (any, error) {
	buf := s.Pixels
	if buf == nil {
		if s.Loader == nil {
			return nil, fmt.Errorf("slice %d has no pixel data", s.Index)
		}
		var err error
		if buf, err = s.Loader(); err != nil {
			return nil, fmt.Errorf("loading slice %d: %w", s.Index, err)
		}
	}

	typ, n, ok := bufferInfo(buf)
	if !ok {
		return nil, fmt.Errorf("slice %d: unsupported pixel buffer %T", s.Index, buf)
	}
	if typ != s.Type {
		return nil, fmt.Errorf("slice %d: pixel buffer is %s, header says %s", s.Index, typ, s.Type)
	}
	if n != s.Width*s.Height {
		return nil, fmt.Errorf("slice %d: pixel buffer holds %d samples, want %d", s.Index, n, s.Width*s.Height)
	}
	return buf, nil
}

func bufferInfo(buf any) (ElementType, int, bool) {
	switch b := buf.(type) {
	case []uint8:
		return Uint8, len(b), true
	case []int8:
		return Int8, len(b), true
	case []uint16:
		return Uint16, len(b), true
	case []int16:
		return Int16, len(b), true
	case []uint32:
		return Uint32, len(b), true
	case []int32:
		return Int32, len(b), true
	case []float32:
		return Float32, len(b), true
	case []float64:
		return Float64, len(b), true
	}
	return 0, 0, false
}
