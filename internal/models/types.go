package models

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/constraints"
)

// ErrUnsupportedType is returned when a sample depth has no storage variant.
var ErrUnsupportedType = errors.New("unsupported element type")

// Number is the set of Go types a voxel or raster sample may have.
type Number interface {
	constraints.Integer | constraints.Float
}

// ElementType is the numeric storage variant of a volume or raster.
type ElementType int

const (
	Uint8 ElementType = iota
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

var elementNames = [...]string{"uint8", "int8", "uint16", "int16", "uint32", "int32", "float32", "float64"}

func (e ElementType) String() string {
	if e < 0 || int(e) >= len(elementNames) {
		return fmt.Sprintf("ElementType(%d)", int(e))
	}
	return elementNames[e]
}

// Size returns the element size in bytes.
func (e ElementType) Size() int {
	switch e {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// IsFloat reports whether e is a floating point type.
func (e ElementType) IsFloat() bool {
	return e == Float32 || e == Float64
}

// Range returns the representable value range of e.
func (e ElementType) Range() (lo, hi float64) {
	switch e {
	case Uint8:
		return 0, math.MaxUint8
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Uint16:
		return 0, math.MaxUint16
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint32:
		return 0, math.MaxUint32
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Float32:
		return -math.MaxFloat32, math.MaxFloat32
	}
	return -math.MaxFloat64, math.MaxFloat64
}

// ElementTypeFor picks the storage variant for a source sample depth.
func ElementTypeFor(bits int, signed, float bool) (ElementType, error) {
	if float {
		switch bits {
		case 32:
			return Float32, nil
		case 64:
			return Float64, nil
		}
		return 0, fmt.Errorf("%w: %d-bit float", ErrUnsupportedType, bits)
	}
	switch {
	case bits <= 0:
	case bits <= 8:
		if signed {
			return Int8, nil
		}
		return Uint8, nil
	case bits <= 16:
		if signed {
			return Int16, nil
		}
		return Uint16, nil
	case bits <= 32:
		if signed {
			return Int32, nil
		}
		return Uint32, nil
	}
	return 0, fmt.Errorf("%w: %d-bit integer", ErrUnsupportedType, bits)
}

// Plane identifies one of the three canonical cutting planes.
type Plane int

const (
	Axial Plane = iota
	Coronal
	Sagittal
)

// Planes lists the three planes in display order.
var Planes = [3]Plane{Axial, Coronal, Sagittal}

func (p Plane) String() string {
	switch p {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	}
	return fmt.Sprintf("Plane(%d)", int(p))
}

// Valid reports whether p is one of the three planes.
func (p Plane) Valid() bool {
	return p >= Axial && p <= Sagittal
}

// Others returns the two planes other than p.
func (p Plane) Others() (Plane, Plane) {
	switch p {
	case Axial:
		return Coronal, Sagittal
	case Coronal:
		return Axial, Sagittal
	}
	return Axial, Coronal
}

// ParsePlane converts a name such as "axial" or "z" into a Plane.
func ParsePlane(s string) (Plane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "axial", "z":
		return Axial, nil
	case "coronal", "y":
		return Coronal, nil
	case "sagittal", "x":
		return Sagittal, nil
	}
	return 0, fmt.Errorf("invalid plane: %q (must be axial, coronal or sagittal)", s)
}

// Projection is the compositing function applied across a slab.
type Projection int

const (
	ProjectionNone Projection = iota
	ProjectionMin
	ProjectionMax
	ProjectionMean
)

func (p Projection) String() string {
	switch p {
	case ProjectionNone:
		return "none"
	case ProjectionMin:
		return "min"
	case ProjectionMax:
		return "max"
	case ProjectionMean:
		return "mean"
	}
	return fmt.Sprintf("Projection(%d)", int(p))
}

// ParseProjection converts "none", "min", "max" or "mean" into a Projection.
func ParseProjection(s string) (Projection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ProjectionNone, nil
	case "min", "minip":
		return ProjectionMin, nil
	case "max", "mip":
		return ProjectionMax, nil
	case "mean", "avg", "average":
		return ProjectionMean, nil
	}
	return 0, fmt.Errorf("invalid projection: %q", s)
}
