// Package geometry holds the coordinate-frame math shared by the stack
// builder, the volume store and the MPR planes: patient-space frames,
// 4x4 affine transforms and quaternion rotation helpers.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerate is returned for missing or malformed orientation vectors.
var ErrDegenerate = errors.New("degenerate orientation")

// unitTolerance is how far from 1 a direction vector's length may drift.
const unitTolerance = 1e-2

// Frame is a right-handed patient-space frame built from a slice's row and
// column vectors.
type Frame struct {
	Row    r3.Vec
	Column r3.Vec
	Normal r3.Vec
	Origin r3.Vec
}

// NewFrame validates row and column and derives the normal. Both vectors must
// be finite, close to unit length and not parallel.
func NewFrame(row, column, origin r3.Vec) (Frame, error) {
	if err := checkDirection("row", row); err != nil {
		return Frame{}, err
	}
	if err := checkDirection("column", column); err != nil {
		return Frame{}, err
	}
	if !finite(origin) {
		return Frame{}, fmt.Errorf("%w: origin %v is not finite", ErrDegenerate, origin)
	}
	n := r3.Cross(row, column)
	if r3.Norm(n) < 0.5 {
		return Frame{}, fmt.Errorf("%w: row %v and column %v are not orthogonal", ErrDegenerate, row, column)
	}
	return Frame{
		Row:    r3.Unit(row),
		Column: r3.Unit(column),
		Normal: r3.Unit(n),
		Origin: origin,
	}, nil
}

// Basis returns the matrix whose columns are Row, Column and Normal.
func (f Frame) Basis() *r3.Mat {
	return Columns(f.Row, f.Column, f.Normal)
}

// Relative returns the 3x3 matrix taking coordinates expressed in g's
// (row, column, normal) axes into f's axes. It is the identity when both
// frames share orientation.
func (f Frame) Relative(g Frame) *r3.Mat {
	var m r3.Mat
	m.Mul(f.Basis().T(), g.Basis())
	return &m
}

func checkDirection(name string, v r3.Vec) error {
	if !finite(v) {
		return fmt.Errorf("%w: %s vector %v is not finite", ErrDegenerate, name, v)
	}
	if math.Abs(r3.Norm(v)-1) > unitTolerance {
		return fmt.Errorf("%w: %s vector %v is not unit length", ErrDegenerate, name, v)
	}
	return nil
}

func finite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Columns builds a 3x3 matrix from column vectors.
func Columns(a, b, c r3.Vec) *r3.Mat {
	return r3.NewMat([]float64{
		a.X, b.X, c.X,
		a.Y, b.Y, c.Y,
		a.Z, b.Z, c.Z,
	})
}

// Component returns v's component along volume axis i (0=X, 1=Y, 2=Z).
func Component(v r3.Vec, i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

// WithComponent returns v with its axis-i component replaced by c.
func WithComponent(v r3.Vec, i int, c float64) r3.Vec {
	switch i {
	case 0:
		v.X = c
	case 1:
		v.Y = c
	default:
		v.Z = c
	}
	return v
}

// Axis returns the unit vector of volume axis i.
func Axis(i int) r3.Vec {
	return WithComponent(r3.Vec{}, i, 1)
}

// Mul returns the element-wise product of a and b.
func Mul(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: a.X * b.X, Y: a.Y * b.Y, Z: a.Z * b.Z}
}

// Div returns the element-wise quotient of a and b.
func Div(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: a.X / b.X, Y: a.Y / b.Y, Z: a.Z / b.Z}
}
