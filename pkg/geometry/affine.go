package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Affine is a 4x4 homogeneous transform. The zero value is not usable; build
// transforms with Identity, Translation, Linear or Compose.
type Affine struct {
	m *mat.Dense
}

// Identity returns the identity transform.
func Identity() Affine {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return Affine{m: m}
}

// Translation returns the transform p -> p + t.
func Translation(t r3.Vec) Affine {
	a := Identity()
	a.m.Set(0, 3, t.X)
	a.m.Set(1, 3, t.Y)
	a.m.Set(2, 3, t.Z)
	return a
}

// Linear embeds a 3x3 linear map.
func Linear(l *r3.Mat) Affine {
	a := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.m.Set(i, j, l.At(i, j))
		}
	}
	return a
}

// Rotation embeds the rotation r.
func Rotation(r r3.Rotation) Affine {
	return Linear(r.Mat())
}

// Compose returns ts[0]·ts[1]·…, so the last transform is applied first.
func Compose(ts ...Affine) Affine {
	out := Identity()
	for _, t := range ts {
		var m mat.Dense
		m.Mul(out.m, t.m)
		out = Affine{m: &m}
	}
	return out
}

// Inverse returns the inverse transform.
func (a Affine) Inverse() (Affine, error) {
	var m mat.Dense
	if err := m.Inverse(a.m); err != nil {
		return Affine{}, fmt.Errorf("inverting transform: %w", err)
	}
	return Affine{m: &m}, nil
}

// Apply maps the point p.
func (a Affine) Apply(p r3.Vec) r3.Vec {
	return r3.Add(a.Direction(p), a.Offset())
}

// Direction maps the direction d, ignoring translation.
func (a Affine) Direction(d r3.Vec) r3.Vec {
	m := a.m
	return r3.Vec{
		X: m.At(0, 0)*d.X + m.At(0, 1)*d.Y + m.At(0, 2)*d.Z,
		Y: m.At(1, 0)*d.X + m.At(1, 1)*d.Y + m.At(1, 2)*d.Z,
		Z: m.At(2, 0)*d.X + m.At(2, 1)*d.Y + m.At(2, 2)*d.Z,
	}
}

// Offset returns the translation column.
func (a Affine) Offset() r3.Vec {
	return r3.Vec{X: a.m.At(0, 3), Y: a.m.At(1, 3), Z: a.m.At(2, 3)}
}

// Column returns linear column j (0..2): the image of axis j.
func (a Affine) Column(j int) r3.Vec {
	return r3.Vec{X: a.m.At(0, j), Y: a.m.At(1, j), Z: a.m.At(2, j)}
}

// At returns element (i, j).
func (a Affine) At(i, j int) float64 {
	return a.m.At(i, j)
}

// EqualApprox reports whether every element of a and b differs by at most tol.
func (a Affine) EqualApprox(b Affine, tol float64) bool {
	if a.m == nil || b.m == nil {
		return a.m == b.m
	}
	return mat.EqualApprox(a.m, b.m, tol)
}

// Valid reports whether a holds a finite transform.
func (a Affine) Valid() bool {
	if a.m == nil {
		return false
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			v := a.m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func (a Affine) String() string {
	if a.m == nil {
		return "Affine(nil)"
	}
	return fmt.Sprintf("%v", mat.Formatted(a.m, mat.Squeeze()))
}
