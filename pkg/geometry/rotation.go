package geometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// IdentityRotation is the rotation that leaves every vector unchanged.
var IdentityRotation = r3.Rotation{Real: 1}

// Then returns the rotation applying b first and then a.
func Then(a, b r3.Rotation) r3.Rotation {
	return normalize(quat.Mul(quat.Number(a), quat.Number(b)))
}

// InverseRotation returns the inverse of a unit rotation.
func InverseRotation(r r3.Rotation) r3.Rotation {
	return r3.Rotation(quat.Conj(quat.Number(r)))
}

// Twist returns the component of r that rotates about axis, discarding the
// swing that would tilt axis itself. A rotation perpendicular to axis yields
// the identity.
func Twist(r r3.Rotation, axis r3.Vec) r3.Rotation {
	axis = r3.Unit(axis)
	q := quat.Number(r)
	v := r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	p := r3.Scale(r3.Dot(v, axis), axis)
	t := quat.Number{Real: q.Real, Imag: p.X, Jmag: p.Y, Kmag: p.Z}
	if quat.Abs(t) < 1e-12 {
		return IdentityRotation
	}
	return normalize(t)
}

// AxisAngle returns the rotation angle of r about axis, in (-pi, pi].
// Only the twist about axis contributes.
func AxisAngle(r r3.Rotation, axis r3.Vec) float64 {
	t := quat.Number(Twist(r, axis))
	s := r3.Dot(r3.Vec{X: t.Imag, Y: t.Jmag, Z: t.Kmag}, r3.Unit(axis))
	a := 2 * math.Atan2(s, t.Real)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// EulerXYZ returns the rotation by ax about X, then ay about Y, then az
// about Z.
func EulerXYZ(ax, ay, az float64) r3.Rotation {
	rx := r3.NewRotation(ax, Axis(0))
	ry := r3.NewRotation(ay, Axis(1))
	rz := r3.NewRotation(az, Axis(2))
	return Then(rz, Then(ry, rx))
}

// RotationEqual reports whether a and b describe the same rotation within
// tol, treating q and -q as equal.
func RotationEqual(a, b r3.Rotation, tol float64) bool {
	qa, qb := quat.Number(a), quat.Number(b)
	return quat.Abs(quat.Sub(qa, qb)) <= tol || quat.Abs(quat.Add(qa, qb)) <= tol
}

func normalize(q quat.Number) r3.Rotation {
	n := quat.Abs(q)
	if n == 0 {
		return IdentityRotation
	}
	if n != 1 {
		q = quat.Scale(1/n, q)
	}
	return r3.Rotation(q)
}
