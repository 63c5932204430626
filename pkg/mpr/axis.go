package mpr

import (
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
	"obliquempr/pkg/geometry"
)

// PlaneSet is a set of planes, used to report which cached images an edit
// invalidated.
type PlaneSet uint8

// AllPlanes holds the axial, coronal and sagittal planes.
const AllPlanes = PlaneSet(1<<models.Axial | 1<<models.Coronal | 1<<models.Sagittal)

// SetOf returns the set holding planes.
func SetOf(planes ...models.Plane) PlaneSet {
	var s PlaneSet
	for _, p := range planes {
		s = s.With(p)
	}
	return s
}

// With returns s with p added.
func (s PlaneSet) With(p models.Plane) PlaneSet { return s | 1<<p }

// Has reports whether p is in s.
func (s PlaneSet) Has(p models.Plane) bool { return s&(1<<p) != 0 }

// Planes returns the members of s in display order.
func (s PlaneSet) Planes() []models.Plane {
	var out []models.Plane
	for _, p := range models.Planes {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s PlaneSet) String() string {
	names := make([]string, 0, 3)
	for _, p := range s.Planes() {
		names = append(names, p.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// normalAxis returns the volume axis a plane's normal runs along:
// Z for axial, Y for coronal and X for sagittal.
func normalAxis(p models.Plane) int {
	switch p {
	case models.Coronal:
		return 1
	case models.Sagittal:
		return 0
	}
	return 2
}

// canonical returns the base orientation of a plane: its columns are the
// view's horizontal, vertical and normal directions in slice space.
// Coronal views look along +Y with head up; sagittal views along +X with
// anterior on the left.
func canonical(p models.Plane) *r3.Mat {
	switch p {
	case models.Coronal:
		return geometry.Columns(r3.Vec{X: 1}, r3.Vec{Z: -1}, r3.Vec{Y: 1})
	case models.Sagittal:
		return geometry.Columns(r3.Vec{Y: -1}, r3.Vec{Z: -1}, r3.Vec{X: 1})
	}
	return geometry.Columns(r3.Vec{X: 1}, r3.Vec{Y: 1}, r3.Vec{Z: 1})
}

// Axis is the state of one cutting plane.
type Axis struct {
	plane models.Plane

	// offset is the signed distance of the plane from the volume centre
	// along its normal, in voxel-ratio units
	offset float64

	// angle is the accumulated in-plane rotation in radians
	angle float64

	// extension is the slab half-width N; 2N+1 layers are composited
	extension int

	width, height int
	transform     geometry.Affine

	image *Image
}

// Plane returns the plane of the axis.
func (a *Axis) Plane() models.Plane { return a.plane }

// Offset returns the signed distance of the plane from the volume centre.
func (a *Axis) Offset() float64 { return a.offset }

// Angle returns the accumulated in-plane rotation in radians.
func (a *Axis) Angle() float64 { return a.angle }

// Extension returns the slab half-width; 0 means a single slice.
func (a *Axis) Extension() int { return a.extension }

// Size returns the raster size of the plane in pixels.
func (a *Axis) Size() (width, height int) { return a.width, a.height }

// Transform maps output pixel (px, py, k), k being the layer offset along
// the normal, to volume space in voxel-ratio units.
func (a *Axis) Transform() geometry.Affine { return a.transform }

// Direction returns the unit volume-space direction of the view's
// horizontal axis, or of its vertical axis when vertical is set.
func (a *Axis) Direction(vertical bool) r3.Vec {
	if vertical {
		return r3.Unit(a.transform.Column(1))
	}
	return r3.Unit(a.transform.Column(0))
}

// Normal returns the unit volume-space normal of the plane.
func (a *Axis) Normal() r3.Vec { return r3.Unit(a.transform.Column(2)) }

// local returns the view-to-slice-space rotation: the canonical orientation
// followed by the in-plane rotation.
func (a *Axis) local() *r3.Mat {
	var m r3.Mat
	m.Mul(canonical(a.plane), r3.NewRotation(-a.angle, geometry.Axis(2)).Mat())
	return &m
}

// pixelCenter is the output pixel the volume centre projects onto.
func (a *Axis) pixelCenter() (float64, float64) {
	return float64(a.width-1) / 2, float64(a.height-1) / 2
}
