package mpr

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
	"obliquempr/pkg/geometry"
)

// Edit is one change of the MPR state, applied with State.Apply.
type Edit interface {
	apply(s *State) PlaneSet
}

// MoveCrosshair moves the crosshair to Point, a pixel of View's raster.
// Only the in-plane crosshair coordinates change: the two other planes are
// shifted to pass through the new crosshair and View itself stays put.
type MoveCrosshair struct {
	View  models.Plane
	Point r2.Vec
}

func (e MoveCrosshair) apply(s *State) PlaneSet {
	if !e.View.Valid() {
		return 0
	}
	a := s.axes[e.View]
	p := s.viewToSlice(a, e.Point)
	d := normalAxis(e.View)
	p = geometry.WithComponent(p, d, geometry.Component(s.half, d)+a.offset)
	s.center = s.clamp(p)

	b, c := e.View.Others()
	s.syncOffsets(b, c)
	return SetOf(b, c)
}

// SetCenter moves the crosshair to Point, given in fractional voxel
// coordinates, and shifts every plane through it.
type SetCenter struct {
	Point r3.Vec
}

func (e SetCenter) apply(s *State) PlaneSet {
	p := r3.Sub(geometry.Mul(e.Point, s.vol.VoxelRatio()), s.vol.Center())
	p = geometry.InverseRotation(s.rotation).Rotate(p)
	s.center = s.clamp(r3.Add(s.half, p))
	s.syncOffsets(models.Planes[:]...)
	return AllPlanes
}

// RotateAxis sets the in-plane angle of Plane, in radians. The change is
// folded into the global rotation as a twist about the plane's normal, so
// the plane's own image is unchanged while the two other planes turn about
// the line through the crosshair along that normal.
type RotateAxis struct {
	Plane models.Plane
	Angle float64
}

func (e RotateAxis) apply(s *State) PlaneSet {
	if !e.Plane.Valid() {
		return 0
	}
	a := s.axes[e.Plane]
	delta := e.Angle - a.angle
	if delta == 0 {
		return 0
	}
	axis := geometry.Axis(normalAxis(e.Plane))
	twist := geometry.Twist(r3.NewRotation(delta, axis), axis)

	s.rotation = geometry.Then(s.rotation, twist)
	// Keep the crosshair at the same volume position.
	s.center = r3.Add(s.half, geometry.InverseRotation(twist).Rotate(r3.Sub(s.center, s.half)))
	a.angle = e.Angle

	b, c := e.Plane.Others()
	s.syncOffsets(b, c)
	return SetOf(b, c)
}

// TranslateAxis drags Plane's cross-line in View to Point, moving only
// Plane's crosshair coordinate.
type TranslateAxis struct {
	View  models.Plane
	Plane models.Plane
	Point r2.Vec
}

func (e TranslateAxis) apply(s *State) PlaneSet {
	if !e.View.Valid() || !e.Plane.Valid() || e.View == e.Plane {
		return 0
	}
	p := s.clamp(s.viewToSlice(s.axes[e.View], e.Point))
	d := normalAxis(e.Plane)
	s.center = geometry.WithComponent(s.center, d, geometry.Component(p, d))
	s.syncOffsets(e.Plane)
	return SetOf(e.Plane)
}

// SetSliceIndex moves Plane to volume slice Index along its normal axis,
// clamped to the volume. The crosshair follows.
type SetSliceIndex struct {
	Plane models.Plane
	Index int
}

func (e SetSliceIndex) apply(s *State) PlaneSet {
	if !e.Plane.Valid() {
		return 0
	}
	idx := min(max(e.Index, 0), s.SliceCount(e.Plane)-1)
	d := normalAxis(e.Plane)
	ratio := geometry.Component(s.vol.VoxelRatio(), d)
	offset := float64(idx)*ratio - geometry.Component(s.vol.Center(), d)

	a := s.axes[e.Plane]
	if offset == a.offset {
		return 0
	}
	a.offset = offset
	s.center = geometry.WithComponent(s.center, d, geometry.Component(s.half, d)+offset)
	return SetOf(e.Plane)
}

// SetThickness sets the slab half-width of Plane. A positive width with no
// projection selected switches the projection to MAX.
type SetThickness struct {
	Plane     models.Plane
	Extension int
}

func (e SetThickness) apply(s *State) PlaneSet {
	if !e.Plane.Valid() {
		return 0
	}
	a := s.axes[e.Plane]
	ext := max(e.Extension, 0)
	if ext == a.extension {
		return 0
	}
	a.extension = ext
	changed := SetOf(e.Plane)
	if ext > 0 && s.projection == models.ProjectionNone {
		s.projection = models.ProjectionMax
		changed |= s.thick()
	}
	return changed
}

// SetProjection selects the slab compositing function.
type SetProjection struct {
	Type models.Projection
}

func (e SetProjection) apply(s *State) PlaneSet {
	if e.Type == s.projection {
		return 0
	}
	s.projection = e.Type
	return s.thick()
}

// SetAdjusting defers slab compositing while set. Clearing it invalidates
// every slab plane so the next Image recomposes it.
type SetAdjusting struct {
	Adjusting bool
}

func (e SetAdjusting) apply(s *State) PlaneSet {
	if e.Adjusting == s.adjusting {
		return 0
	}
	s.adjusting = e.Adjusting
	if s.adjusting {
		return 0
	}
	return s.thick()
}

// Reset returns the crosshair to the volume centre and clears the global
// and per-plane rotations and offsets. Slab widths are kept.
type Reset struct{}

func (Reset) apply(s *State) PlaneSet {
	s.reset()
	return AllPlanes
}

// viewToSlice maps pixel pt of a's raster to slice space.
func (s *State) viewToSlice(a *Axis, pt r2.Vec) r3.Vec {
	cx, cy := a.pixelCenter()
	q := r3.Vec{X: pt.X - cx, Y: pt.Y - cy, Z: a.offset}
	return r3.Add(s.half, a.local().MulVec(q))
}

// sliceToView maps slice-space point p to a pixel of a's raster.
func (s *State) sliceToView(a *Axis, p r3.Vec) r2.Vec {
	cx, cy := a.pixelCenter()
	q := a.local().MulVecTrans(r3.Sub(p, s.half))
	return r2.Vec{X: q.X + cx, Y: q.Y + cy}
}

// syncOffsets moves planes so they pass through the crosshair.
func (s *State) syncOffsets(planes ...models.Plane) {
	for _, p := range planes {
		d := normalAxis(p)
		s.axes[p].offset = geometry.Component(s.center, d) - geometry.Component(s.half, d)
	}
}

// clamp limits p to the slice-space cube.
func (s *State) clamp(p r3.Vec) r3.Vec {
	d := float64(s.size)
	c := func(v float64) float64 { return math.Min(math.Max(v, 0), d) }
	return r3.Vec{X: c(p.X), Y: c(p.Y), Z: c(p.Z)}
}
