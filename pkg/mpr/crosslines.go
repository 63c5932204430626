package mpr

import (
	"gonum.org/v1/gonum/spatial/r2"

	"obliquempr/internal/models"
	"obliquempr/pkg/geometry"
)

// CrossLine is the trace of one plane on another plane's raster.
type CrossLine struct {
	// Plane is the plane the line belongs to
	Plane models.Plane

	// Point is the crosshair pixel; the line passes through it
	Point r2.Vec

	// Direction is the unit pixel-space direction of the line
	Direction r2.Vec

	// Extension is Plane's slab half-width in pixels of the view
	Extension int
}

// Normal returns the unit in-view normal of the line.
func (l CrossLine) Normal() r2.Vec {
	return r2.Vec{X: -l.Direction.Y, Y: l.Direction.X}
}

// Distance returns the signed distance in pixels from pt to the line.
func (l CrossLine) Distance(pt r2.Vec) float64 {
	return r2.Dot(r2.Sub(pt, l.Point), l.Normal())
}

// CrosshairPixel returns the pixel of view's raster the crosshair projects
// onto.
func (s *State) CrosshairPixel(view models.Plane) r2.Vec {
	if !view.Valid() {
		return r2.Vec{}
	}
	return s.sliceToView(s.axes[view], s.center)
}

// CrossLines returns the traces of the two other planes on view's raster.
func (s *State) CrossLines(view models.Plane) []CrossLine {
	if !view.Valid() {
		return nil
	}
	a := s.axes[view]
	center := s.sliceToView(a, s.center)
	b, c := view.Others()

	lines := make([]CrossLine, 0, 2)
	for _, p := range []models.Plane{b, c} {
		m := a.local().MulVecTrans(geometry.Axis(normalAxis(p)))
		dir := r2.Vec{X: -m.Y, Y: m.X}
		if r2.Norm(dir) == 0 {
			continue
		}
		lines = append(lines, CrossLine{
			Plane:     p,
			Point:     center,
			Direction: r2.Unit(dir),
			Extension: s.axes[p].extension,
		})
	}
	return lines
}
