package controller

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"obliquempr/internal/models"
)

// HitKind is what lies under the pointer.
type HitKind int

const (
	HitNone HitKind = iota
	HitCrosshair
	HitRotateHandle
	HitExtendHandle
	HitLine
)

func (k HitKind) cursor() Cursor {
	switch k {
	case HitCrosshair:
		return CursorMove
	case HitRotateHandle:
		return CursorRotate
	case HitExtendHandle:
		return CursorExtend
	case HitLine:
		return CursorHand
	}
	return CursorDefault
}

// Hit is the result of a hit test.
type Hit struct {
	Kind HitKind

	// Plane owns the cross-line that was hit
	Plane models.Plane
}

// HitTest reports what of the crosshair overlay lies under pt in view.
// Handles win over the crosshair, which wins over line bodies.
func (c *Controller) HitTest(view models.Plane, pt r2.Vec) Hit {
	if !view.Valid() {
		return Hit{}
	}
	w, h := c.state.Axis(view).Size()
	extent := float64(max(w, h))
	center := c.state.CrosshairPixel(view)
	lines := c.state.CrossLines(view)
	tol := c.opts.PickTolerance

	for _, l := range lines {
		along := r2.Scale(c.opts.RotateHandle*extent, l.Direction)
		for _, s := range []float64{-1, 1} {
			if r2.Norm(r2.Sub(pt, r2.Add(center, r2.Scale(s, along)))) <= tol {
				return Hit{Kind: HitRotateHandle, Plane: l.Plane}
			}
		}
	}
	for _, l := range lines {
		along := r2.Scale(c.opts.ExtendHandle*extent, l.Direction)
		side := r2.Scale(float64(l.Extension), l.Normal())
		for _, s := range []float64{-1, 1} {
			for _, n := range []float64{-1, 1} {
				handle := r2.Add(r2.Add(center, r2.Scale(s, along)), r2.Scale(n, side))
				if r2.Norm(r2.Sub(pt, handle)) <= tol {
					return Hit{Kind: HitExtendHandle, Plane: l.Plane}
				}
			}
		}
	}
	if r2.Norm(r2.Sub(pt, center)) <= c.opts.CrosshairRadius {
		return Hit{Kind: HitCrosshair, Plane: view}
	}

	best, bestDist := Hit{}, math.Inf(1)
	for _, l := range lines {
		if d := math.Abs(l.Distance(pt)); d <= tol && d < bestDist {
			best, bestDist = Hit{Kind: HitLine, Plane: l.Plane}, d
		}
	}
	return best
}
