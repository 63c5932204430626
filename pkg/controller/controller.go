// Package controller turns pointer gestures on the three MPR views into
// state edits: dragging the crosshair, rotating or translating a cross-line
// and stretching its slab.
package controller

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"obliquempr/internal/models"
	"obliquempr/pkg/mpr"
)

// Mode is the gesture in progress.
type Mode int

const (
	Idle Mode = iota
	DraggingCrosshair
	DraggingAxisRotate
	DraggingAxisExtend
	DraggingAxisTranslate
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case DraggingCrosshair:
		return "dragging crosshair"
	case DraggingAxisRotate:
		return "rotating axis"
	case DraggingAxisExtend:
		return "extending axis"
	case DraggingAxisTranslate:
		return "translating axis"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Cursor is the pointer shape a view should show.
type Cursor int

const (
	CursorDefault Cursor = iota
	CursorMove
	CursorRotate
	CursorExtend
	CursorHand
)

func (c Cursor) String() string {
	switch c {
	case CursorDefault:
		return "default"
	case CursorMove:
		return "move"
	case CursorRotate:
		return "rotate"
	case CursorExtend:
		return "extend"
	case CursorHand:
		return "hand"
	}
	return fmt.Sprintf("Cursor(%d)", int(c))
}

// Repainter redraws views after the state changed.
type Repainter interface {
	Repaint(planes mpr.PlaneSet)
}

// RepainterFunc adapts a function to Repainter.
type RepainterFunc func(planes mpr.PlaneSet)

// Repaint calls f(planes).
func (f RepainterFunc) Repaint(planes mpr.PlaneSet) { f(planes) }

// Options tune hit testing. Distances are in view pixels.
type Options struct {
	// PickTolerance is the distance within which a line or handle is hit
	PickTolerance float64

	// CrosshairRadius is the distance within which the crosshair is hit
	CrosshairRadius float64

	// RotateHandle and ExtendHandle place the handles on each cross-line
	// at this fraction of the larger view edge from the crosshair
	RotateHandle float64
	ExtendHandle float64

	Logger *slog.Logger
}

// DefaultOptions returns the stock hit-test distances.
func DefaultOptions() Options {
	return Options{PickTolerance: 7, CrosshairRadius: 20, RotateHandle: 0.35, ExtendHandle: 0.2}
}

// Controller is the pointer state machine shared by the three views. Like
// the state it drives, it belongs to the UI goroutine.
type Controller struct {
	state   *mpr.State
	repaint Repainter
	opts    Options
	logger  *slog.Logger

	mode Mode

	// view is the view the drag started in and target the plane whose
	// cross-line is dragged
	view   models.Plane
	target models.Plane

	// angle0 and phi0 are the plane angle and the pointer angle around the
	// crosshair when a rotation started
	angle0 float64
	phi0   float64

	hover     Hit
	hoverView models.Plane

	wheelAdjusting bool
}

// New creates a controller driving state. A nil repainter is allowed.
func New(state *mpr.State, repaint Repainter, opts Options) *Controller {
	def := DefaultOptions()
	if opts.PickTolerance <= 0 {
		opts.PickTolerance = def.PickTolerance
	}
	if opts.CrosshairRadius <= 0 {
		opts.CrosshairRadius = def.CrosshairRadius
	}
	if opts.RotateHandle <= 0 {
		opts.RotateHandle = def.RotateHandle
	}
	if opts.ExtendHandle <= 0 {
		opts.ExtendHandle = def.ExtendHandle
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if repaint == nil {
		repaint = RepainterFunc(func(mpr.PlaneSet) {})
	}
	return &Controller{state: state, repaint: repaint, opts: opts, logger: logger}
}

// Mode returns the gesture in progress.
func (c *Controller) Mode() Mode { return c.mode }

// State returns the driven state.
func (c *Controller) State() *mpr.State { return c.state }

// Hover records the pointer position over view and returns the cursor to
// show there.
func (c *Controller) Hover(view models.Plane, pt r2.Vec) Cursor {
	switch c.mode {
	case DraggingCrosshair:
		return CursorMove
	case DraggingAxisRotate:
		return CursorRotate
	case DraggingAxisExtend:
		return CursorExtend
	case DraggingAxisTranslate:
		return CursorHand
	}
	c.hover, c.hoverView = c.HitTest(view, pt), view
	return c.hover.Kind.cursor()
}

// Press starts the gesture matching what is under pt and returns the new
// mode. Slab compositing is deferred until Release.
func (c *Controller) Press(view models.Plane, pt r2.Vec) Mode {
	if c.mode != Idle || !view.Valid() {
		return c.mode
	}
	hit := c.HitTest(view, pt)
	switch hit.Kind {
	case HitCrosshair:
		c.mode = DraggingCrosshair
	case HitRotateHandle:
		c.mode = DraggingAxisRotate
		c.angle0 = c.state.Axis(view).Angle()
		c.phi0 = c.pointerAngle(view, pt)
	case HitExtendHandle:
		c.mode = DraggingAxisExtend
	case HitLine:
		c.mode = DraggingAxisTranslate
	default:
		return Idle
	}
	c.view, c.target = view, hit.Plane
	c.state.Apply(mpr.SetAdjusting{Adjusting: true})
	c.logger.Debug("gesture started", "mode", c.mode, "view", view, "plane", hit.Plane)
	return c.mode
}

// Drag continues the gesture with the pointer at pt, in the coordinates of
// the view the gesture started in, and repaints every view. It returns the
// planes whose images were invalidated.
func (c *Controller) Drag(pt r2.Vec) mpr.PlaneSet {
	var edit mpr.Edit
	switch c.mode {
	case DraggingCrosshair:
		edit = mpr.MoveCrosshair{View: c.view, Point: pt}
	case DraggingAxisRotate:
		phi := c.pointerAngle(c.view, pt)
		edit = mpr.RotateAxis{Plane: c.view, Angle: c.angle0 + phi - c.phi0}
	case DraggingAxisExtend:
		line, ok := c.line(c.view, c.target)
		if !ok {
			return 0
		}
		ext := int(math.Round(math.Abs(line.Distance(pt))))
		edit = mpr.SetThickness{Plane: c.target, Extension: ext}
	case DraggingAxisTranslate:
		edit = mpr.TranslateAxis{View: c.view, Plane: c.target, Point: pt}
	default:
		return 0
	}
	changed := c.state.Apply(edit)
	c.repaint.Repaint(mpr.AllPlanes)
	return changed
}

// Release ends the gesture, composes every slab that was deferred and
// repaints every view.
func (c *Controller) Release() {
	if c.mode == Idle {
		return
	}
	c.logger.Debug("gesture finished", "mode", c.mode, "view", c.view)
	c.mode = Idle
	c.finish()
}

// Wheel handles a wheel step over view. With alt the slab of the hovered
// cross-line, or of the view's own plane, grows by delta and compositing is
// deferred until EndAdjusting; otherwise the view steps delta slices.
func (c *Controller) Wheel(view models.Plane, delta int, alt bool) {
	if !view.Valid() || delta == 0 || c.mode != Idle {
		return
	}
	if !alt {
		c.state.Apply(mpr.SetSliceIndex{Plane: view, Index: c.state.SliceIndex(view) + delta})
		c.repaint.Repaint(mpr.AllPlanes)
		return
	}

	target := view
	if c.hoverView == view && (c.hover.Kind == HitLine || c.hover.Kind == HitExtendHandle) {
		target = c.hover.Plane
	}
	c.state.Apply(mpr.SetAdjusting{Adjusting: true})
	c.wheelAdjusting = true
	ext := c.state.Axis(target).Extension() + delta
	c.state.Apply(mpr.SetThickness{Plane: target, Extension: ext})
	c.repaint.Repaint(mpr.AllPlanes)
}

// EndAdjusting composes the slabs deferred by alt-wheel steps.
func (c *Controller) EndAdjusting() {
	if !c.wheelAdjusting {
		return
	}
	c.wheelAdjusting = false
	c.finish()
}

func (c *Controller) finish() {
	c.state.Apply(mpr.SetAdjusting{Adjusting: false})
	for _, p := range models.Planes {
		if c.state.Axis(p).Extension() == 0 {
			continue
		}
		if _, err := c.state.Image(p); err != nil {
			c.logger.Error("composing slab", "plane", p, "error", err)
		}
	}
	c.repaint.Repaint(mpr.AllPlanes)
}

// pointerAngle returns the angle of pt around the crosshair of view.
func (c *Controller) pointerAngle(view models.Plane, pt r2.Vec) float64 {
	d := r2.Sub(pt, c.state.CrosshairPixel(view))
	return math.Atan2(d.Y, d.X)
}

func (c *Controller) line(view, plane models.Plane) (mpr.CrossLine, bool) {
	for _, l := range c.state.CrossLines(view) {
		if l.Plane == plane {
			return l, true
		}
	}
	return mpr.CrossLine{}, false
}
