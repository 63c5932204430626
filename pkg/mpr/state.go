// Package mpr holds the multiplanar reformatting state of one volume: three
// cutting planes sharing a crosshair and a global rotation, and the sampler
// that turns each plane into a raster.
//
// Slice space is the cube [0,D]^3, D being the volume's SliceSize, centred
// on the volume centre. The crosshair lives in slice space; a plane's
// transform takes its output pixels through slice space into volume space
// measured in voxel-ratio units.
package mpr

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
	"obliquempr/pkg/geometry"
	"obliquempr/pkg/parallel"
	"obliquempr/pkg/volume"
)

// ErrNoVolume is returned when the state has no open volume to sample.
var ErrNoVolume = errors.New("no volume attached")

// Options configure a State.
type Options struct {
	// Projection is the slab compositing function
	Projection models.Projection

	// Extension is the initial slab half-width of every plane
	Extension int

	// FullDiagonal sizes every raster D x D so oblique planes are never
	// clipped; otherwise rasters cover the plane's canonical extent
	FullDiagonal bool

	Workers   int
	Threshold int
	Logger    *slog.Logger
}

// State is the plane triad of one volume. All mutation goes through Apply.
// A State is owned by one goroutine; Image fans out internally and joins
// before returning, but State itself is not safe for concurrent use.
type State struct {
	vol *volume.Volume

	// size is D; half is D/2 on every axis
	size int
	half r3.Vec

	// center is the crosshair in slice space
	center r3.Vec

	// rotation is the global rotation shared by every plane
	rotation r3.Rotation

	axes [3]*Axis

	projection   models.Projection
	adjusting    bool
	fullDiagonal bool

	pool   *parallel.Pool
	logger *slog.Logger
}

// NewState creates the plane triad of vol with the crosshair at the volume
// centre and every plane unrotated.
func NewState(vol *volume.Volume, opts Options) (*State, error) {
	if vol == nil || vol.Closed() {
		return nil, ErrNoVolume
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := vol.SliceSize()
	s := &State{
		vol:          vol,
		size:         d,
		half:         r3.Vec{X: float64(d) / 2, Y: float64(d) / 2, Z: float64(d) / 2},
		projection:   opts.Projection,
		fullDiagonal: opts.FullDiagonal,
		pool:         parallel.New(opts.Workers, opts.Threshold),
		logger:       logger,
	}
	for _, p := range models.Planes {
		s.axes[p] = &Axis{plane: p, extension: max(opts.Extension, 0)}
	}
	if s.projection == models.ProjectionNone && opts.Extension > 0 {
		s.projection = models.ProjectionMax
	}
	s.reset()

	logger.Debug("mpr state created", "volume", vol, "sliceSize", d, "projection", s.projection)
	return s, nil
}

func (s *State) reset() {
	s.center = s.half
	s.rotation = s.vol.Rotation()
	for _, a := range s.axes {
		a.offset, a.angle = 0, 0
		a.width, a.height = s.rasterSize(a.plane)
	}
	s.refresh()
}

// rasterSize returns the output size of plane p.
func (s *State) rasterSize(p models.Plane) (int, int) {
	if s.fullDiagonal {
		return s.size, s.size
	}
	ext := geometry.Mul(s.vol.SizeVec(), s.vol.VoxelRatio())
	span := func(v float64) int {
		return max(int(math.Ceil(v-1e-9)), 1)
	}
	switch p {
	case models.Coronal:
		return span(ext.X), span(ext.Z)
	case models.Sagittal:
		return span(ext.Y), span(ext.Z)
	}
	return span(ext.X), span(ext.Y)
}

// refresh rebuilds every plane transform from the global rotation, the
// volume centre and each plane's own angle and offset.
func (s *State) refresh() {
	center := geometry.Translation(s.vol.Center())
	global := geometry.Rotation(s.rotation)
	for _, a := range s.axes {
		cx, cy := a.pixelCenter()
		a.transform = geometry.Compose(
			center,
			global,
			geometry.Linear(a.local()),
			geometry.Translation(r3.Vec{X: -cx, Y: -cy, Z: a.offset}),
		)
	}
}

// invalidate drops the cached images of planes.
func (s *State) invalidate(planes PlaneSet) {
	for _, p := range planes.Planes() {
		s.axes[p].image = nil
	}
}

// thick returns the planes with an active slab.
func (s *State) thick() PlaneSet {
	var out PlaneSet
	for _, a := range s.axes {
		if a.extension > 0 {
			out = out.With(a.plane)
		}
	}
	return out
}

// Volume returns the sampled volume.
func (s *State) Volume() *volume.Volume { return s.vol }

// Axis returns the state of plane p.
func (s *State) Axis(p models.Plane) *Axis {
	if !p.Valid() {
		return nil
	}
	return s.axes[p]
}

// SliceSize returns D, the edge of the slice-space cube.
func (s *State) SliceSize() int { return s.size }

// Center returns the crosshair in slice space.
func (s *State) Center() r3.Vec { return s.center }

// Rotation returns the global rotation.
func (s *State) Rotation() r3.Rotation { return s.rotation }

// Projection returns the slab compositing function.
func (s *State) Projection() models.Projection { return s.projection }

// Adjusting reports whether slab compositing is deferred.
func (s *State) Adjusting() bool { return s.adjusting }

// CenterIndex returns the crosshair in fractional voxel coordinates.
func (s *State) CenterIndex() r3.Vec {
	p := r3.Add(s.vol.Center(), s.rotation.Rotate(r3.Sub(s.center, s.half)))
	return geometry.Div(p, s.vol.VoxelRatio())
}

// SliceIndex returns the volume slice nearest to plane p along its normal
// axis.
func (s *State) SliceIndex(p models.Plane) int {
	d := normalAxis(p)
	ratio := geometry.Component(s.vol.VoxelRatio(), d)
	return int(math.Round((geometry.Component(s.vol.Center(), d) + s.axes[p].offset) / ratio))
}

// SliceCount returns the number of volume slices along plane p's normal.
func (s *State) SliceCount(p models.Plane) int {
	x, y, z := s.vol.Size()
	return [3]int{x, y, z}[normalAxis(p)]
}

// Apply performs edit and returns the planes whose cached images it
// invalidated. Every change of the state goes through Apply.
func (s *State) Apply(edit Edit) PlaneSet {
	if edit == nil {
		return 0
	}
	changed := edit.apply(s)
	s.refresh()
	s.invalidate(changed)
	if changed != 0 {
		s.logger.Debug("mpr edit", "edit", fmt.Sprintf("%T", edit), "invalidated", changed.String())
	}
	return changed
}
