// Package volume implements the dense 3D scalar grid built once per series
// from an ordered slice stack. Voxels are read-only after the build; only the
// interactive rotation and translation of the volume may change afterwards.
package volume

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
	"obliquempr/pkg/geometry"
	"obliquempr/pkg/interpolation"
)

var (
	// ErrUnsupportedType is returned for sample depths without a storage variant.
	ErrUnsupportedType = models.ErrUnsupportedType

	// ErrUnreadablePixels is returned when a slice's pixel data cannot be read.
	ErrUnreadablePixels = errors.New("unreadable slice pixel data")

	// ErrBuildCanceled is returned when the build context is cancelled.
	ErrBuildCanceled = errors.New("volume build canceled")

	// ErrClosed is returned by accessors of a closed volume.
	ErrClosed = errors.New("volume is closed")
)

// SampleFunc samples the volume at fractional voxel coordinates.
type SampleFunc func(x, y, z float64) (float64, bool)

// Volume is the dense voxel grid of one series. A Volume is not safe for
// concurrent mutation of its rotation and translation; voxel reads may run
// concurrently.
type Volume struct {
	typ  models.ElementType
	size [3]int

	// pixelRatio is the voxel size in mm along X, Y, Z
	pixelRatio r3.Vec

	// origin is the patient position of voxel (0,0,0); basis holds the
	// patient directions of the volume axes as columns
	origin r3.Vec
	basis  *r3.Mat

	min, max float64

	sourcePlane  models.Plane
	rowFlipped   bool
	colFlipped   bool
	sliceFlipped bool
	irregular    bool

	rotation    r3.Rotation
	translation r3.Vec

	// grid is a *interpolation.Grid[T] matching typ
	grid  any
	store backing
}

// Type returns the element type of the voxels.
func (v *Volume) Type() models.ElementType { return v.typ }

// Size returns the voxel counts along X, Y and Z.
func (v *Volume) Size() (x, y, z int) { return v.size[0], v.size[1], v.size[2] }

// SizeVec returns the voxel counts as a vector.
func (v *Volume) SizeVec() r3.Vec {
	return r3.Vec{X: float64(v.size[0]), Y: float64(v.size[1]), Z: float64(v.size[2])}
}

// Len returns the number of voxels.
func (v *Volume) Len() int { return v.size[0] * v.size[1] * v.size[2] }

// PixelRatio returns the voxel size in mm along X, Y and Z.
func (v *Volume) PixelRatio() r3.Vec { return v.pixelRatio }

// MinPixelRatio returns the smallest voxel edge in mm.
func (v *Volume) MinPixelRatio() float64 {
	return math.Min(v.pixelRatio.X, math.Min(v.pixelRatio.Y, v.pixelRatio.Z))
}

// VoxelRatio returns PixelRatio divided by its smallest component, so the
// finest axis has ratio 1.
func (v *Volume) VoxelRatio() r3.Vec {
	return r3.Scale(1/v.MinPixelRatio(), v.pixelRatio)
}

// SliceSize returns the edge of the square that holds any plane through the
// volume: the ceiling of the diagonal in voxel-ratio units.
func (v *Volume) SliceSize() int {
	return int(math.Ceil(r3.Norm(geometry.Mul(v.SizeVec(), v.VoxelRatio()))))
}

// Center returns the geometric centre in voxel-ratio units, including the
// interactive translation.
func (v *Volume) Center() r3.Vec {
	half := r3.Scale(0.5, geometry.Mul(r3.Sub(v.SizeVec(), r3.Vec{X: 1, Y: 1, Z: 1}), v.VoxelRatio()))
	return r3.Add(half, v.translation)
}

// Range returns the smallest and largest voxel values seen during the build.
func (v *Volume) Range() (min, max float64) { return v.min, v.max }

// SourcePlane returns the acquisition plane of the source slices.
func (v *Volume) SourcePlane() models.Plane { return v.sourcePlane }

// NegativeDirection reports whether the source row or column vectors pointed
// against their volume axis and were flipped.
func (v *Volume) NegativeDirection() bool { return v.rowFlipped || v.colFlipped }

// Flips returns the row, column and slice-axis corrections applied during the build.
func (v *Volume) Flips() (row, column, slice bool) {
	return v.rowFlipped, v.colFlipped, v.sliceFlipped
}

// Irregular reports whether the source spacing was irregular.
func (v *Volume) Irregular() bool { return v.irregular }

// FileBacked reports whether the voxels live in a memory-mapped scratch file.
func (v *Volume) FileBacked() bool { return v.store != nil && v.store.fileBacked() }

// ScratchPath returns the scratch file name, or "" for dense volumes.
func (v *Volume) ScratchPath() string {
	if v.store == nil {
		return ""
	}
	return v.store.path()
}

// Basis returns the patient-space directions of the volume X, Y and Z axes.
func (v *Volume) Basis() (x, y, z r3.Vec) {
	return v.basis.VecCol(0), v.basis.VecCol(1), v.basis.VecCol(2)
}

// Origin returns the patient position of voxel (0,0,0).
func (v *Volume) Origin() r3.Vec { return v.origin }

// PatientPosition maps fractional voxel coordinates to patient space.
func (v *Volume) PatientPosition(index r3.Vec) r3.Vec {
	return r3.Add(v.origin, v.basis.MulVec(geometry.Mul(index, v.pixelRatio)))
}

// PatientDirection maps a direction in voxel coordinates to patient space.
func (v *Volume) PatientDirection(d r3.Vec) r3.Vec {
	return v.basis.MulVec(geometry.Mul(d, v.pixelRatio))
}

// Value returns voxel (x, y, z); voxels outside the volume are absent.
func (v *Volume) Value(x, y, z int) (float64, bool) {
	switch g := v.grid.(type) {
	case *interpolation.Grid[uint8]:
		return value(g, x, y, z)
	case *interpolation.Grid[int8]:
		return value(g, x, y, z)
	case *interpolation.Grid[uint16]:
		return value(g, x, y, z)
	case *interpolation.Grid[int16]:
		return value(g, x, y, z)
	case *interpolation.Grid[uint32]:
		return value(g, x, y, z)
	case *interpolation.Grid[int32]:
		return value(g, x, y, z)
	case *interpolation.Grid[float32]:
		return value(g, x, y, z)
	case *interpolation.Grid[float64]:
		return value(g, x, y, z)
	}
	return 0, false
}

func value[T models.Number](g *interpolation.Grid[T], x, y, z int) (float64, bool) {
	s, ok := g.Value(x, y, z)
	return float64(s), ok
}

// Sampler returns a trilinear sampler bound to the concrete element type, so
// hot loops pay for the type dispatch once.
func (v *Volume) Sampler() SampleFunc {
	switch g := v.grid.(type) {
	case *interpolation.Grid[uint8]:
		return trilinear(g)
	case *interpolation.Grid[int8]:
		return trilinear(g)
	case *interpolation.Grid[uint16]:
		return trilinear(g)
	case *interpolation.Grid[int16]:
		return trilinear(g)
	case *interpolation.Grid[uint32]:
		return trilinear(g)
	case *interpolation.Grid[int32]:
		return trilinear(g)
	case *interpolation.Grid[float32]:
		return trilinear(g)
	case *interpolation.Grid[float64]:
		return trilinear(g)
	}
	return func(x, y, z float64) (float64, bool) { return 0, false }
}

func trilinear[T models.Number](g *interpolation.Grid[T]) SampleFunc {
	return func(x, y, z float64) (float64, bool) {
		return interpolation.Trilinear(g, x, y, z)
	}
}

// Rotation returns the interactive rotation of the volume.
func (v *Volume) Rotation() r3.Rotation { return v.rotation }

// Translation returns the interactive translation in voxel-ratio units.
func (v *Volume) Translation() r3.Vec { return v.translation }

// SetRotation replaces the interactive rotation.
func (v *Volume) SetRotation(r r3.Rotation) { v.rotation = r }

// Rotate composes a rotation by ax, ay, az radians about X, Y, Z onto the
// current one.
func (v *Volume) Rotate(ax, ay, az float64) {
	v.rotation = geometry.Then(geometry.EulerXYZ(ax, ay, az), v.rotation)
}

// Translate moves the volume by d voxel-ratio units.
func (v *Volume) Translate(d r3.Vec) { v.translation = r3.Add(v.translation, d) }

// ResetRotation clears the interactive rotation.
func (v *Volume) ResetRotation() { v.rotation = geometry.IdentityRotation }

// ResetTranslation clears the interactive translation.
func (v *Volume) ResetTranslation() { v.translation = r3.Vec{} }

// Close releases the voxel storage and deletes any scratch file. It is safe
// to call more than once.
func (v *Volume) Close() error {
	if v.store == nil {
		return nil
	}
	err := v.store.release()
	v.store = nil
	v.grid = nil
	if err != nil {
		return fmt.Errorf("closing volume: %w", err)
	}
	return nil
}

// Closed reports whether Close has been called.
func (v *Volume) Closed() bool { return v.grid == nil }

// String implements fmt.Stringer.
func (v *Volume) String() string {
	return fmt.Sprintf("Volume(%dx%dx%d %s, ratio %.3gx%.3gx%.3g mm)",
		v.size[0], v.size[1], v.size[2], v.typ, v.pixelRatio.X, v.pixelRatio.Y, v.pixelRatio.Z)
}

// LogValue implements slog.LogValuer.
func (v *Volume) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("x", v.size[0]), slog.Int("y", v.size[1]), slog.Int("z", v.size[2]),
		slog.String("type", v.typ.String()), slog.Bool("fileBacked", v.FileBacked()))
}
