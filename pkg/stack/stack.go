// Package stack orders the raw slices of one series along their common
// normal, measures the inter-slice spacing and derives the reference frame
// the volume store uses for every later transform.
package stack

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"obliquempr/internal/models"
	"obliquempr/pkg/geometry"
)

// SpacingEpsilon is the largest deviation (mm) of one inter-slice distance
// from the running mean before the stack is flagged irregular.
const SpacingEpsilon = 1e-3

var (
	// ErrInsufficientSlices is returned for empty and single-slice input.
	ErrInsufficientSlices = errors.New("at least two slices are required")

	// ErrInconsistentSlices is returned when slices disagree on size or type.
	ErrInconsistentSlices = errors.New("inconsistent slices")

	// ErrDegenerateGeometry is returned for missing or malformed orientation.
	ErrDegenerateGeometry = geometry.ErrDegenerate
)

// Stack is an ordered, validated slice series ready for the volume build.
type Stack struct {
	// Plane is the acquisition orientation of the source slices
	Plane models.Plane

	// Slices are sorted by ascending position along Frame.Normal
	Slices []models.Slice

	// Positions holds each slice's projection onto Frame.Normal
	Positions []float64

	// Spacing is the mean distance between consecutive slices in mm
	Spacing float64

	// Irregular is set when the distances vary by more than SpacingEpsilon
	Irregular bool

	// Frame is the coordinate frame of the first slice in stack order
	Frame geometry.Frame

	Width        int
	Height       int
	Type         models.ElementType
	PixelSpacing models.PixelSpacing
}

// Options tune Build.
type Options struct {
	// FallbackSpacing replaces a zero mean spacing (all slices at one position)
	FallbackSpacing float64

	Logger *slog.Logger
}

// Build validates and orders slices belonging to one series acquired in the
// given plane.
func Build(slices []models.Slice, plane models.Plane, opts Options) (*Stack, error) {
	if len(slices) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientSlices, len(slices))
	}
	if !plane.Valid() {
		return nil, fmt.Errorf("invalid source plane %d", int(plane))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	first := slices[0]
	if first.Width <= 0 || first.Height <= 0 {
		return nil, fmt.Errorf("%w: slice %d is %dx%d", ErrInconsistentSlices, first.Index, first.Width, first.Height)
	}
	if first.Spacing.Row <= 0 || first.Spacing.Column <= 0 ||
		math.IsNaN(first.Spacing.Row) || math.IsNaN(first.Spacing.Column) {
		return nil, fmt.Errorf("%w: slice %d has pixel spacing %+v", ErrDegenerateGeometry, first.Index, first.Spacing)
	}

	ref, err := geometry.NewFrame(first.Row, first.Column, first.Origin)
	if err != nil {
		return nil, fmt.Errorf("slice %d: %w", first.Index, err)
	}

	for i := range slices {
		s := &slices[i]
		if s.Width != first.Width || s.Height != first.Height || s.Type != first.Type {
			return nil, fmt.Errorf("%w: slice %d is %dx%d %s, want %dx%d %s", ErrInconsistentSlices,
				s.Index, s.Width, s.Height, s.Type, first.Width, first.Height, first.Type)
		}
		if _, err := geometry.NewFrame(s.Row, s.Column, s.Origin); err != nil {
			return nil, fmt.Errorf("slice %d: %w", s.Index, err)
		}
	}

	ordered := make([]models.Slice, len(slices))
	copy(ordered, slices)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position(ref.Normal) < ordered[j].Position(ref.Normal)
	})

	positions := make([]float64, len(ordered))
	for i := range ordered {
		positions[i] = ordered[i].Position(ref.Normal)
	}

	spacing, irregular := measureSpacing(positions)
	if spacing == 0 {
		irregular = true
		spacing = opts.FallbackSpacing
		if spacing <= 0 {
			spacing = 1
		}
		logger.Warn("slices share one position, using fallback spacing", "spacing", spacing)
	}

	// The reference frame follows the first slice in stack order.
	frame, err := geometry.NewFrame(ordered[0].Row, ordered[0].Column, ordered[0].Origin)
	if err != nil {
		return nil, fmt.Errorf("slice %d: %w", ordered[0].Index, err)
	}

	st := &Stack{
		Plane:        plane,
		Slices:       ordered,
		Positions:    positions,
		Spacing:      spacing,
		Irregular:    irregular,
		Frame:        frame,
		Width:        first.Width,
		Height:       first.Height,
		Type:         first.Type,
		PixelSpacing: first.Spacing,
	}

	if irregular {
		logger.Warn("irregular slice spacing", "plane", plane, "slices", len(ordered), "meanSpacing", spacing)
	}
	logger.Debug("stack ordered", "plane", plane, "slices", len(ordered),
		"width", st.Width, "height", st.Height, "type", st.Type, "spacing", spacing)
	return st, nil
}

// measureSpacing returns the mean absolute delta between consecutive
// positions and whether any delta strays from the running mean of the
// previous ones by more than SpacingEpsilon. Duplicate positions also mark
// the stack irregular.
func measureSpacing(positions []float64) (float64, bool) {
	deltas := make([]float64, 0, len(positions)-1)
	irregular := false
	running := 0.0
	for i := 1; i < len(positions); i++ {
		d := math.Abs(positions[i] - positions[i-1])
		if d == 0 {
			irregular = true
		}
		if len(deltas) > 0 && math.Abs(d-running) > SpacingEpsilon {
			irregular = true
		}
		deltas = append(deltas, d)
		running += (d - running) / float64(len(deltas))
	}
	return stat.Mean(deltas, nil), irregular
}

// Count returns the number of slices.
func (s *Stack) Count() int { return len(s.Slices) }

// SliceOrigin returns the patient position of slice k's top-left pixel as it
// would be on a regular grid anchored at the first slice.
func (s *Stack) SliceOrigin(k int) r3.Vec {
	return r3.Add(s.Frame.Origin, r3.Scale(float64(k)*s.Spacing, s.Frame.Normal))
}

// DetectPlane returns the canonical plane whose normal is closest to n.
func DetectPlane(n r3.Vec) models.Plane {
	ax, ay, az := math.Abs(n.X), math.Abs(n.Y), math.Abs(n.Z)
	switch {
	case az >= ax && az >= ay:
		return models.Axial
	case ay >= ax:
		return models.Coronal
	}
	return models.Sagittal
}
