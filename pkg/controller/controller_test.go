package controller

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
	"obliquempr/pkg/mpr"
	"obliquempr/pkg/stack"
	"obliquempr/pkg/volume"
)

type recorder struct {
	calls []mpr.PlaneSet
}

func (r *recorder) Repaint(planes mpr.PlaneSet) { r.calls = append(r.calls, planes) }

// setup returns a controller over a 64x64x4 axial volume. The axial view is
// 64x64 with the crosshair at pixel (31.5, 31.5).
func setup(t *testing.T) (*Controller, *recorder) {
	t.Helper()
	const size, count = 64, 4
	slices := make([]models.Slice, count)
	for k := range slices {
		buf := make([]uint8, size*size)
		for i := range buf {
			buf[i] = uint8(k)
		}
		slices[k] = models.Slice{
			Width: size, Height: size, Type: models.Uint8,
			Spacing: models.PixelSpacing{Row: 1, Column: 1},
			Row:     r3.Vec{X: 1}, Column: r3.Vec{Y: 1},
			Origin: r3.Vec{Z: float64(k)},
			Pixels: buf,
		}
	}
	st, err := stack.Build(slices, models.Axial, stack.Options{})
	require.NoError(t, err)
	vol, err := volume.Build(context.Background(), st, volume.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { vol.Close() })

	state, err := mpr.NewState(vol, mpr.Options{})
	require.NoError(t, err)
	rec := &recorder{}
	return New(state, rec, DefaultOptions()), rec
}

var center = r2.Vec{X: 31.5, Y: 31.5}

func TestHover_Cursors(t *testing.T) {
	c, _ := setup(t)

	// Rotate handles sit 0.35*64 = 22.4 px and extend handles 12.8 px from
	// the crosshair along each line.
	tests := []struct {
		name string
		pt   r2.Vec
		want Cursor
	}{
		{"crosshair", r2.Vec{X: 35, Y: 28}, CursorMove},
		{"rotate handle", r2.Vec{X: 31.5, Y: 31.5 + 22.4}, CursorRotate},
		{"extend handle", r2.Vec{X: 31.5 - 12.8, Y: 31.5}, CursorExtend},
		{"line body", r2.Vec{X: 31.5 + 2, Y: 31.5 + 30}, CursorHand},
		{"empty", r2.Vec{X: 5, Y: 5}, CursorDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Hover(models.Axial, tt.pt))
		})
	}
}

func TestDragCrosshair(t *testing.T) {
	c, rec := setup(t)
	state := c.State()

	require.Equal(t, DraggingCrosshair, c.Press(models.Axial, center))
	assert.True(t, state.Adjusting())

	changed := c.Drag(r2.Vec{X: 20, Y: 40})
	assert.Equal(t, mpr.SetOf(models.Coronal, models.Sagittal), changed)
	assert.Equal(t, []mpr.PlaneSet{mpr.AllPlanes}, rec.calls)
	assert.Equal(t, CursorMove, c.Hover(models.Axial, r2.Vec{}))

	got := state.CrosshairPixel(models.Axial)
	assert.InDelta(t, 20, got.X, 1e-9)
	assert.InDelta(t, 40, got.Y, 1e-9)

	c.Release()
	assert.Equal(t, Idle, c.Mode())
	assert.False(t, state.Adjusting())
	assert.Len(t, rec.calls, 2)
}

func TestDragRotateHandle(t *testing.T) {
	c, _ := setup(t)
	const r, angle = 22.4, 0.3

	require.Equal(t, DraggingAxisRotate, c.Press(models.Axial, r2.Vec{X: 31.5, Y: 31.5 + r}))
	c.Drag(r2.Add(center, r2.Vec{X: -r * math.Sin(angle), Y: r * math.Cos(angle)}))

	assert.InDelta(t, angle, c.State().Axis(models.Axial).Angle(), 1e-9)
	// The lines follow the pointer.
	for _, l := range c.State().CrossLines(models.Axial) {
		if l.Plane == models.Sagittal {
			assert.InDelta(t, math.Sin(angle), math.Abs(l.Direction.X), 1e-9)
		}
	}
	c.Release()
}

func TestDragExtendHandle(t *testing.T) {
	c, rec := setup(t)
	state := c.State()

	require.Equal(t, DraggingAxisExtend, c.Press(models.Axial, r2.Vec{X: 31.5 + 12.8, Y: 31.5}))
	c.Drag(r2.Vec{X: 31.5 + 12.8, Y: 31.5 + 5})

	assert.Equal(t, 5, state.Axis(models.Coronal).Extension())
	assert.Equal(t, models.ProjectionMax, state.Projection())

	c.Release()
	assert.False(t, state.Adjusting())
	im, err := state.Image(models.Coronal)
	require.NoError(t, err)
	assert.Equal(t, 5, im.Extension)
	assert.Equal(t, mpr.AllPlanes, rec.calls[len(rec.calls)-1])
}

func TestDragLineTranslates(t *testing.T) {
	c, _ := setup(t)
	state := c.State()

	require.Equal(t, DraggingAxisTranslate, c.Press(models.Axial, r2.Vec{X: 31.5, Y: 31.5 + 30}))
	changed := c.Drag(r2.Vec{X: 35.5, Y: 31.5 + 30})

	assert.Equal(t, mpr.SetOf(models.Sagittal), changed)
	assert.InDelta(t, 4, state.Axis(models.Sagittal).Offset(), 1e-9)
	assert.InDelta(t, 0, state.Axis(models.Coronal).Offset(), 1e-9)
	c.Release()
}

func TestPressOnNothingStaysIdle(t *testing.T) {
	c, rec := setup(t)
	assert.Equal(t, Idle, c.Press(models.Axial, r2.Vec{X: 2, Y: 60}))
	assert.Equal(t, mpr.PlaneSet(0), c.Drag(r2.Vec{X: 3, Y: 3}))
	c.Release()
	assert.Empty(t, rec.calls)
	assert.False(t, c.State().Adjusting())
}

func TestWheel(t *testing.T) {
	c, rec := setup(t)
	state := c.State()
	before := state.SliceIndex(models.Axial)

	c.Wheel(models.Axial, 1, false)
	assert.Equal(t, before+1, state.SliceIndex(models.Axial))

	c.Wheel(models.Axial, 2, true)
	assert.Equal(t, 2, state.Axis(models.Axial).Extension())
	assert.True(t, state.Adjusting())

	c.EndAdjusting()
	assert.False(t, state.Adjusting())
	im, err := state.Image(models.Axial)
	require.NoError(t, err)
	assert.Equal(t, 2, im.Extension)
	assert.Len(t, rec.calls, 3)
}

func TestWheelOnHoveredLine(t *testing.T) {
	c, _ := setup(t)
	state := c.State()

	require.Equal(t, CursorHand, c.Hover(models.Axial, r2.Vec{X: 31.5 + 30, Y: 31.5 + 1}))
	c.Wheel(models.Axial, 3, true)
	assert.Equal(t, 3, state.Axis(models.Coronal).Extension())
	assert.Equal(t, 0, state.Axis(models.Axial).Extension())
	c.EndAdjusting()
}
