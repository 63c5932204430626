package volume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
	"obliquempr/pkg/geometry"
	"obliquempr/pkg/interpolation"
	"obliquempr/pkg/parallel"
	"obliquempr/pkg/stack"
)

// Options configure a volume build.
type Options struct {
	// Workers bounds the build goroutines; 0 means runtime.NumCPU()
	Workers int

	// Threshold is the pixel count below which a slice copy is not split further
	Threshold int

	// ScratchDir receives file-backed volumes; "" means os.TempDir()
	ScratchDir string

	// MaxInMemoryBytes caps dense allocations; 0 means
	// DefaultMaxInMemoryBytes() and a negative value means no cap
	MaxInMemoryBytes int64

	Logger *slog.Logger
}

// layout maps slice pixel (u, v) of stack layer k to a voxel. The slice
// count axis lands on Z, Y or X for axial, coronal or sagittal sources.
type layout struct {
	plane   models.Plane
	w, h, n int
	flipU   bool
	flipV   bool
	flipK   bool
}

// axes returns the volume axis receiving the row, column and stack
// directions.
func (l layout) axes() (row, col, slice int) {
	switch l.plane {
	case models.Coronal:
		return 0, 2, 1
	case models.Sagittal:
		return 1, 2, 0
	}
	return 0, 1, 2
}

func (l layout) size() [3]int {
	var s [3]int
	row, col, slice := l.axes()
	s[row], s[col], s[slice] = l.w, l.h, l.n
	return s
}

func (l layout) voxel(u, v, k int) (x, y, z int) {
	if l.flipU {
		u = l.w - 1 - u
	}
	if l.flipV {
		v = l.h - 1 - v
	}
	if l.flipK {
		k = l.n - 1 - k
	}
	switch l.plane {
	case models.Coronal:
		return u, k, v
	case models.Sagittal:
		return k, u, v
	}
	return u, v, k
}

// newLayout derives the permutation and orientation corrections. Each source
// direction is flipped when it points against the volume axis it is
// assigned to; if the resulting basis is still left-handed the stack axis is
// flipped as well.
func newLayout(st *stack.Stack) (layout, *r3.Mat) {
	l := layout{plane: st.Plane, w: st.Width, h: st.Height, n: st.Count()}
	rowAxis, colAxis, sliceAxis := l.axes()

	row, col, normal := st.Frame.Row, st.Frame.Column, st.Frame.Normal
	if geometry.Component(row, rowAxis) < 0 {
		l.flipU, row = true, r3.Scale(-1, row)
	}
	if geometry.Component(col, colAxis) < 0 {
		l.flipV, col = true, r3.Scale(-1, col)
	}
	if geometry.Component(normal, sliceAxis) < 0 {
		l.flipK, normal = true, r3.Scale(-1, normal)
	}

	var cols [3]r3.Vec
	cols[rowAxis], cols[colAxis], cols[sliceAxis] = row, col, normal
	basis := geometry.Columns(cols[0], cols[1], cols[2])
	if basis.Det() < 0 {
		l.flipK = !l.flipK
		cols[sliceAxis] = r3.Scale(-1, cols[sliceAxis])
		basis = geometry.Columns(cols[0], cols[1], cols[2])
	}
	return l, basis
}

// Build copies every slice of st into a new volume. Slices are processed
// concurrently and each slice's pixels are split into ranges of at most
// opts.Threshold; all writes land on disjoint voxels. On error or
// cancellation the partial volume is released and never returned.
func Build(ctx context.Context, st *stack.Stack, opts Options) (*Volume, error) {
	if st == nil || st.Count() < 2 {
		return nil, fmt.Errorf("building volume: %w", stack.ErrInsufficientSlices)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	l, basis := newLayout(st)
	size := l.size()

	var pixelRatio r3.Vec
	rowAxis, colAxis, sliceAxis := l.axes()
	pixelRatio = geometry.WithComponent(pixelRatio, rowAxis, st.PixelSpacing.Column)
	pixelRatio = geometry.WithComponent(pixelRatio, colAxis, st.PixelSpacing.Row)
	pixelRatio = geometry.WithComponent(pixelRatio, sliceAxis, st.Spacing)

	maxBytes := opts.MaxInMemoryBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxInMemoryBytes()
	}
	alloc := allocator{scratchDir: opts.ScratchDir, maxBytes: maxBytes, logger: logger}
	grid, store, err := alloc.newGrid(st.Type, size[0], size[1], size[2])
	if err != nil {
		return nil, fmt.Errorf("allocating volume: %w", err)
	}

	v := &Volume{
		typ:          st.Type,
		size:         size,
		pixelRatio:   pixelRatio,
		basis:        basis,
		sourcePlane:  st.Plane,
		rowFlipped:   l.flipU,
		colFlipped:   l.flipV,
		sliceFlipped: l.flipK,
		irregular:    st.Irregular,
		rotation:     geometry.IdentityRotation,
		grid:         grid,
		store:        store,
	}
	v.origin = voxelOrigin(st, l)

	logger.Info("building volume", "volume", v, "plane", st.Plane, "slices", st.Count())

	pool := parallel.New(opts.Workers, opts.Threshold)
	ranges := make([][2]float64, st.Count())
	err = pool.Each(ctx, st.Count(), func(ctx context.Context, k int) error {
		lo, hi, err := copySlice(ctx, pool, v, st, l, k)
		if err != nil {
			return err
		}
		ranges[k] = [2]float64{lo, hi}
		return nil
	})
	if err != nil {
		if cerr := v.Close(); cerr != nil {
			logger.Warn("releasing partial volume", "error", cerr)
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			logger.Info("volume build canceled", "elapsed", time.Since(start))
			return nil, fmt.Errorf("%w: %w", ErrBuildCanceled, ctx.Err())
		}
		return nil, fmt.Errorf("building volume: %w", err)
	}

	v.min, v.max = math.Inf(1), math.Inf(-1)
	for _, r := range ranges {
		v.min = math.Min(v.min, r[0])
		v.max = math.Max(v.max, r[1])
	}
	if v.min > v.max {
		v.min, v.max = 0, 0
	}

	logger.Info("volume built", "volume", v, "min", v.min, "max", v.max, "elapsed", time.Since(start))
	return v, nil
}

// voxelOrigin returns the patient position of voxel (0,0,0).
func voxelOrigin(st *stack.Stack, l layout) r3.Vec {
	u0, v0, k0 := 0.0, 0.0, 0.0
	if l.flipU {
		u0 = float64(l.w - 1)
	}
	if l.flipV {
		v0 = float64(l.h - 1)
	}
	if l.flipK {
		k0 = float64(l.n - 1)
	}
	f := st.Frame
	p := r3.Add(f.Origin, r3.Scale(u0*st.PixelSpacing.Column, f.Row))
	p = r3.Add(p, r3.Scale(v0*st.PixelSpacing.Row, f.Column))
	return r3.Add(p, r3.Scale(k0*st.Spacing, f.Normal))
}

// sourceMap locates, for reference pixel (u, v) of layer k, the pixel of the
// actual slice that covers the same patient position. It carries the slice's
// 3x3 orientation relative to the reference frame.
type sourceMap struct {
	o, du, dv r3.Vec
}

func newSourceMap(st *stack.Stack, s *models.Slice, k int) (sourceMap, error) {
	frame, err := geometry.NewFrame(s.Row, s.Column, s.Origin)
	if err != nil {
		return sourceMap{}, err
	}
	rel := frame.Relative(st.Frame)
	cs, rs := st.PixelSpacing.Column, st.PixelSpacing.Row
	scale := r3.Vec{X: 1 / s.Spacing.Column, Y: 1 / s.Spacing.Row, Z: 1}

	// Reference layer origin expressed in the slice frame.
	d := r3.Sub(st.SliceOrigin(k), s.Origin)
	o := r3.Vec{X: r3.Dot(d, frame.Row), Y: r3.Dot(d, frame.Column), Z: r3.Dot(d, frame.Normal)}

	return sourceMap{
		o:  geometry.Mul(o, scale),
		du: geometry.Mul(rel.MulVec(r3.Vec{X: cs}), scale),
		dv: geometry.Mul(rel.MulVec(r3.Vec{Y: rs}), scale),
	}, nil
}

func (m sourceMap) at(u, v int) (int, int) {
	x := m.o.X + float64(u)*m.du.X + float64(v)*m.dv.X
	y := m.o.Y + float64(u)*m.du.Y + float64(v)*m.dv.Y
	return int(math.Round(x)), int(math.Round(y))
}

// copySlice writes stack layer k into the volume and returns the value range
// of the source pixels.
func copySlice(ctx context.Context, pool *parallel.Pool, v *Volume, st *stack.Stack, l layout, k int) (float64, float64, error) {
	s := &st.Slices[k]
	buf, err := s.PixelData()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrUnreadablePixels, err)
	}
	m, err := newSourceMap(st, s, k)
	if err != nil {
		return 0, 0, fmt.Errorf("slice %d: %w", s.Index, err)
	}

	switch g := v.grid.(type) {
	case *interpolation.Grid[uint8]:
		return copyPixels(ctx, pool, g, buf, l, m, k)
	case *interpolation.Grid[int8]:
		return copyPixels(ctx, pool, g, buf, l, m, k)
	case *interpolation.Grid[uint16]:
		return copyPixels(ctx, pool, g, buf, l, m, k)
	case *interpolation.Grid[int16]:
		return copyPixels(ctx, pool, g, buf, l, m, k)
	case *interpolation.Grid[uint32]:
		return copyPixels(ctx, pool, g, buf, l, m, k)
	case *interpolation.Grid[int32]:
		return copyPixels(ctx, pool, g, buf, l, m, k)
	case *interpolation.Grid[float32]:
		return copyPixels(ctx, pool, g, buf, l, m, k)
	case *interpolation.Grid[float64]:
		return copyPixels(ctx, pool, g, buf, l, m, k)
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedType, v.typ)
}

func copyPixels[T models.Number](ctx context.Context, pool *parallel.Pool, g *interpolation.Grid[T], buf any, l layout, m sourceMap, k int) (float64, float64, error) {
	src, ok := buf.([]T)
	if !ok {
		return 0, 0, fmt.Errorf("%w: pixel buffer %T does not match volume", ErrUnreadablePixels, buf)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range src {
		f := float64(p)
		if f < lo {
			lo = f
		}
		if f > hi {
			hi = f
		}
	}

	err := pool.For(ctx, l.w*l.h, func(start, end int) {
		for i := start; i < end; i++ {
			u, v := i%l.w, i/l.w
			su, sv := m.at(u, v)
			if su < 0 || sv < 0 || su >= l.w || sv >= l.h {
				continue
			}
			x, y, z := l.voxel(u, v, k)
			g.Data[g.Index(x, y, z)] = src[sv*l.w+su]
		}
	})
	return lo, hi, err
}
