package mpr

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
	"obliquempr/pkg/geometry"
)

// Image returns the raster of plane p, sampling it if the cached one was
// invalidated. With a slab extension N > 0 and a projection selected, 2N+1
// layers one voxel-ratio unit apart are sampled and composited; while the
// state is adjusting only the central layer is sampled.
func (s *State) Image(p models.Plane) (*Image, error) {
	return s.ImageContext(context.Background(), p)
}

// ImageContext is Image with a context that can abort the sampling.
func (s *State) ImageContext(ctx context.Context, p models.Plane) (*Image, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid plane %d", int(p))
	}
	if s.vol.Closed() {
		return nil, ErrNoVolume
	}
	a := s.axes[p]
	if a.image != nil {
		return a.image, nil
	}

	start := time.Now()
	n := a.extension
	if s.adjusting || s.projection == models.ProjectionNone {
		n = 0
	}
	raster, err := s.sample(ctx, a, n)
	if err != nil {
		return nil, fmt.Errorf("sampling %s plane: %w", p, err)
	}

	a.image = &Image{
		Plane:      p,
		Raster:     raster,
		Geometry:   s.geometry(a, n),
		Projection: s.projection,
		Extension:  n,
	}
	s.logger.Debug("plane sampled", "plane", p, "width", a.width, "height", a.height,
		"extension", n, "projection", s.projection, "elapsed", time.Since(start))
	return a.image, nil
}

// sample fills a raster of a's size. Absent samples are carried as NaN
// until they are narrowed to the volume's element type.
func (s *State) sample(ctx context.Context, a *Axis, n int) (*models.Raster, error) {
	count := a.width * a.height
	raster := models.NewRaster(a.width, a.height, s.vol.Type())

	if n == 0 {
		buf := make([]float64, count)
		err := s.layer(ctx, a, 0, buf, func(lo, hi int) { raster.Store(buf, lo, hi) })
		return raster, err
	}

	layers := make([][]float64, 2*n+1)
	err := s.pool.Each(ctx, len(layers), func(ctx context.Context, i int) error {
		layers[i] = make([]float64, count)
		return s.layer(ctx, a, float64(i-n), layers[i], nil)
	})
	if err != nil {
		return nil, err
	}

	out := make([]float64, count)
	proj := s.projection
	err = s.pool.For(ctx, count, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = composite(proj, layers, i)
		}
		raster.Store(out, lo, hi)
	})
	return raster, err
}

// layer samples the plane shifted by k along its normal into dst. done, if
// set, is called for every finished pixel range.
func (s *State) layer(ctx context.Context, a *Axis, k float64, dst []float64, done func(lo, hi int)) error {
	sampler := s.vol.Sampler()
	ratio := s.vol.VoxelRatio()
	t := a.transform
	o := r3.Add(t.Offset(), r3.Scale(k, t.Column(2)))
	du, dv := t.Column(0), t.Column(1)
	w := a.width

	return s.pool.For(ctx, len(dst), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			x, y := float64(i%w), float64(i/w)
			p := r3.Add(o, r3.Add(r3.Scale(x, du), r3.Scale(y, dv)))
			idx := geometry.Div(p, ratio)
			if v, ok := sampler(idx.X, idx.Y, idx.Z); ok {
				dst[i] = v
			} else {
				dst[i] = math.NaN()
			}
		}
		if done != nil {
			done(lo, hi)
		}
	})
}

// composite folds pixel i of every layer with proj. Absent samples count
// as 0 unless every layer is absent. MEAN accumulates in float64.
func composite(proj models.Projection, layers [][]float64, i int) float64 {
	present := false
	for _, l := range layers {
		if !math.IsNaN(l[i]) {
			present = true
			break
		}
	}
	if !present {
		return math.NaN()
	}

	acc := 0.0
	for j, l := range layers {
		v := l[i]
		if math.IsNaN(v) {
			v = 0
		}
		switch proj {
		case models.ProjectionMin:
			if j == 0 || v < acc {
				acc = v
			}
		case models.ProjectionMax:
			if j == 0 || v > acc {
				acc = v
			}
		default:
			acc += v
		}
	}
	if proj == models.ProjectionMean {
		return acc / float64(len(layers))
	}
	return acc
}

// geometry derives the patient-space placement of a's raster.
func (s *State) geometry(a *Axis, n int) SliceGeometry {
	vol := s.vol
	ratio := vol.VoxelRatio()
	t := a.transform

	row := unit(vol.PatientDirection(geometry.Div(t.Column(0), ratio)))
	col := unit(vol.PatientDirection(geometry.Div(t.Column(1), ratio)))
	normal := unit(r3.Cross(row, col))
	origin := vol.PatientPosition(geometry.Div(t.Offset(), ratio))
	spacing := vol.MinPixelRatio()

	return SliceGeometry{
		Row:       row,
		Column:    col,
		Normal:    normal,
		Origin:    origin,
		Spacing:   models.PixelSpacing{Row: spacing, Column: spacing},
		Thickness: float64(2*n+1) * spacing,
		Instance:  s.SliceIndex(a.plane) + 1,
		Location:  r3.Dot(origin, normal),
	}
}

func unit(v r3.Vec) r3.Vec {
	if r3.Norm(v) == 0 {
		return v
	}
	return r3.Unit(v)
}
