package seriesio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
)

// StandardOrientation returns the row and column directions of a slice
// acquired in plane, as a scanner lays them out: axial slices look up from
// the feet, coronal from the front and sagittal from the patient's left.
func StandardOrientation(plane models.Plane) (row, col r3.Vec) {
	switch plane {
	case models.Coronal:
		return r3.Vec{X: 1}, r3.Vec{Z: -1}
	case models.Sagittal:
		return r3.Vec{Y: 1}, r3.Vec{Z: -1}
	}
	return r3.Vec{X: 1}, r3.Vec{Y: 1}
}

// PhantomOptions describe a synthetic series.
type PhantomOptions struct {
	Plane  models.Plane
	Width  int
	Height int
	Count  int
	Type   models.ElementType

	Spacing      models.PixelSpacing
	SliceSpacing float64
}

// Phantom returns a series holding a centred ellipsoid whose intensity falls
// off quadratically from the centre. It stands in for a scan when no input
// directory is given.
func Phantom(opts PhantomOptions) ([]models.Slice, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.Count < 2 {
		return nil, fmt.Errorf("invalid phantom size %dx%dx%d", opts.Width, opts.Height, opts.Count)
	}
	if !opts.Plane.Valid() {
		return nil, fmt.Errorf("invalid phantom plane %d", int(opts.Plane))
	}
	if opts.Spacing.Row <= 0 || opts.Spacing.Column <= 0 {
		opts.Spacing = models.PixelSpacing{Row: 1, Column: 1}
	}
	if opts.SliceSpacing <= 0 {
		opts.SliceSpacing = 1
	}

	_, hi := opts.Type.Range()
	peak := math.Min(hi, 1000)
	row, col := StandardOrientation(opts.Plane)
	normal := r3.Cross(row, col)

	dims := [3]float64{float64(opts.Width), float64(opts.Height), float64(opts.Count)}
	var center, radius [3]float64
	for i, d := range dims {
		center[i] = (d - 1) / 2
		radius[i] = 0.4 * d
	}

	slices := make([]models.Slice, opts.Count)
	values := make([]float64, opts.Width*opts.Height)
	for k := range slices {
		for y := 0; y < opts.Height; y++ {
			for x := 0; x < opts.Width; x++ {
				r2 := 0.0
				for i, c := range [3]float64{float64(x), float64(y), float64(k)} {
					d := (c - center[i]) / radius[i]
					r2 += d * d
				}
				values[y*opts.Width+x] = math.Max(0, peak*(1-r2))
			}
		}
		raster := models.NewRaster(opts.Width, opts.Height, opts.Type)
		raster.Store(values, 0, len(values))

		slices[k] = models.Slice{
			Width:    opts.Width,
			Height:   opts.Height,
			Type:     raster.Type,
			Spacing:  opts.Spacing,
			Row:      row,
			Column:   col,
			Origin:   r3.Scale(float64(k)*opts.SliceSpacing, normal),
			Pixels:   raster.Pix,
			Index:    k,
			Filename: fmt.Sprintf("phantom_%03d", k),
		}
	}
	return slices, nil
}
