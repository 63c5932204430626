package models

import "math"

// Raster is a 2D row-major scalar image of a fixed element type.
type Raster struct {
	Width  int
	Height int
	Type   ElementType

	// Pix is a []T matching Type with Width*Height samples
	Pix any
}

// NewRaster allocates a zeroed raster.
func NewRaster(width, height int, typ ElementType) *Raster {
	n := width * height
	r := &Raster{Width: width, Height: height, Type: typ}
	switch typ {
	case Uint8:
		r.Pix = make([]uint8, n)
	case Int8:
		r.Pix = make([]int8, n)
	case Uint16:
		r.Pix = make([]uint16, n)
	case Int16:
		r.Pix = make([]int16, n)
	case Uint32:
		r.Pix = make([]uint32, n)
	case Int32:
		r.Pix = make([]int32, n)
	case Float32:
		r.Pix = make([]float32, n)
	default:
		r.Type = Float64
		r.Pix = make([]float64, n)
	}
	return r
}

// At returns the sample at (x, y) as float64. Coordinates outside the raster
// read as 0.
func (r *Raster) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return 0
	}
	i := y*r.Width + x
	switch p := r.Pix.(type) {
	case []uint8:
		return float64(p[i])
	case []int8:
		return float64(p[i])
	case []uint16:
		return float64(p[i])
	case []int16:
		return float64(p[i])
	case []uint32:
		return float64(p[i])
	case []int32:
		return float64(p[i])
	case []float32:
		return float64(p[i])
	case []float64:
		return p[i]
	}
	return 0
}

// Floats returns a float64 copy of the samples.
func (r *Raster) Floats() []float64 {
	out := make([]float64, r.Width*r.Height)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			out[y*r.Width+x] = r.At(x, y)
		}
	}
	return out
}

// Store narrows src[lo:hi] into the raster samples [lo:hi]. NaN marks an
// absent sample and is stored as 0; integers are rounded and clamped.
func (r *Raster) Store(src []float64, lo, hi int) {
	switch p := r.Pix.(type) {
	case []uint8:
		narrow(p, src, lo, hi, Uint8)
	case []int8:
		narrow(p, src, lo, hi, Int8)
	case []uint16:
		narrow(p, src, lo, hi, Uint16)
	case []int16:
		narrow(p, src, lo, hi, Int16)
	case []uint32:
		narrow(p, src, lo, hi, Uint32)
	case []int32:
		narrow(p, src, lo, hi, Int32)
	case []float32:
		narrow(p, src, lo, hi, Float32)
	case []float64:
		narrow(p, src, lo, hi, Float64)
	}
}

func narrow[T Number](dst []T, src []float64, lo, hi int, typ ElementType) {
	min, max := typ.Range()
	integer := !typ.IsFloat()
	for i := lo; i < hi; i++ {
		dst[i] = Narrow[T](src[i], min, max, integer)
	}
}

// Narrow converts v to T, mapping NaN to 0.
func Narrow[T Number](v, min, max float64, integer bool) T {
	if math.IsNaN(v) {
		return 0
	}
	if integer {
		v = math.Round(v)
	}
	if v < min {
		v = min
	} else if v > max {
		v = max
	}
	return T(v)
}
