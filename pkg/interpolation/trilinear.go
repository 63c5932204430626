// Package interpolation samples a dense voxel grid at fractional coordinates.
package interpolation

import (
	"math"

	"obliquempr/internal/models"
)

// Grid is a dense x-fastest voxel grid. Data must hold SizeX*SizeY*SizeZ
// samples.
type Grid[T models.Number] struct {
	Data  []T
	SizeX int
	SizeY int
	SizeZ int
}

// NewGrid wraps data as a grid of the given size.
func NewGrid[T models.Number](data []T, sx, sy, sz int) Grid[T] {
	return Grid[T]{Data: data, SizeX: sx, SizeY: sy, SizeZ: sz}
}

// Contains reports whether (x, y, z) is a voxel of the grid.
func (g *Grid[T]) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < g.SizeX && y < g.SizeY && z < g.SizeZ
}

// Index returns the linear offset of voxel (x, y, z).
func (g *Grid[T]) Index(x, y, z int) int {
	return (z*g.SizeY+y)*g.SizeX + x
}

// Value returns the voxel at (x, y, z). Voxels outside the grid are absent.
func (g *Grid[T]) Value(x, y, z int) (T, bool) {
	if !g.Contains(x, y, z) {
		return 0, false
	}
	return g.Data[g.Index(x, y, z)], true
}

// Set stores v at (x, y, z); writes outside the grid are dropped.
func (g *Grid[T]) Set(x, y, z int, v T) {
	if g.Contains(x, y, z) {
		g.Data[g.Index(x, y, z)] = v
	}
}

// Trilinear blends the 8 voxels around (x, y, z). Corners outside the grid
// contribute nothing and the remaining weights are not renormalised. The
// sample is absent when no in-bounds corner carries a positive weight.
// At integer coordinates only the exact voxel is read, so stored values are
// returned unchanged.
func Trilinear[T models.Number](g *Grid[T], x, y, z float64) (float64, bool) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) {
		return 0, false
	}
	fx, fy, fz := math.Floor(x), math.Floor(y), math.Floor(z)
	// Far outside: avoid int overflow below.
	if fx < -1 || fy < -1 || fz < -1 ||
		fx >= float64(g.SizeX) || fy >= float64(g.SizeY) || fz >= float64(g.SizeZ) {
		return 0, false
	}
	x0, y0, z0 := int(fx), int(fy), int(fz)
	dx, dy, dz := x-fx, y-fy, z-fz
	wx := [2]float64{1 - dx, dx}
	wy := [2]float64{1 - dy, dy}
	wz := [2]float64{1 - dz, dz}

	sum := 0.0
	found := false
	for k := 0; k < 2; k++ {
		if wz[k] == 0 {
			continue
		}
		zi := z0 + k
		if zi < 0 || zi >= g.SizeZ {
			continue
		}
		for j := 0; j < 2; j++ {
			if wy[j] == 0 {
				continue
			}
			yi := y0 + j
			if yi < 0 || yi >= g.SizeY {
				continue
			}
			row := (zi*g.SizeY + yi) * g.SizeX
			for i := 0; i < 2; i++ {
				if wx[i] == 0 {
					continue
				}
				xi := x0 + i
				if xi < 0 || xi >= g.SizeX {
					continue
				}
				sum += float64(g.Data[row+xi]) * wx[i] * wy[j] * wz[k]
				found = true
			}
		}
	}
	return sum, found
}

// Nearest returns the voxel closest to (x, y, z).
func Nearest[T models.Number](g *Grid[T], x, y, z float64) (float64, bool) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) {
		return 0, false
	}
	v, ok := g.Value(int(math.Round(x)), int(math.Round(y)), int(math.Round(z)))
	return float64(v), ok
}
