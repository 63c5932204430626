package interpolation

import (
	"math"
	"testing"

	"obliquempr/internal/models"
)

func patterned[T models.Number](sx, sy, sz int, value func(x, y, z int) T) Grid[T] {
	data := make([]T, sx*sy*sz)
	g := NewGrid(data, sx, sy, sz)
	for z := 0; z < sz; z++ {
		for y := 0; y < sy; y++ {
			for x := 0; x < sx; x++ {
				g.Set(x, y, z, value(x, y, z))
			}
		}
	}
	return g
}

func checkExact[T models.Number](t *testing.T, value func(x, y, z int) T) {
	t.Helper()
	g := patterned(3, 4, 5, value)
	for z := 0; z < 5; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 3; x++ {
				got, ok := Trilinear(&g, float64(x), float64(y), float64(z))
				if !ok {
					t.Fatalf("Voxel (%d,%d,%d) reported absent", x, y, z)
				}
				if want := float64(value(x, y, z)); got != want {
					t.Fatalf("Voxel (%d,%d,%d): expected %v, got %v", x, y, z, want, got)
				}
			}
		}
	}
}

// TestTrilinearExactAtVoxels verifies that stored values come back unchanged
// for every element type
func TestTrilinearExactAtVoxels(t *testing.T) {
	t.Run("uint8", func(t *testing.T) {
		checkExact(t, func(x, y, z int) uint8 { return uint8(x + 3*y + 12*z) })
	})
	t.Run("int8", func(t *testing.T) {
		checkExact(t, func(x, y, z int) int8 { return int8(x - 3*y - 12*z) })
	})
	t.Run("uint16", func(t *testing.T) {
		checkExact(t, func(x, y, z int) uint16 { return uint16(65535 - x*y*z) })
	})
	t.Run("int16", func(t *testing.T) {
		checkExact(t, func(x, y, z int) int16 { return int16(-32768 + 1000*z + x) })
	})
	t.Run("uint32", func(t *testing.T) {
		checkExact(t, func(x, y, z int) uint32 { return math.MaxUint32 - uint32(x+y+z) })
	})
	t.Run("int32", func(t *testing.T) {
		checkExact(t, func(x, y, z int) int32 { return math.MinInt32 + int32(x*7+y*5+z) })
	})
	t.Run("float32", func(t *testing.T) {
		checkExact(t, func(x, y, z int) float32 { return float32(x)*0.1 - float32(z)*1e6 + float32(y)/3 })
	})
	t.Run("float64", func(t *testing.T) {
		checkExact(t, func(x, y, z int) float64 { return math.Sqrt(float64(x+1)) * math.Pi * float64(y-z) })
	})
}

// TestTrilinearMonotonic verifies that interpolation stays between its
// neighbours and follows a monotonic field
func TestTrilinearMonotonic(t *testing.T) {
	g := patterned(4, 4, 4, func(x, y, z int) uint16 { return uint16(10 * z * z) })

	prev := -1.0
	for z := 0.0; z <= 3; z += 0.125 {
		got, ok := Trilinear(&g, 1.5, 2.25, z)
		if !ok {
			t.Fatalf("z=%v reported absent", z)
		}
		lo, hi := 10*math.Floor(z)*math.Floor(z), 10*math.Ceil(z)*math.Ceil(z)
		if got < lo || got > hi {
			t.Errorf("z=%v: expected value in [%v, %v], got %v", z, lo, hi, got)
		}
		if got < prev {
			t.Errorf("z=%v: value %v decreased from %v", z, got, prev)
		}
		prev = got
	}
}

// TestTrilinearMidpoint verifies the average of a linear field
func TestTrilinearMidpoint(t *testing.T) {
	g := patterned(2, 2, 2, func(x, y, z int) float64 { return float64(x + 2*y + 4*z) })

	got, ok := Trilinear(&g, 0.5, 0.5, 0.5)
	if !ok {
		t.Fatal("Midpoint reported absent")
	}
	if math.Abs(got-3.5) > 1e-12 {
		t.Errorf("Expected 3.5, got %v", got)
	}
}

// TestTrilinearOutOfBounds verifies that absent corners contribute zero
func TestTrilinearOutOfBounds(t *testing.T) {
	g := patterned(3, 3, 3, func(x, y, z int) int16 { return 100 })

	testCases := []struct {
		name     string
		x, y, z  float64
		expected float64
		ok       bool
	}{
		{"inside", 1, 1, 1, 100, true},
		{"half past edge", 2.5, 1, 1, 50, true},
		{"half before edge", -0.5, 1, 1, 50, true},
		{"corner", -0.5, -0.5, -0.5, 12.5, true},
		{"one past", 3, 1, 1, 0, false},
		{"far away", 1e18, -1e18, 0, 0, false},
		{"nan", math.NaN(), 0, 0, 0, false},
	}

	for _, tc := range testCases {
		got, ok := Trilinear(&g, tc.x, tc.y, tc.z)
		if ok != tc.ok {
			t.Errorf("%s: expected ok=%v, got %v", tc.name, tc.ok, ok)
		}
		if math.IsNaN(got) || math.Abs(got-tc.expected) > 1e-12 {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

// TestNearest verifies rounding to the closest voxel
func TestNearest(t *testing.T) {
	g := patterned(3, 1, 1, func(x, y, z int) uint8 { return uint8(x * 10) })

	got, ok := Nearest(&g, 1.4, 0.2, -0.3)
	if !ok || got != 10 {
		t.Errorf("Expected 10, got %v (ok=%v)", got, ok)
	}
	if _, ok := Nearest(&g, 3.6, 0, 0); ok {
		t.Error("Expected absent sample past the edge")
	}
}

// TestGridValue verifies bounds-checked voxel access
func TestGridValue(t *testing.T) {
	g := patterned(2, 2, 2, func(x, y, z int) int32 { return int32(x + 2*y + 4*z) })

	if v, ok := g.Value(1, 1, 1); !ok || v != 7 {
		t.Errorf("Expected 7, got %v (ok=%v)", v, ok)
	}
	if _, ok := g.Value(2, 0, 0); ok {
		t.Error("Expected x=2 to be out of bounds")
	}
	if _, ok := g.Value(0, -1, 0); ok {
		t.Error("Expected y=-1 to be out of bounds")
	}
}
