package visualization

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"obliquempr/internal/models"
	"obliquempr/pkg/mpr"
	"obliquempr/pkg/stack"
	"obliquempr/pkg/volume"
)

// createTestState builds an MPR state over 4 axial slices of 6x5 pixels
// where every pixel of slice k holds 10*k.
func createTestState(t *testing.T) *mpr.State {
	t.Helper()

	width, height, depth := 6, 5, 4
	slices := make([]models.Slice, depth)
	for k := range slices {
		buf := make([]uint8, width*height)
		for i := range buf {
			buf[i] = uint8(10 * k)
		}
		slices[k] = models.Slice{
			Width: width, Height: height, Type: models.Uint8,
			Spacing: models.PixelSpacing{Row: 1, Column: 1},
			Row:     r3.Vec{X: 1}, Column: r3.Vec{Y: 1},
			Origin: r3.Vec{Z: float64(k)},
			Pixels: buf, Index: k,
		}
	}

	st, err := stack.Build(slices, models.Axial, stack.Options{})
	if err != nil {
		t.Fatalf("Failed to build stack: %v", err)
	}
	vol, err := volume.Build(context.Background(), st, volume.Options{})
	if err != nil {
		t.Fatalf("Failed to build volume: %v", err)
	}
	t.Cleanup(func() { vol.Close() })

	state, err := mpr.NewState(vol, mpr.Options{})
	if err != nil {
		t.Fatalf("Failed to create MPR state: %v", err)
	}
	return state
}

func gray16At(img image.Image, x, y int) uint16 {
	r, _, _, _ := img.At(x, y).RGBA()
	return uint16(r)
}

// TestNewViewer verifies that the window defaults to the volume range
func TestNewViewer(t *testing.T) {
	viewer := NewViewer(createTestState(t))

	low, high := viewer.Window()
	if low != 0 || high != 30 {
		t.Errorf("Expected window [0, 30], got [%g, %g]", low, high)
	}

	if err := viewer.SetWindow(10, 5); err == nil {
		t.Error("Expected error for inverted window")
	}
	if err := viewer.SetWindow(math.NaN(), 5); err == nil {
		t.Error("Expected error for NaN window")
	}
	if err := viewer.SetWindow(-10, 50); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

// TestToGray16 verifies the window mapping
func TestToGray16(t *testing.T) {
	raster := models.NewRaster(4, 1, models.Float64)
	copy(raster.Pix.([]float64), []float64{-5, 15, 40, math.NaN()})

	img := ToGray16(raster, 0, 30)
	expected := []uint16{0, 32768, 65535, 0}
	for x, want := range expected {
		if got := img.Gray16At(x, 0).Y; got != want {
			t.Errorf("Pixel %d: expected %d, got %d", x, want, got)
		}
	}
}

// TestExtractSlice verifies that slices are extracted at the requested position
func TestExtractSlice(t *testing.T) {
	state := createTestState(t)
	viewer := NewViewer(state)

	for pos := 0; pos < 4; pos++ {
		im, img, err := viewer.ExtractSlice("z", pos)
		if err != nil {
			t.Fatalf("Failed to extract slice %d: %v", pos, err)
		}

		if img.Bounds().Dx() != 6 || img.Bounds().Dy() != 5 {
			t.Errorf("Expected 6x5 image, got %v", img.Bounds())
		}
		if state.SliceIndex(models.Axial) != pos {
			t.Errorf("Expected axial index %d, got %d", pos, state.SliceIndex(models.Axial))
		}
		if im.Geometry.Instance != pos+1 {
			t.Errorf("Expected instance %d, got %d", pos+1, im.Geometry.Instance)
		}

		want := uint16(math.Round(float64(10*pos) * 65535 / 30))
		if got := img.Gray16At(3, 2).Y; got != want {
			t.Errorf("Slice %d: expected value %d, got %d", pos, want, got)
		}
	}

	// Test invalid axis
	if _, _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}

	// Test out-of-bounds position
	if _, _, err := viewer.ExtractSlice("axial", 4); err == nil {
		t.Error("Expected error for out-of-bounds position")
	}
	if _, _, err := viewer.ExtractSlice("axial", -1); err == nil {
		t.Error("Expected error for negative position")
	}
}

// TestSaveSlice verifies both output formats
func TestSaveSlice(t *testing.T) {
	viewer := NewViewer(createTestState(t))
	_, img, err := viewer.Render(models.Axial)
	if err != nil {
		t.Fatalf("Failed to render: %v", err)
	}

	tempDir := t.TempDir()
	for _, name := range []string{"slice.png", "slice.jpg"} {
		filename := filepath.Join(tempDir, name)
		if err := viewer.SaveSlice(img, filename); err != nil {
			t.Fatalf("Failed to save %s: %v", name, err)
		}

		file, err := os.Open(filename)
		if err != nil {
			t.Fatalf("Failed to open %s: %v", name, err)
		}
		cfg, format, err := image.DecodeConfig(file)
		file.Close()
		if err != nil {
			t.Fatalf("Failed to decode %s: %v", name, err)
		}
		if cfg.Width != 6 || cfg.Height != 5 {
			t.Errorf("%s: expected 6x5, got %dx%d", name, cfg.Width, cfg.Height)
		}
		if want := filepath.Ext(name)[1:]; format != want && !(want == "jpg" && format == "jpeg") {
			t.Errorf("%s: unexpected format %s", name, format)
		}
	}
}

// TestSaveSliceSequence verifies that every slice is written with its geometry
func TestSaveSliceSequence(t *testing.T) {
	state := createTestState(t)
	viewer := NewViewer(state)
	state.Apply(mpr.SetSliceIndex{Plane: models.Axial, Index: 1})

	tempDir := t.TempDir()
	if err := viewer.SaveSliceSequence("axial", tempDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for pos := 0; pos < 4; pos++ {
		filename := filepath.Join(tempDir, fmt.Sprintf("slice_axial_%03d.png", pos))
		file, err := os.Open(filename)
		if err != nil {
			t.Fatalf("Expected file %s: %v", filename, err)
		}
		img, err := png.Decode(file)
		file.Close()
		if err != nil {
			t.Fatalf("Failed to decode %s: %v", filename, err)
		}

		want := uint16(math.Round(float64(10*pos) * 65535 / 30))
		if got := gray16At(img, 3, 2); got != want {
			t.Errorf("Slice %d: expected value %d, got %d", pos, want, got)
		}

		data, err := os.ReadFile(filepath.Join(tempDir, fmt.Sprintf("slice_axial_%03d.yaml", pos)))
		if err != nil {
			t.Fatalf("Expected geometry file: %v", err)
		}
		var meta sidecar
		if err := yaml.Unmarshal(data, &meta); err != nil {
			t.Fatalf("Failed to parse geometry: %v", err)
		}
		if meta.Plane != "axial" || meta.Geometry.Instance != pos+1 {
			t.Errorf("Slice %d: unexpected geometry %+v", pos, meta)
		}
	}

	if got := state.SliceIndex(models.Axial); got != 1 {
		t.Errorf("Expected axial index restored to 1, got %d", got)
	}

	if err := viewer.SaveSliceSequence("q", tempDir); err == nil {
		t.Error("Expected error for invalid axis")
	}
}

// TestSaveSliceSequenceJPEG verifies the configured output format
func TestSaveSliceSequenceJPEG(t *testing.T) {
	viewer := NewViewer(createTestState(t))
	if err := viewer.SetFormat("tiff"); err == nil {
		t.Error("Expected error for unsupported format")
	}
	if err := viewer.SetFormat("JPEG"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	tempDir := t.TempDir()
	if err := viewer.SaveSliceSequence("sagittal", tempDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(tempDir, "slice_sagittal_*.jpg"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(matches) != 6 {
		t.Errorf("Expected 6 sagittal slices, got %d", len(matches))
	}
}
