package reconstruction

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
	"obliquempr/pkg/config"
	"obliquempr/pkg/mpr"
	"obliquempr/pkg/seriesio"
)

// testPhantom returns a small synthetic series
func testPhantom(plane models.Plane) seriesio.PhantomOptions {
	return seriesio.PhantomOptions{
		Plane: plane, Width: 16, Height: 12, Count: 6, Type: models.Uint16,
		Spacing:      models.PixelSpacing{Row: 1, Column: 1},
		SliceSpacing: 2,
	}
}

// TestNewReconstructor verifies that a new reconstructor is correctly initialized
func TestNewReconstructor(t *testing.T) {
	params := &Params{InputDir: "/path/to/input"}

	reconstructor := NewReconstructor(params)

	if reconstructor.params != params {
		t.Errorf("Reconstructor should use the provided params")
	}
	if reconstructor.cfg == nil {
		t.Errorf("Reconstructor should fall back to the default config")
	}
	if len(reconstructor.slices) != 0 {
		t.Errorf("New reconstructor should have empty slices")
	}
	if reconstructor.State() != nil || reconstructor.Volume() != nil {
		t.Errorf("New reconstructor should have no volume")
	}
	if err := reconstructor.Export(); !errors.Is(err, ErrNotProcessed) {
		t.Errorf("Expected ErrNotProcessed, got %v", err)
	}
}

// TestProcessPhantom runs the pipeline on a synthetic series
func TestProcessPhantom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MPR.Projection = "mean"
	cfg.MPR.Thickness = 1

	reconstructor := NewReconstructor(&Params{Phantom: testPhantom(models.Axial), Config: cfg})
	defer reconstructor.Close()

	if err := reconstructor.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if reconstructor.SourcePlane() != models.Axial {
		t.Errorf("Expected axial source, got %s", reconstructor.SourcePlane())
	}
	if n := reconstructor.Stack().Count(); n != 6 {
		t.Errorf("Expected 6 stacked slices, got %d", n)
	}
	if reconstructor.Stack().Spacing != 2 {
		t.Errorf("Expected spacing 2, got %f", reconstructor.Stack().Spacing)
	}

	state := reconstructor.State()
	if state.Adjusting() {
		t.Errorf("State should not be adjusting after Process")
	}
	if state.Projection() != models.ProjectionMean {
		t.Errorf("Expected mean projection, got %s", state.Projection())
	}
	im, err := state.Image(models.Axial)
	if err != nil {
		t.Fatalf("Failed to sample axial plane: %v", err)
	}
	if im.Extension != 1 {
		t.Errorf("Expected slab extension 1, got %d", im.Extension)
	}

	// The source plane reproduces the source slices exactly
	metrics := reconstructor.GetMetrics()
	if metrics.Slices != 6 {
		t.Errorf("Expected 6 compared slices, got %d", metrics.Slices)
	}
	if metrics.Pixels == 0 {
		t.Errorf("Expected compared pixels")
	}
	if metrics.RMSE > 1e-9 {
		t.Errorf("Expected zero RMSE, got %g", metrics.RMSE)
	}
	if math.Abs(metrics.SSIM-1) > 1e-9 {
		t.Errorf("Expected SSIM 1, got %g", metrics.SSIM)
	}
	if metrics.EntropyDiff > 1e-9 {
		t.Errorf("Expected no entropy difference, got %g", metrics.EntropyDiff)
	}
	if metrics.Accuracy < 99.999 {
		t.Errorf("Expected 100%% accuracy, got %f", metrics.Accuracy)
	}

	// Metrics leave the state where a fresh one starts, also at the
	// fractional centre of an even slice count
	fresh, err := mpr.NewState(reconstructor.Volume(), mpr.Options{})
	if err != nil {
		t.Fatalf("Failed to create reference state: %v", err)
	}
	if d := r3.Norm(r3.Sub(state.CenterIndex(), fresh.CenterIndex())); d > 1e-9 {
		t.Errorf("Crosshair moved by %g: expected %v, got %v", d, fresh.CenterIndex(), state.CenterIndex())
	}
	for _, p := range models.Planes {
		if got, want := state.Axis(p).Offset(), fresh.Axis(p).Offset(); math.Abs(got-want) > 1e-9 {
			t.Errorf("%s offset: expected %g, got %g", p, want, got)
		}
	}

	if err := reconstructor.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if reconstructor.Volume() != nil {
		t.Errorf("Volume should be released after Close")
	}
	if err := reconstructor.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

// TestProcessFromDirectory runs the complete pipeline from a series on disk
// through the slice export
func TestProcessFromDirectory(t *testing.T) {
	// Skip this test for regular unit testing, as it writes many files
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()
	inputDir := filepath.Join(tmpDir, "input")
	outputDir := filepath.Join(tmpDir, "output")

	opts := testPhantom(models.Coronal)
	opts.SliceSpacing = 1
	slices, err := seriesio.Phantom(opts)
	if err != nil {
		t.Fatalf("Failed to create phantom: %v", err)
	}
	if err := seriesio.WriteSeries(inputDir, slices, models.Coronal); err != nil {
		t.Fatalf("Failed to write series: %v", err)
	}

	reconstructor := NewReconstructor(&Params{
		InputDir:     inputDir,
		OutputDir:    outputDir,
		ExportPlanes: []models.Plane{models.Axial},
	})
	defer reconstructor.Close()

	if err := reconstructor.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if reconstructor.SourcePlane() != models.Coronal {
		t.Errorf("Expected coronal source, got %s", reconstructor.SourcePlane())
	}
	if len(reconstructor.Slices()) != opts.Count {
		t.Errorf("Expected %d slices, got %d", opts.Count, len(reconstructor.Slices()))
	}

	metrics := reconstructor.GetMetrics()
	if metrics.Slices != opts.Count {
		t.Errorf("Expected %d compared slices, got %d", opts.Count, metrics.Slices)
	}
	if metrics.RMSE > 1e-9 {
		t.Errorf("Expected zero RMSE, got %g", metrics.RMSE)
	}

	if err := reconstructor.Export(); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	pngs, _ := filepath.Glob(filepath.Join(outputDir, "axial", "slice_axial_*.png"))
	want := reconstructor.State().SliceCount(models.Axial)
	if len(pngs) != want {
		t.Errorf("Expected %d exported slices, got %d", want, len(pngs))
	}
	if _, err := os.Stat(filepath.Join(outputDir, "axial", "slice_axial_000.yaml")); err != nil {
		t.Errorf("Expected geometry file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "coronal")); !os.IsNotExist(err) {
		t.Errorf("Coronal slices should not be exported")
	}
}

// TestProcessErrors verifies that pipeline failures are reported
func TestProcessErrors(t *testing.T) {
	reconstructor := NewReconstructor(&Params{InputDir: t.TempDir()})
	if err := reconstructor.Process(context.Background()); !errors.Is(err, seriesio.ErrNoSlices) {
		t.Errorf("Expected ErrNoSlices, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reconstructor = NewReconstructor(&Params{Phantom: testPhantom(models.Axial)})
	defer reconstructor.Close()
	if err := reconstructor.Process(ctx); err == nil {
		t.Errorf("Expected an error for a canceled context")
	}
}

// TestMetricFunctions verifies the comparison metrics on known inputs
func TestMetricFunctions(t *testing.T) {
	same := []float64{0, 0.25, 0.5, 1}

	if got := calculateRMSE(same, same); got != 0 {
		t.Errorf("RMSE of identical data: expected 0, got %f", got)
	}
	if got := calculateRMSE([]float64{0, 1}, []float64{0, 0}); math.Abs(got-math.Sqrt(0.5)) > 1e-12 {
		t.Errorf("RMSE: expected %f, got %f", math.Sqrt(0.5), got)
	}
	if got := calculateSSIM(same, same); math.Abs(got-1) > 1e-12 {
		t.Errorf("SSIM of identical data: expected 1, got %f", got)
	}
	if got := calculateEntropy([]float64{0, 0, 1, 1}); math.Abs(got-1) > 1e-12 {
		t.Errorf("Entropy of two equal bins: expected 1, got %f", got)
	}
	if got := calculateMutualInformation(same, same); math.Abs(got-calculateEntropy(same)) > 1e-12 {
		t.Errorf("MI of identical data should equal its entropy, got %f", got)
	}
	if got := calculateEntropyDifference([]float64{0, 1}, []float64{0, 0}); math.Abs(got-1) > 1e-12 {
		t.Errorf("Entropy difference: expected 1, got %f", got)
	}

	// Mismatched lengths yield zero
	if calculateRMSE(same, same[:2]) != 0 || calculateSSIM(same, nil) != 0 {
		t.Errorf("Mismatched inputs should yield zero")
	}
}
