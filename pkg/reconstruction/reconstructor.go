package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
	"obliquempr/pkg/config"
	"obliquempr/pkg/mpr"
	"obliquempr/pkg/seriesio"
	"obliquempr/pkg/stack"
	"obliquempr/pkg/visualization"
	"obliquempr/pkg/volume"
)

// ErrNotProcessed is returned by operations that need a built volume.
var ErrNotProcessed = errors.New("reconstruction has not been processed")

// Params holds the pipeline parameters.
type Params struct {
	// InputDir is the directory containing the slice series. When empty a
	// synthetic phantom described by Phantom is used instead.
	InputDir string

	// OutputDir receives exported slice sequences, one subdirectory per plane.
	OutputDir string

	// ExportPlanes are the planes Export writes; empty means all three.
	ExportPlanes []models.Plane

	// Phantom describes the synthetic series used without InputDir
	Phantom seriesio.PhantomOptions

	// Config carries the processing, volume and MPR settings; nil means
	// config.DefaultConfig().
	Config *config.Config

	Logger *slog.Logger
}

// DefaultPhantom is the synthetic series used when no input is given.
func DefaultPhantom() seriesio.PhantomOptions {
	return seriesio.PhantomOptions{
		Plane: models.Axial, Width: 64, Height: 64, Count: 32, Type: models.Uint16,
		Spacing:      models.PixelSpacing{Row: 1, Column: 1},
		SliceSpacing: 2,
	}
}

// Reconstructor runs the pipeline from a slice series to an interactive MPR
// state:
// 1. Loading the input slices
// 2. Ordering them into a stack and measuring their spacing
// 3. Building the volume
// 4. Creating the MPR state
// 5. Checking the reformatted source plane against the source slices
type Reconstructor struct {
	// params stores the pipeline configuration
	params *Params
	cfg    *config.Config
	logger *slog.Logger

	// slices holds the source slices in series order
	slices []models.Slice
	plane  models.Plane

	stack *stack.Stack
	vol   *volume.Volume
	state *mpr.State

	// metrics stores the source-plane check after Process
	metrics ValidationMetrics
}

// NewReconstructor creates a new reconstructor instance with the provided parameters.
func NewReconstructor(params *Params) *Reconstructor {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{
		params: params,
		cfg:    cfg,
		logger: logger,
		slices: make([]models.Slice, 0),
	}
}

// Process runs the complete pipeline. A previously built volume is closed
// first.
func (r *Reconstructor) Process(ctx context.Context) error {
	if err := r.Close(); err != nil {
		return err
	}

	// Step 1: Load input slices
	r.logger.Info("Step 1: Loading input slices", "dir", r.params.InputDir)
	if err := r.loadSlices(); err != nil {
		return fmt.Errorf("failed to load slices: %w", err)
	}

	// Step 2: Order the slices along their normal
	r.logger.Info("Step 2: Ordering slice stack", "slices", len(r.slices), "plane", r.plane)
	st, err := stack.Build(r.slices, r.plane, stack.Options{
		FallbackSpacing: r.cfg.Volume.DefaultSliceSpacing,
		Logger:          r.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to order slices: %w", err)
	}
	r.stack = st

	// Step 3: Build the volume
	r.logger.Info("Step 3: Building volume", "spacing", st.Spacing, "irregular", st.Irregular)
	vol, err := volume.Build(ctx, st, volume.Options{
		Workers:          r.cfg.Processing.NumCores,
		Threshold:        r.cfg.Processing.ParallelThreshold,
		ScratchDir:       r.cfg.Volume.ScratchDir,
		MaxInMemoryBytes: r.cfg.Volume.MaxInMemoryBytes,
		Logger:           r.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build volume: %w", err)
	}
	r.vol = vol

	// Step 4: Create the MPR state
	r.logger.Info("Step 4: Creating MPR state", "projection", r.cfg.ProjectionType(), "thickness", r.cfg.MPR.Thickness)
	state, err := mpr.NewState(vol, mpr.Options{
		Projection:   r.cfg.ProjectionType(),
		Extension:    r.cfg.MPR.Thickness,
		FullDiagonal: r.cfg.MPR.FullDiagonal,
		Workers:      r.cfg.Processing.NumCores,
		Threshold:    r.cfg.Processing.ParallelThreshold,
		Logger:       r.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MPR state: %w", err)
	}
	r.state = state

	// Step 5: Check the source plane against the source slices
	r.logger.Info("Step 5: Calculating validation metrics")
	if err := r.calculateValidationMetrics(ctx); err != nil {
		return fmt.Errorf("failed to calculate metrics: %w", err)
	}

	return nil
}

// loadSlices reads the series in InputDir or generates the phantom.
func (r *Reconstructor) loadSlices() error {
	if r.params.InputDir == "" {
		opts := r.params.Phantom
		if opts.Count == 0 {
			opts = DefaultPhantom()
		}
		slices, err := seriesio.Phantom(opts)
		if err != nil {
			return err
		}
		r.slices, r.plane = slices, opts.Plane
		return nil
	}

	series, err := seriesio.Load(r.params.InputDir, r.logger)
	if err != nil {
		return err
	}
	r.slices, r.plane = series.Slices, series.Plane
	return nil
}

// Export writes every slice of each export plane to OutputDir/<plane> with
// the configured image format and one geometry file per image.
func (r *Reconstructor) Export() error {
	if r.state == nil {
		return ErrNotProcessed
	}
	if r.params.OutputDir == "" {
		return fmt.Errorf("no output directory")
	}

	viewer := visualization.NewViewer(r.state)
	if err := viewer.SetFormat(r.cfg.Output.SliceFormat); err != nil {
		return err
	}

	planes := r.params.ExportPlanes
	if len(planes) == 0 {
		planes = models.Planes[:]
	}
	for _, p := range planes {
		dir := filepath.Join(r.params.OutputDir, p.String())
		r.logger.Info("exporting slices", "plane", p, "count", r.state.SliceCount(p), "dir", dir)
		if err := viewer.SaveSliceSequence(p.String(), dir); err != nil {
			return fmt.Errorf("failed to export %s slices: %w", p, err)
		}
	}
	return nil
}

// SourcePlane returns the acquisition plane of the processed series.
func (r *Reconstructor) SourcePlane() models.Plane { return r.plane }

// Slices returns the source slices in series order.
func (r *Reconstructor) Slices() []models.Slice { return r.slices }

// Stack returns the ordered stack, or nil before Process.
func (r *Reconstructor) Stack() *stack.Stack { return r.stack }

// Volume returns the built volume, or nil before Process.
func (r *Reconstructor) Volume() *volume.Volume { return r.vol }

// State returns the MPR state, or nil before Process.
func (r *Reconstructor) State() *mpr.State { return r.state }

// GetMetrics returns the current validation metrics
func (r *Reconstructor) GetMetrics() ValidationMetrics {
	return r.metrics
}

// Close releases the volume. It is safe to call more than once.
func (r *Reconstructor) Close() error {
	r.state = nil
	r.stack = nil
	if r.vol == nil {
		return nil
	}
	err := r.vol.Close()
	r.vol = nil
	return err
}

// sourcePixel maps a patient position onto the nearest pixel of a source
// slice.
func sourcePixel(s *models.Slice, p r3.Vec) (int, int, bool) {
	d := r3.Sub(p, s.Origin)
	u := r3.Dot(d, s.Row) / s.Spacing.Column
	v := r3.Dot(d, s.Column) / s.Spacing.Row
	x, y := int(u+0.5), int(v+0.5)
	if u < -0.5 || v < -0.5 || x >= s.Width || y >= s.Height {
		return 0, 0, false
	}
	return x, y, true
}
