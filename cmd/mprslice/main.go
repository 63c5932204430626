package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"obliquempr/internal/models"
	"obliquempr/pkg/config"
	"obliquempr/pkg/mpr"
	"obliquempr/pkg/reconstruction"
	"obliquempr/pkg/seriesio"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing the slice series (default: synthetic phantom)")
	configPath := flag.String("config", "config.yaml", "Configuration file")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: from config)")
	projection := flag.String("projection", "", "Slab projection: none, min, max or mean (default: from config)")
	thickness := flag.Int("thickness", -1, "Slab half-width in voxels (default: from config)")
	angle := flag.Float64("angle", 0, "Rotate the axial plane by this many degrees before exporting")
	extractSlices := flag.Bool("extract-slices", false, "Export reformatted slices")
	slicesDir := flag.String("slices-dir", "reconstructed_slices", "Directory to save exported slices")
	planes := flag.String("planes", "axial,coronal,sagittal", "Comma-separated planes to export")
	writePhantom := flag.String("write-phantom", "", "Write the synthetic phantom series to this directory and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if *projection != "" {
		cfg.MPR.Projection = *projection
	}
	if *thickness >= 0 {
		cfg.MPR.Thickness = *thickness
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *writePhantom != "" {
		opts := reconstruction.DefaultPhantom()
		slices, err := seriesio.Phantom(opts)
		if err != nil {
			log.Fatalf("Failed to create phantom: %v", err)
		}
		if err := seriesio.WriteSeries(*writePhantom, slices, opts.Plane); err != nil {
			log.Fatalf("Failed to write phantom: %v", err)
		}
		fmt.Printf("Phantom series (%d slices) written to: %s\n", len(slices), *writePhantom)
		return
	}

	exportPlanes, err := parsePlanes(*planes)
	if err != nil {
		log.Fatalf("Invalid planes: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("OBLIQUE MULTIPLANAR REFORMATTING")
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Initialize pipeline parameters
	params := &reconstruction.Params{
		InputDir:     *inputDir,
		OutputDir:    *slicesDir,
		ExportPlanes: exportPlanes,
		Config:       cfg,
		Logger:       logger,
	}

	reconstructor := reconstruction.NewReconstructor(params)
	defer reconstructor.Close()

	startTime := time.Now()
	if err := reconstructor.Process(ctx); err != nil {
		reconstructor.Close()
		log.Fatalf("Reconstruction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	vol := reconstructor.Volume()
	state := reconstructor.State()
	x, y, z := vol.Size()
	stats, err := vol.Stats()
	if err != nil {
		reconstructor.Close()
		log.Fatalf("Failed to read volume statistics: %v", err)
	}

	source := "synthetic phantom"
	if *inputDir != "" {
		source = *inputDir
	}
	fmt.Printf("\nVolume built in %.2f seconds from %s\n", processingTime.Seconds(), source)
	fmt.Printf("- Source plane: %s, %d slices, spacing %.3f mm", reconstructor.SourcePlane(),
		reconstructor.Stack().Count(), reconstructor.Stack().Spacing)
	if vol.Irregular() {
		fmt.Print(" (irregular)")
	}
	fmt.Println()
	fmt.Printf("- Dimensions: %d x %d x %d %s voxels (%s", x, y, z, vol.Type(),
		humanize.Bytes(uint64(vol.Len())*uint64(vol.Type().Size())))
	if vol.FileBacked() {
		fmt.Printf(", file-backed at %s", vol.ScratchPath())
	}
	fmt.Println(")")
	ratio := vol.PixelRatio()
	fmt.Printf("- Voxel size: %.3f x %.3f x %.3f mm\n", ratio.X, ratio.Y, ratio.Z)
	fmt.Printf("- Intensity: min %.1f, max %.1f, mean %.2f, std %.2f over %s voxels\n",
		stats.Min, stats.Max, stats.Mean, stats.StdDev, humanize.Comma(int64(stats.Samples)))
	fmt.Printf("- Slice size: %d, projection %s\n", state.SliceSize(), state.Projection())

	metrics := reconstructor.GetMetrics()
	fmt.Printf("\nSource plane check (%d slices, %s pixels):\n", metrics.Slices, humanize.Comma(int64(metrics.Pixels)))
	fmt.Printf("=======================================\n")
	fmt.Printf("Mutual Information (MI): %.3f\n", metrics.MI)
	fmt.Printf("Entropy Difference: %.3f\n", metrics.EntropyDiff)
	fmt.Printf("Root Mean Square Error (RMSE): %.6f\n", metrics.RMSE)
	fmt.Printf("Structural Similarity Index (SSIM): %.3f\n", metrics.SSIM)
	fmt.Printf("Overall Accuracy: %.2f%%\n", metrics.Accuracy)

	if *angle != 0 {
		state.Apply(mpr.RotateAxis{Plane: models.Axial, Angle: *angle * math.Pi / 180})
		fmt.Printf("\nAxial plane rotated by %.1f degrees\n", *angle)
	}

	// Export reformatted slices if requested
	if *extractSlices {
		fmt.Println("\nExporting reformatted slices...")
		for _, p := range exportPlanes {
			fmt.Printf("Saving %d %s slices to: %s\n", state.SliceCount(p), p, filepath.Join(*slicesDir, p.String()))
		}
		if err := reconstructor.Export(); err != nil {
			reconstructor.Close()
			log.Fatalf("Export failed: %v", err)
		}
		fmt.Println("Slice export completed!")
	}
}

// parsePlanes parses a comma-separated plane list
func parsePlanes(s string) ([]models.Plane, error) {
	var planes []models.Plane
	for _, name := range strings.Split(s, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		p, err := models.ParsePlane(name)
		if err != nil {
			return nil, err
		}
		planes = append(planes, p)
	}
	return planes, nil
}
