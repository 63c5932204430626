package reconstruction

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"obliquempr/internal/models"
	"obliquempr/pkg/mpr"
)

// ValidationMetrics compare the source-plane reslices of the MPR state with
// the source slices they should reproduce. Intensities are normalised to the
// volume range before comparison.
type ValidationMetrics struct {
	// MI (Mutual Information) in bits between source and reslice
	// intensities. It equals the source entropy for an exact reproduction.
	MI float64

	// EntropyDiff is the difference in information content (entropy) between
	// the source and the reslices. Lower values are better.
	EntropyDiff float64

	// RMSE (Root Mean Square Error) of the normalised intensities
	RMSE float64

	// SSIM (Structural Similarity Index) of the normalised intensities;
	// 1 means identical
	SSIM float64

	// Accuracy combines RMSE and SSIM into a percentage
	Accuracy float64

	// Slices and Pixels count what was compared
	Slices int
	Pixels int
}

// histogramBins is the bin count of the entropy and mutual information
// histograms.
const histogramBins = 64

// calculateValidationMetrics reslices the source plane at every volume slice
// that coincides with a source slice and compares the pixels pair by pair.
// Slabs are suspended while sampling; the crosshair is restored afterwards.
func (r *Reconstructor) calculateValidationMetrics(ctx context.Context) error {
	st, p := r.state, r.plane
	crosshair := st.CenterIndex()
	st.Apply(mpr.SetAdjusting{Adjusting: true})
	defer func() {
		st.Apply(mpr.SetCenter{Point: crosshair})
		st.Apply(mpr.SetAdjusting{Adjusting: false})
	}()

	lo, hi := r.vol.Range()
	scale := 1.0
	if hi > lo {
		scale = 1 / (hi - lo)
	}

	var totalMI, totalRMSE, totalSSIM, totalEntropy float64
	r.metrics = ValidationMetrics{}
	for i := 0; i < st.SliceCount(p); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		st.Apply(mpr.SetSliceIndex{Plane: p, Index: i})
		im, err := st.ImageContext(ctx, p)
		if err != nil {
			return err
		}

		k, ok := r.sourceSlice(r3.Dot(im.Geometry.Origin, r.stack.Frame.Normal))
		if !ok {
			continue
		}
		s := &r.stack.Slices[k]
		buf, err := s.PixelData()
		if err != nil {
			return err
		}
		src := &models.Raster{Width: s.Width, Height: s.Height, Type: s.Type, Pix: buf}

		var original, reconstructed []float64
		for y := 0; y < im.Raster.Height; y++ {
			for x := 0; x < im.Raster.Width; x++ {
				value := im.Raster.At(x, y)
				u, v, ok := sourcePixel(s, im.PatientPosition(float64(x), float64(y)))
				if !ok || math.IsNaN(value) {
					continue
				}
				original = append(original, (src.At(u, v)-lo)*scale)
				reconstructed = append(reconstructed, (value-lo)*scale)
			}
		}
		if len(original) == 0 {
			continue
		}

		totalMI += calculateMutualInformation(original, reconstructed)
		totalRMSE += calculateRMSE(original, reconstructed)
		totalSSIM += calculateSSIM(original, reconstructed)
		totalEntropy += calculateEntropyDifference(original, reconstructed)
		r.metrics.Slices++
		r.metrics.Pixels += len(original)
	}

	if n := float64(r.metrics.Slices); n > 0 {
		r.metrics.MI = totalMI / n
		r.metrics.RMSE = totalRMSE / n
		r.metrics.SSIM = totalSSIM / n
		r.metrics.EntropyDiff = totalEntropy / n
		r.metrics.Accuracy = math.Max(0, (1-r.metrics.RMSE)*r.metrics.SSIM) * 100
	}
	r.logger.Debug("validation metrics", "slices", r.metrics.Slices, "pixels", r.metrics.Pixels,
		"rmse", r.metrics.RMSE, "ssim", r.metrics.SSIM, "accuracy", r.metrics.Accuracy)
	return nil
}

// sourceSlice returns the stack slice at position pos along the stack
// normal, within a quarter of the slice spacing.
func (r *Reconstructor) sourceSlice(pos float64) (int, bool) {
	positions := r.stack.Positions
	k := sort.SearchFloat64s(positions, pos)
	best := -1
	for _, c := range []int{k - 1, k} {
		if c < 0 || c >= len(positions) {
			continue
		}
		if best < 0 || math.Abs(positions[c]-pos) < math.Abs(positions[best]-pos) {
			best = c
		}
	}
	if best < 0 || math.Abs(positions[best]-pos) > r.stack.Spacing/4 {
		return 0, false
	}
	return best, true
}

// calculateMutualInformation computes the mutual information of two datasets
// in [0,1] from their joint histogram
func calculateMutualInformation(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}

	joint := make([]float64, histogramBins*histogramBins)
	px := make([]float64, histogramBins)
	py := make([]float64, histogramBins)
	for i := 0; i < n; i++ {
		a, b := bin(original[i]), bin(reconstructed[i])
		joint[a*histogramBins+b]++
		px[a]++
		py[b]++
	}

	mi := 0.0
	for a := 0; a < histogramBins; a++ {
		for b := 0; b < histogramBins; b++ {
			c := joint[a*histogramBins+b]
			if c == 0 {
				continue
			}
			pxy := c / float64(n)
			mi += pxy * math.Log2(pxy/(px[a]/float64(n)*py[b]/float64(n)))
		}
	}
	return mi
}

func bin(v float64) int {
	b := int(v * histogramBins)
	if b >= histogramBins {
		return histogramBins - 1
	} else if b < 0 {
		return 0
	}
	return b
}

// calculateRMSE computes the root mean square error
func calculateRMSE(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}

	// Calculate MSE
	mse := 0.0
	for i := 0; i < n; i++ {
		diff := original[i] - reconstructed[i]
		mse += diff * diff
	}
	mse /= float64(n)

	// Return RMSE
	return math.Sqrt(mse)
}

// calculateSSIM computes the Structural Similarity Index
func calculateSSIM(original, reconstructed []float64) float64 {
	// Constants for SSIM calculation
	const L = 1.0 // Dynamic range
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)

	var sigmaX, sigmaY, sigmaXY float64
	if n > 1 {
		sigmaX = stat.Variance(original, nil)
		sigmaY = stat.Variance(reconstructed, nil)
		sigmaXY = stat.Covariance(original, reconstructed, nil)
	}

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)

	if den > 0 {
		return num / den
	}
	return 0
}

// calculateEntropyDifference computes the entropy difference
func calculateEntropyDifference(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}
	return math.Abs(calculateEntropy(original) - calculateEntropy(reconstructed))
}

// calculateEntropy computes the Shannon entropy in bits of data in [0,1]
func calculateEntropy(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	hist := make([]float64, histogramBins)
	for _, v := range data {
		hist[bin(v)]++
	}

	entropy := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / float64(n)
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
