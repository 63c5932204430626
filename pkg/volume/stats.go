package volume

import (
	"gonum.org/v1/gonum/stat"
)

// maxStatSamples bounds the voxels read by Stats.
const maxStatSamples = 1 << 20

// Stats summarises the voxel values of a volume.
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64

	// Samples is the number of voxels the mean and deviation were taken from
	Samples int
}

// Stats returns the build-time value range plus the mean and standard
// deviation over an evenly strided subset of at most 1<<20 voxels.
func (v *Volume) Stats() (Stats, error) {
	if v.Closed() {
		return Stats{}, ErrClosed
	}
	n := v.Len()
	step := 1
	if n > maxStatSamples {
		step = (n + maxStatSamples - 1) / maxStatSamples
	}

	sx, sy := v.size[0], v.size[1]
	values := make([]float64, 0, n/step+1)
	for i := 0; i < n; i += step {
		x, y, z := i%sx, (i/sx)%sy, i/(sx*sy)
		if val, ok := v.Value(x, y, z); ok {
			values = append(values, val)
		}
	}

	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	return Stats{Min: v.min, Max: v.max, Mean: mean, StdDev: std, Samples: len(values)}, nil
}
