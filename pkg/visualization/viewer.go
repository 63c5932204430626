package visualization

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"obliquempr/internal/models"
	"obliquempr/pkg/mpr"
)

// Viewer renders the planes of an MPR state as grayscale images and writes
// them to disk together with their patient geometry.
type Viewer struct {
	// state holds the planes being viewed
	state *mpr.State

	// low and high bound the intensity window mapped onto black..white
	low  float64
	high float64

	// format is the file extension used by SaveSliceSequence
	format string
}

// NewViewer creates a viewer whose window spans the volume's intensity range
func NewViewer(state *mpr.State) *Viewer {
	low, high := state.Volume().Range()
	if !(high > low) {
		high = low + 1
	}
	return &Viewer{state: state, low: low, high: high, format: "png"}
}

// SetFormat selects png or jpg output for SaveSliceSequence
func (v *Viewer) SetFormat(format string) error {
	switch f := strings.ToLower(format); f {
	case "png", "jpg":
		v.format = f
	case "jpeg":
		v.format = "jpg"
	default:
		return fmt.Errorf("invalid slice format: %s (must be png or jpg)", format)
	}
	return nil
}

// SetWindow sets the intensity window
func (v *Viewer) SetWindow(low, high float64) error {
	if math.IsNaN(low) || math.IsNaN(high) || high <= low {
		return fmt.Errorf("invalid window [%g, %g]", low, high)
	}
	v.low, v.high = low, high
	return nil
}

// Window returns the intensity window
func (v *Viewer) Window() (low, high float64) { return v.low, v.high }

// ToGray16 maps raster samples inside [low, high] linearly onto 16-bit gray.
// Samples outside the window saturate.
func ToGray16(r *models.Raster, low, high float64) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, r.Width, r.Height))
	scale := 65535 / (high - low)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			value := r.At(x, y)
			if math.IsNaN(value) {
				value = low
			}
			g := uint16(math.Round(math.Max(0, math.Min(65535, (value-low)*scale))))
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(g >> 8)
			img.Pix[i+1] = uint8(g)
		}
	}
	return img
}

// Render samples plane p at its current position
func (v *Viewer) Render(p models.Plane) (*mpr.Image, *image.Gray16, error) {
	im, err := v.state.Image(p)
	if err != nil {
		return nil, nil, err
	}
	return im, ToGray16(im.Raster, v.low, v.high), nil
}

// ExtractSlice moves the plane named by axis to volume slice position and
// renders it. Axis is a plane name or the letter of its normal axis.
func (v *Viewer) ExtractSlice(axis string, position int) (*mpr.Image, *image.Gray16, error) {
	p, err := models.ParsePlane(axis)
	if err != nil {
		return nil, nil, err
	}
	if position < 0 {
		return nil, nil, fmt.Errorf("position must be non-negative")
	}
	if n := v.state.SliceCount(p); position >= n {
		return nil, nil, fmt.Errorf("position %d exceeds %s slice count %d", position, p, n)
	}

	v.state.Apply(mpr.SetSliceIndex{Plane: p, Index: position})
	return v.Render(p)
}

// SaveSlice saves an image as PNG, or as JPEG when filename ends in .jpg
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// sidecar is the geometry written next to every saved image.
type sidecar struct {
	Plane      string            `yaml:"plane"`
	Projection string            `yaml:"projection"`
	Extension  int               `yaml:"extension"`
	Window     [2]float64        `yaml:"window,flow"`
	Geometry   mpr.SliceGeometry `yaml:"geometry"`
}

// SaveImage writes a rendered plane to filename and its geometry to a .yaml
// file of the same base name.
func (v *Viewer) SaveImage(im *mpr.Image, img image.Image, filename string) error {
	if err := v.SaveSlice(img, filename); err != nil {
		return err
	}

	data, err := yaml.Marshal(&sidecar{
		Plane:      im.Plane.String(),
		Projection: im.Projection.String(),
		Extension:  im.Extension,
		Window:     [2]float64{v.low, v.high},
		Geometry:   im.Geometry,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(strings.TrimSuffix(filename, filepath.Ext(filename))+".yaml", data, 0644)
}

// SaveSliceSequence renders and saves every volume slice along the plane
// named by axis. The plane returns to its previous slice afterwards.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	p, err := models.ParsePlane(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	previous := v.state.SliceIndex(p)
	defer v.state.Apply(mpr.SetSliceIndex{Plane: p, Index: previous})

	for pos := 0; pos < v.state.SliceCount(p); pos++ {
		im, img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", p, pos, v.format))
		if err := v.SaveImage(im, img, filename); err != nil {
			return err
		}
	}

	return nil
}
