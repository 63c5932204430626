// Package seriesio reads and writes slice series on disk: a directory of
// 8- or 16-bit grayscale PNG or JPEG slices plus a series.yaml file carrying
// the geometry the image files cannot hold.
package seriesio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"obliquempr/internal/models"
	"obliquempr/pkg/stack"
)

// HeaderFile is the name of the geometry file inside a series directory.
const HeaderFile = "series.yaml"

// ErrNoSlices is returned for a directory without slice images.
var ErrNoSlices = errors.New("no slice images found")

// Header is the geometry of a series directory.
type Header struct {
	// Plane is the acquisition plane; empty means detect it from the normal
	Plane string `yaml:"plane"`

	PixelSpacing models.PixelSpacing `yaml:"pixelSpacing"`

	// SliceSpacing places slices without an explicit origin along the normal
	SliceSpacing float64 `yaml:"sliceSpacing"`

	Row    [3]float64 `yaml:"row,flow"`
	Column [3]float64 `yaml:"column,flow"`

	// Origin is the top-left position of the first slice
	Origin [3]float64 `yaml:"origin,flow"`

	// Signed marks the stored samples as two's complement
	Signed bool `yaml:"signed"`

	// Slices optionally overrides the origin of single files
	Slices []SliceHeader `yaml:"slices,omitempty"`
}

// SliceHeader is the explicit position of one file.
type SliceHeader struct {
	File   string     `yaml:"file"`
	Origin [3]float64 `yaml:"origin,flow"`
}

// Series is a loaded slice series.
type Series struct {
	Dir    string
	Plane  models.Plane
	Header Header
	Slices []models.Slice
}

func vec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }
func array(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// ReadHeader reads dir/series.yaml. A missing file yields an axial header
// with unit spacing.
func ReadHeader(dir string) (Header, error) {
	h := Header{
		PixelSpacing: models.PixelSpacing{Row: 1, Column: 1},
		SliceSpacing: 1,
	}
	data, err := os.ReadFile(filepath.Join(dir, HeaderFile))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return Header{}, fmt.Errorf("error reading series header: %w", err)
	default:
		if err := yaml.Unmarshal(data, &h); err != nil {
			return Header{}, fmt.Errorf("error parsing series header: %w", err)
		}
	}

	if h.Row == ([3]float64{}) && h.Column == ([3]float64{}) {
		plane := models.Axial
		if h.Plane != "" {
			if plane, err = models.ParsePlane(h.Plane); err != nil {
				return Header{}, err
			}
		}
		row, col := StandardOrientation(plane)
		h.Row, h.Column = array(row), array(col)
	}
	return h, nil
}

// Load reads the series in dir. Image files are ordered by the number in
// their name; their pixels are decoded lazily during the volume build.
func Load(dir string, logger *slog.Logger) (*Series, error) {
	if logger == nil {
		logger = slog.Default()
	}
	header, err := ReadHeader(dir)
	if err != nil {
		return nil, err
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var imageFiles []string
	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if !file.IsDir() && (ext == ".png" || ext == ".jpg" || ext == ".jpeg") {
			imageFiles = append(imageFiles, file.Name())
		}
	}
	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSlices, dir)
	}
	sort.SliceStable(imageFiles, func(i, j int) bool {
		ni, nj := extractNumber(imageFiles[i]), extractNumber(imageFiles[j])
		if ni != nj {
			return ni < nj
		}
		return imageFiles[i] < imageFiles[j]
	})

	row, col := vec(header.Row), vec(header.Column)
	normal := r3.Cross(row, col)
	plane := stack.DetectPlane(normal)
	if header.Plane != "" {
		if plane, err = models.ParsePlane(header.Plane); err != nil {
			return nil, err
		}
	}

	explicit := make(map[string]r3.Vec, len(header.Slices))
	for _, s := range header.Slices {
		explicit[s.File] = vec(s.Origin)
	}

	series := &Series{Dir: dir, Plane: plane, Header: header}
	for k, name := range imageFiles {
		path := filepath.Join(dir, name)
		typ, w, h, err := probe(path, header.Signed)
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		origin, ok := explicit[name]
		if !ok {
			origin = r3.Add(vec(header.Origin), r3.Scale(float64(k)*header.SliceSpacing, normal))
		}
		series.Slices = append(series.Slices, models.Slice{
			Width:    w,
			Height:   h,
			Type:     typ,
			Spacing:  header.PixelSpacing,
			Row:      row,
			Column:   col,
			Origin:   origin,
			Loader:   fileLoader(path, typ),
			Index:    k,
			Filename: name,
		})
	}

	logger.Info("series loaded", "dir", dir, "slices", len(series.Slices), "plane", plane,
		"width", series.Slices[0].Width, "height", series.Slices[0].Height, "type", series.Slices[0].Type)
	return series, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

// probe reads an image header and picks the element type: 16-bit grayscale
// PNGs keep their depth, everything else is read as 8-bit gray.
func probe(path string, signed bool) (models.ElementType, int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, 0, err
	}
	bits := 8
	if cfg.ColorModel == color.Gray16Model {
		bits = 16
	}
	typ, err := models.ElementTypeFor(bits, signed, false)
	return typ, cfg.Width, cfg.Height, err
}

func fileLoader(path string, typ models.ElementType) models.PixelLoader {
	return func() (any, error) {
		img, err := loadImage(path)
		if err != nil {
			return nil, err
		}
		return pixels(img, typ)
	}
}

// loadImage loads an image from a file
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return jpeg.Decode(file)
	}
	return png.Decode(file)
}

// pixels converts img into a row-major buffer of typ.
func pixels(img image.Image, typ models.ElementType) (any, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch typ {
	case models.Uint8, models.Int8:
		buf := make([]uint8, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				buf[y*w+x] = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
			}
		}
		if typ == models.Int8 {
			out := make([]int8, len(buf))
			for i, v := range buf {
				out[i] = int8(v)
			}
			return out, nil
		}
		return buf, nil
	case models.Uint16, models.Int16:
		buf := make([]uint16, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				buf[y*w+x] = color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y
			}
		}
		if typ == models.Int16 {
			out := make([]int16, len(buf))
			for i, v := range buf {
				out[i] = int16(v)
			}
			return out, nil
		}
		return buf, nil
	}
	return nil, fmt.Errorf("%w: %s slices cannot be stored as images", models.ErrUnsupportedType, typ)
}
