package seriesio

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"obliquempr/internal/models"
)

// WriteSeries stores slices as 8- or 16-bit PNG files plus a series.yaml
// header in dir, so that Load reads them back with the same geometry.
func WriteSeries(dir string, slices []models.Slice, plane models.Plane) error {
	if len(slices) == 0 {
		return ErrNoSlices
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating series directory: %w", err)
	}

	first := slices[0]
	header := Header{
		Plane:        plane.String(),
		PixelSpacing: first.Spacing,
		SliceSpacing: 1,
		Row:          array(first.Row),
		Column:       array(first.Column),
		Origin:       array(first.Origin),
		Signed:       first.Type == models.Int8 || first.Type == models.Int16,
	}
	if len(slices) > 1 {
		if d := r3.Norm(r3.Sub(slices[1].Origin, first.Origin)); d > 0 {
			header.SliceSpacing = d
		}
	}

	for i := range slices {
		s := &slices[i]
		buf, err := s.PixelData()
		if err != nil {
			return err
		}
		img, err := toImage(buf, s.Width, s.Height)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("slice_%03d.png", i)
		if err := writePNG(filepath.Join(dir, name), img); err != nil {
			return fmt.Errorf("error saving slice %d: %w", i, err)
		}
		header.Slices = append(header.Slices, SliceHeader{File: name, Origin: array(s.Origin)})
	}

	data, err := yaml.Marshal(&header)
	if err != nil {
		return fmt.Errorf("error encoding series header: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, HeaderFile), data, 0644)
}

func writePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// toImage wraps a pixel buffer in a grayscale image. Signed samples are
// stored as their two's complement bit pattern.
func toImage(buf any, w, h int) (image.Image, error) {
	rect := image.Rect(0, 0, w, h)
	switch b := buf.(type) {
	case []uint8:
		img := image.NewGray(rect)
		copy(img.Pix, b)
		return img, nil
	case []int8:
		img := image.NewGray(rect)
		for i, v := range b {
			img.Pix[i] = uint8(v)
		}
		return img, nil
	case []uint16:
		return gray16(rect, len(b), func(i int) uint16 { return b[i] }), nil
	case []int16:
		return gray16(rect, len(b), func(i int) uint16 { return uint16(b[i]) }), nil
	}
	return nil, fmt.Errorf("%w: %T cannot be stored as a grayscale image", models.ErrUnsupportedType, buf)
}

func gray16(rect image.Rectangle, n int, at func(i int) uint16) *image.Gray16 {
	img := image.NewGray16(rect)
	for i := 0; i < n; i++ {
		v := at(i)
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}
	return img
}
