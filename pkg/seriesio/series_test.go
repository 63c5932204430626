package seriesio

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
	"obliquempr/pkg/stack"
)

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     int
	}{
		{"Simple number", "slice_1.jpg", 1},
		{"Leading zeros", "slice_023.jpg", 23},
		{"Number at end", "img456.jpg", 456},
		{"No number", "not_a_number.jpg", 0},
		{"Multiple numbers", "mixed123text456.jpg", 123456},
		{"Directory ignored", "run7/slice_2.png", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractNumber(tt.filename))
		})
	}
}

func TestStandardOrientation(t *testing.T) {
	for _, p := range models.Planes {
		row, col := StandardOrientation(p)
		assert.Equal(t, p, stack.DetectPlane(r3.Cross(row, col)), p.String())
	}
}

func TestWriteAndLoad_RoundTrip(t *testing.T) {
	for _, typ := range []models.ElementType{models.Uint8, models.Uint16} {
		t.Run(typ.String(), func(t *testing.T) {
			slices, err := Phantom(PhantomOptions{
				Plane: models.Coronal, Width: 8, Height: 6, Count: 5, Type: typ,
				Spacing:      models.PixelSpacing{Row: 0.5, Column: 0.75},
				SliceSpacing: 2,
			})
			require.NoError(t, err)

			dir := t.TempDir()
			require.NoError(t, WriteSeries(dir, slices, models.Coronal))

			series, err := Load(dir, nil)
			require.NoError(t, err)
			assert.Equal(t, models.Coronal, series.Plane)
			assert.Equal(t, 2.0, series.Header.SliceSpacing)
			require.Len(t, series.Slices, 5)

			for k, s := range series.Slices {
				assert.Equal(t, typ, s.Type)
				assert.Equal(t, slices[k].Spacing, s.Spacing)
				assert.Equal(t, slices[k].Origin, s.Origin)
				assert.Equal(t, slices[k].Row, s.Row)
				assert.Equal(t, slices[k].Column, s.Column)

				want, err := slices[k].PixelData()
				require.NoError(t, err)
				got, err := s.PixelData()
				require.NoError(t, err)
				assert.Equal(t, want, got, "slice %d", k)
			}
		})
	}
}

func TestWriteAndLoad_Signed(t *testing.T) {
	row, col := StandardOrientation(models.Axial)
	slices := make([]models.Slice, 2)
	for k := range slices {
		slices[k] = models.Slice{
			Width: 2, Height: 2, Type: models.Int16,
			Spacing: models.PixelSpacing{Row: 1, Column: 1},
			Row:     row, Column: col, Origin: r3.Vec{Z: float64(k)},
			Pixels: []int16{-1024, -1, 0, int16(3000 + k)},
			Index:  k,
		}
	}

	dir := t.TempDir()
	require.NoError(t, WriteSeries(dir, slices, models.Axial))
	series, err := Load(dir, nil)
	require.NoError(t, err)
	assert.True(t, series.Header.Signed)

	got, err := series.Slices[1].PixelData()
	require.NoError(t, err)
	assert.Equal(t, []int16{-1024, -1, 0, 3001}, got)
}

func TestLoad_NoHeaderOrdersByNumber(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int{10, 2, 1} {
		img := image.NewGray(image.Rect(0, 0, 3, 2))
		img.SetGray(0, 0, color.Gray{Y: uint8(n)})
		require.NoError(t, writePNG(filepath.Join(dir, "img"+strconv.Itoa(n)+".png"), img))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	series, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, models.Axial, series.Plane)
	require.Len(t, series.Slices, 3)

	for k, want := range []uint8{1, 2, 10} {
		s := series.Slices[k]
		assert.Equal(t, models.Uint8, s.Type)
		assert.Equal(t, 3, s.Width)
		assert.Equal(t, 2, s.Height)
		assert.Equal(t, r3.Vec{Z: float64(k)}, s.Origin)

		buf, err := s.PixelData()
		require.NoError(t, err)
		assert.Equal(t, want, buf.([]uint8)[0])
	}
}

func TestLoad_HeaderPlaneWithoutDirections(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, HeaderFile),
		[]byte("plane: sagittal\nsliceSpacing: 3\n"), 0644))
	for i := 0; i < 2; i++ {
		require.NoError(t, writePNG(filepath.Join(dir, "s"+strconv.Itoa(i)+".png"), image.NewGray16(image.Rect(0, 0, 2, 2))))
	}

	series, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, models.Sagittal, series.Plane)
	assert.Equal(t, models.Uint16, series.Slices[0].Type)
	assert.Equal(t, r3.Vec{X: -3}, series.Slices[1].Origin)
	assert.Equal(t, models.PixelSpacing{Row: 1, Column: 1}, series.Slices[1].Spacing)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNoSlices)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, HeaderFile), []byte("plane: [oops"), 0644))
	_, err = Load(dir, nil)
	assert.Error(t, err)

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slice_1.png"), []byte("not a png"), 0644))
	_, err = Load(dir, nil)
	assert.Error(t, err)
}

func TestWriteSeries_RejectsWideTypes(t *testing.T) {
	slices, err := Phantom(PhantomOptions{Plane: models.Axial, Width: 2, Height: 2, Count: 2, Type: models.Float32})
	require.NoError(t, err)
	err = WriteSeries(t.TempDir(), slices, models.Axial)
	assert.ErrorIs(t, err, models.ErrUnsupportedType)
}

func TestPhantom(t *testing.T) {
	slices, err := Phantom(PhantomOptions{Plane: models.Axial, Width: 9, Height: 9, Count: 9, Type: models.Uint16})
	require.NoError(t, err)
	require.Len(t, slices, 9)

	buf := slices[4].Pixels.([]uint16)
	assert.Equal(t, uint16(1000), buf[4*9+4], "centre")
	assert.Equal(t, uint16(0), buf[0], "corner")
	assert.Equal(t, r3.Vec{Z: 4}, slices[4].Origin)

	st, err := stack.Build(slices, models.Axial, stack.Options{})
	require.NoError(t, err)
	assert.False(t, st.Irregular)
	assert.Equal(t, 1.0, st.Spacing)

	_, err = Phantom(PhantomOptions{Plane: models.Axial, Width: 4, Height: 4, Count: 1})
	assert.Error(t, err)
}
