package mpr

import (
	"gonum.org/v1/gonum/spatial/r3"

	"obliquempr/internal/models"
)

// SliceGeometry places a reformatted raster in patient space.
type SliceGeometry struct {
	// Row and Column are the patient directions of increasing x and y
	Row    r3.Vec `yaml:"row"`
	Column r3.Vec `yaml:"column"`
	Normal r3.Vec `yaml:"normal"`

	// Origin is the patient position of pixel (0,0)
	Origin r3.Vec `yaml:"origin"`

	Spacing   models.PixelSpacing `yaml:"spacing"`
	Thickness float64             `yaml:"thickness"`

	// Instance is the 1-based slice index along the plane's normal axis
	Instance int `yaml:"instance"`

	// Location is the projection of Origin onto Normal
	Location float64 `yaml:"location"`
}

// Image is one sampled plane.
type Image struct {
	Plane      models.Plane
	Raster     *models.Raster
	Geometry   SliceGeometry
	Projection models.Projection

	// Extension is the slab half-width actually composited
	Extension int
}

// PatientPosition maps fractional pixel (x, y) to patient space.
func (im *Image) PatientPosition(x, y float64) r3.Vec {
	g := im.Geometry
	p := r3.Add(g.Origin, r3.Scale(x*g.Spacing.Column, g.Row))
	return r3.Add(p, r3.Scale(y*g.Spacing.Row, g.Column))
}
