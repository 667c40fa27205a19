package decode

import (
	"math"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/format"
)

// Point is a corner point in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned bounding box in frame pixel coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Barcode is one detected barcode. Values are immutable once returned.
type Barcode struct {
	RawValue     string        `json:"raw_value"`
	Format       format.Format `json:"format"`
	CornerPoints []Point       `json:"corner_points,omitempty"`
	BoundingBox  *Rect         `json:"bounding_box,omitempty"`
}

// boundingBox returns the smallest rectangle enclosing points, or nil.
func boundingBox(points []Point) *Rect {
	if len(points) == 0 {
		return nil
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}

	return &Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
