package patterns

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no pattern exists for the requested key.
var ErrNotFound = errors.New("pattern not found")

// Geometry is the pixel-space bounding box of a learned element,
// top-left origin.
type Geometry struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
}

// FromPoint builds a zero-area geometry around a single point. Vision
// locators return points, not boxes; the center is what callers click.
func FromPoint(x, y float64) Geometry {
	return Geometry{X: x, Y: y, CenterX: x, CenterY: y}
}

// SlotPattern is a learned coordinate for a photo placement slot.
// Geometry is only valid for the viewport it was learned at, so the
// viewport dimensions are part of the key.
type SlotPattern struct {
	LayoutName     string
	SlotID         string
	ViewportWidth  int
	ViewportHeight int
	Geometry       Geometry
	Confidence     float64
	HitCount       int
	LastUsed       time.Time
	CreatedAt      time.Time
}

// UIElementPattern is a learned coordinate for a non-slot interactive
// element (button, field). Selector optionally remembers a CSS fallback
// that worked alongside the geometry.
type UIElementPattern struct {
	ElementName    string
	ViewportWidth  int
	ViewportHeight int
	Geometry       Geometry
	Confidence     float64
	Selector       string
	HitCount       int
	LastUsed       time.Time
	CreatedAt      time.Time
}

// Stats summarizes the cache contents.
type Stats struct {
	TotalPatterns int     `json:"total_patterns"`
	TotalHits     int     `json:"total_hits"`
	AvgConfidence float64 `json:"avg_confidence"`
}
