package mapview

import (
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// LayerKind identifies how the frontend renders a layer
type LayerKind string

const (
	KindTile         LayerKind = "tile"
	KindMarker       LayerKind = "marker"
	KindFeatureGroup LayerKind = "featureGroup"
	KindRaster       LayerKind = "raster"
	KindImageOverlay LayerKind = "imageOverlay"
)

// Layer is a handle to something drawn on the map. Handles are compared by
// identity: two layers with identical fields are still different layers.
type Layer struct {
	ID          string
	Kind        LayerKind
	URL         string // tile template, raster tile template or image URL
	Attribution string
	MaxZoom     int
	Opacity     float64
	Resolution  int // raster tile size in pixels

	// Bounds is only meaningful when HasBounds is set (raster and image overlays)
	Bounds    orb.Bound
	HasBounds bool

	// Marker
	Position orb.Point
	Popup    string

	// Feature group
	shapes []orb.Polygon
}

func newLayer(kind LayerKind) *Layer {
	return &Layer{
		ID:      uuid.New().String(),
		Kind:    kind,
		Opacity: 1,
	}
}

// NewTileLayer creates a base tile layer from an XYZ URL template
func NewTileLayer(url string, maxZoom int, attribution string) *Layer {
	l := newLayer(KindTile)
	l.URL = url
	l.MaxZoom = maxZoom
	l.Attribution = attribution
	return l
}

// NewMarker creates a point marker with a popup text
func NewMarker(position orb.Point, popup string) *Layer {
	l := newLayer(KindMarker)
	l.Position = position
	l.Popup = popup
	return l
}

// NewFeatureGroup creates an empty group of drawn shapes
func NewFeatureGroup() *Layer {
	return newLayer(KindFeatureGroup)
}

// NewRasterLayer creates a raster overlay served as XYZ tiles from url
func NewRasterLayer(url string, bounds orb.Bound, opacity float64, resolution int) *Layer {
	l := newLayer(KindRaster)
	l.URL = url
	l.Bounds = bounds
	l.HasBounds = true
	l.Opacity = opacity
	l.Resolution = resolution
	return l
}

// NewImageOverlay creates a single image stretched over bounds
func NewImageOverlay(url string, bounds orb.Bound, opacity float64) *Layer {
	l := newLayer(KindImageOverlay)
	l.URL = url
	l.Bounds = bounds
	l.HasBounds = true
	l.Opacity = opacity
	return l
}

// AddShape appends a polygon to a feature group
func (l *Layer) AddShape(p orb.Polygon) {
	l.shapes = append(l.shapes, p)
}

// Shapes returns the polygons held by a feature group
func (l *Layer) Shapes() []orb.Polygon {
	out := make([]orb.Polygon, len(l.shapes))
	copy(out, l.shapes)
	return out
}
