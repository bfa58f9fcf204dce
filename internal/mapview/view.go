package mapview

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/samber/lo"

	"sentinel-viewer/internal/config"
)

const (
	// PrimarySwitcher is the layer control created at startup
	PrimarySwitcher = "layers"

	MarkerName      = "Marker"
	DrawnShapesName = "Drawn Shapes"

	TileSize = 256
)

// Options configures the startup state of a View
type Options struct {
	Center      orb.Point // lon, lat
	Zoom        int
	BaseLayers  []config.BaseLayer
	DefaultBase string
	MarkerPopup string

	// Viewport size in pixels, used by FitBounds
	ViewportWidth  int
	ViewportHeight int
}

// View holds the map state: position, active layers and layer switchers.
// View is not safe for concurrent use.
type View struct {
	Center orb.Point
	Zoom   int

	base      *Layer
	active    map[*Layer]bool
	switchers []*Switcher

	marker *Layer
	drawn  *Layer

	viewportW int
	viewportH int
}

// New builds the startup view: one active base layer, the primary switcher
// seeded with all base layers plus the marker and the drawn-shapes group
func New(opts Options) (*View, error) {
	if len(opts.BaseLayers) == 0 {
		return nil, fmt.Errorf("no base layers configured")
	}

	v := &View{
		Center:    opts.Center,
		Zoom:      opts.Zoom,
		active:    make(map[*Layer]bool),
		viewportW: opts.ViewportWidth,
		viewportH: opts.ViewportHeight,
	}
	if v.viewportW <= 0 {
		v.viewportW = 1024
	}
	if v.viewportH <= 0 {
		v.viewportH = 768
	}

	primary := NewSwitcher(PrimarySwitcher)
	for _, bl := range opts.BaseLayers {
		layer := NewTileLayer(bl.URL, bl.MaxZoom, bl.Attribution)
		if err := primary.Base.Add(bl.Name, layer); err != nil {
			return nil, err
		}
		if bl.Name == opts.DefaultBase {
			v.base = layer
		}
	}
	if v.base == nil {
		v.base = primary.Base.Entries()[0].Layer
	}

	v.marker = NewMarker(opts.Center, opts.MarkerPopup)
	v.drawn = NewFeatureGroup()
	primary.Overlays.Add(MarkerName, v.marker)
	primary.Overlays.Add(DrawnShapesName, v.drawn)

	// Only the drawn-shapes group starts visible; the marker is listed but off
	v.active[v.drawn] = true

	v.switchers = append(v.switchers, primary)
	return v, nil
}

// DrawnShapes returns the feature group collecting drawn polygons
func (v *View) DrawnShapes() *Layer {
	return v.drawn
}

// Marker returns the startup point marker
func (v *View) Marker() *Layer {
	return v.marker
}

// BaseLayer returns the active base layer and its display name
func (v *View) BaseLayer() (*Layer, string) {
	name, _ := v.Primary().Base.NameOf(v.base)
	return v.base, name
}

// MaxZoom returns the max zoom of the active base layer
func (v *View) MaxZoom() int {
	if v.base.MaxZoom > 0 {
		return v.base.MaxZoom
	}
	return 19
}

// Primary returns the startup layer switcher
func (v *View) Primary() *Switcher {
	return v.switchers[0]
}

// Switcher returns the switcher with the given name
func (v *View) Switcher(name string) (*Switcher, bool) {
	return lo.Find(v.switchers, func(s *Switcher) bool { return s.Name == name })
}

// AddSwitcher creates a new, empty switcher. Adding an existing name returns it.
func (v *View) AddSwitcher(name string) *Switcher {
	if s, ok := v.Switcher(name); ok {
		return s
	}
	s := NewSwitcher(name)
	v.switchers = append(v.switchers, s)
	return s
}

// Switchers returns all switchers in creation order
func (v *View) Switchers() []*Switcher {
	return append([]*Switcher(nil), v.switchers...)
}

// SetBaseLayer activates the base layer registered under name
func (v *View) SetBaseLayer(name string) error {
	for _, s := range v.switchers {
		if layer, ok := s.Base.Get(name); ok {
			v.base = layer
			return nil
		}
	}
	return fmt.Errorf("base layer '%s' not found", name)
}

// AddOverlay shows layer on the map
func (v *View) AddOverlay(layer *Layer) {
	v.active[layer] = true
}

// RemoveOverlay hides layer from the map
func (v *View) RemoveOverlay(layer *Layer) {
	delete(v.active, layer)
}

// HasOverlay reports whether layer is currently shown
func (v *View) HasOverlay(layer *Layer) bool {
	return v.active[layer]
}

// ToggleOverlay shows or hides the overlay registered under name in any switcher
func (v *View) ToggleOverlay(name string, on bool) error {
	for _, s := range v.switchers {
		if layer, ok := s.Overlays.Get(name); ok {
			if on {
				v.AddOverlay(layer)
			} else {
				v.RemoveOverlay(layer)
			}
			return nil
		}
	}
	return fmt.Errorf("overlay '%s' not found", name)
}

// SetView moves the map
func (v *View) SetView(center orb.Point, zoom int) {
	v.Center = center
	v.Zoom = clampZoom(zoom, v.MaxZoom())
}

// SetViewport records the map's pixel size for FitBounds
func (v *View) SetViewport(width, height int) {
	if width > 0 && height > 0 {
		v.viewportW = width
		v.viewportH = height
	}
}

// FitBounds centers the view on b at the largest zoom showing all of it
func (v *View) FitBounds(b orb.Bound) {
	min := project.WGS84.ToMercator(b.Min)
	max := project.WGS84.ToMercator(b.Max)
	center := project.Mercator.ToWGS84(orb.Point{(min[0] + max[0]) / 2, (min[1] + max[1]) / 2})

	// Mercator extent as a fraction of the world
	const worldMeters = 2 * 20037508.342789244
	fx := (max[0] - min[0]) / worldMeters
	fy := (max[1] - min[1]) / worldMeters

	zoom := v.MaxZoom()
	for zoom > 0 {
		worldPx := float64(TileSize) * math.Pow(2, float64(zoom))
		if fx*worldPx <= float64(v.viewportW) && fy*worldPx <= float64(v.viewportH) {
			break
		}
		zoom--
	}

	v.Center = center
	v.Zoom = zoom
}

func clampZoom(zoom, max int) int {
	if zoom < 0 {
		return 0
	}
	if zoom > max {
		return max
	}
	return zoom
}
