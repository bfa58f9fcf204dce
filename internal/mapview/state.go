package mapview

import (
	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LatLng is a frontend-friendly coordinate
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is a frontend-friendly bounding box
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// LayerState describes a layer for the frontend
type LayerState struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        LayerKind       `json:"kind"`
	URL         string          `json:"url,omitempty"`
	Attribution string          `json:"attribution,omitempty"`
	MaxZoom     int             `json:"maxZoom,omitempty"`
	Opacity     float64         `json:"opacity"`
	Resolution  int             `json:"resolution,omitempty"`
	Bounds      *Bounds         `json:"bounds,omitempty"`
	Position    *LatLng         `json:"position,omitempty"`
	Popup       string          `json:"popup,omitempty"`
	Features    json.RawMessage `json:"features,omitempty"` // GeoJSON FeatureCollection
	Active      bool            `json:"active"`
}

// SwitcherState describes a layer switcher
type SwitcherState struct {
	Name       string       `json:"name"`
	BaseLayers []LayerState `json:"baseLayers"`
	Overlays   []LayerState `json:"overlays"`
}

// State is a snapshot of the whole view
type State struct {
	Center    LatLng          `json:"center"`
	Zoom      int             `json:"zoom"`
	BaseLayer string          `json:"baseLayer"`
	Switchers []SwitcherState `json:"switchers"`
}

// BoundsOf converts an orb bound to frontend bounds
func BoundsOf(b orb.Bound) Bounds {
	return Bounds{South: b.Min.Lat(), West: b.Min.Lon(), North: b.Max.Lat(), East: b.Max.Lon()}
}

// Snapshot captures the current view for the frontend
func (v *View) Snapshot() State {
	_, baseName := v.BaseLayer()
	state := State{
		Center:    LatLng{Lat: v.Center.Lat(), Lng: v.Center.Lon()},
		Zoom:      v.Zoom,
		BaseLayer: baseName,
	}

	for _, s := range v.switchers {
		ss := SwitcherState{Name: s.Name}
		for _, e := range s.Base.Entries() {
			ls := v.layerState(e)
			ls.Active = e.Layer == v.base
			ss.BaseLayers = append(ss.BaseLayers, ls)
		}
		for _, e := range s.Overlays.Entries() {
			ss.Overlays = append(ss.Overlays, v.layerState(e))
		}
		state.Switchers = append(state.Switchers, ss)
	}

	return state
}

func (v *View) layerState(e Entry) LayerState {
	l := e.Layer
	ls := LayerState{
		ID:          l.ID,
		Name:        e.Name,
		Kind:        l.Kind,
		URL:         l.URL,
		Attribution: l.Attribution,
		MaxZoom:     l.MaxZoom,
		Opacity:     l.Opacity,
		Resolution:  l.Resolution,
		Active:      v.active[l],
	}
	if l.HasBounds {
		b := BoundsOf(l.Bounds)
		ls.Bounds = &b
	}

	switch l.Kind {
	case KindMarker:
		ls.Position = &LatLng{Lat: l.Position.Lat(), Lng: l.Position.Lon()}
		ls.Popup = l.Popup
	case KindFeatureGroup:
		fc := geojson.NewFeatureCollection()
		for _, p := range l.shapes {
			fc.Append(geojson.NewFeature(p))
		}
		if data, err := fc.MarshalJSON(); err == nil {
			ls.Features = data
		}
	}

	return ls
}
