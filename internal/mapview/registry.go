package mapview

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// ErrDuplicateName is returned when a display name is already registered
var ErrDuplicateName = errors.New("layer name already registered")

// Entry pairs a display name with a layer handle
type Entry struct {
	Name  string
	Layer *Layer
}

// Registry maps display names to layer handles, keeping insertion order
type Registry struct {
	entries []Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers layer under name
func (r *Registry) Add(name string, layer *Layer) error {
	if _, exists := r.Get(name); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	r.entries = append(r.entries, Entry{Name: name, Layer: layer})
	return nil
}

// Get looks up a layer by display name
func (r *Registry) Get(name string) (*Layer, bool) {
	entry, ok := lo.Find(r.entries, func(e Entry) bool { return e.Name == name })
	return entry.Layer, ok
}

// NameOf returns the first display name registered for layer
func (r *Registry) NameOf(layer *Layer) (string, bool) {
	entry, ok := lo.Find(r.entries, func(e Entry) bool { return e.Layer == layer })
	return entry.Name, ok
}

// RemoveLayer drops every entry whose handle is layer and returns the removed names
func (r *Registry) RemoveLayer(layer *Layer) []string {
	removed, kept := lo.FilterReject(r.entries, func(e Entry, _ int) bool { return e.Layer == layer })
	r.entries = kept
	return lo.Map(removed, func(e Entry, _ int) string { return e.Name })
}

// Names returns registered display names in insertion order
func (r *Registry) Names() []string {
	return lo.Map(r.entries, func(e Entry, _ int) string { return e.Name })
}

// Entries returns a copy of the registry contents
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries
func (r *Registry) Len() int {
	return len(r.entries)
}

// Switcher is a layer control listing base layers and toggleable overlays
type Switcher struct {
	Name     string
	Base     *Registry
	Overlays *Registry
}

// NewSwitcher creates an empty switcher
func NewSwitcher(name string) *Switcher {
	return &Switcher{
		Name:     name,
		Base:     NewRegistry(),
		Overlays: NewRegistry(),
	}
}
