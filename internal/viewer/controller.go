// Package viewer owns the map session: the view and its layer switchers, the
// drawn shape, the loaded raster and prediction overlays, and the calls to
// the backend that change them.
package viewer

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/paulmach/orb"
	"golang.org/x/sync/singleflight"

	"sentinel-viewer/internal/backend"
	"sentinel-viewer/internal/config"
	"sentinel-viewer/internal/mapview"
	"sentinel-viewer/internal/raster"
)

var (
	ErrNoShape             = errors.New("no shape drawn")
	ErrNoRaster            = errors.New("no raster loaded")
	ErrNoLink              = errors.New("no share link given")
	ErrStale               = errors.New("result superseded by a newer request")
	ErrUnsupportedGeometry = errors.New("drawn geometry is not a polygon")
	ErrUnknownPrediction   = errors.New("prediction overlay not found")
)

const (
	// PredictionSwitcher lists prediction overlays
	PredictionSwitcher = "predictions"

	MarkerPopup = "Hello from Sentinel Viewer"
)

// Backend is the export and inference server
type Backend interface {
	ExportTIF(ctx context.Context, coords orb.Ring, year string) (*backend.ExportResponse, error)
	DownloadFromDrive(ctx context.Context, link, filename string) ([]byte, error)
	PredictAndShow(ctx context.Context, filename string, file io.Reader, modelName string) (*backend.Prediction, error)
	UploadModel(ctx context.Context, filename string, file io.Reader, meta config.ModelMetadata) (map[string]interface{}, error)
}

// Models is the model registry
type Models interface {
	ListModels(ctx context.Context) ([]backend.Model, error)
	DeleteModel(ctx context.Context, id string) error
}

// Tiles publishes rasters and images to the map frontend
type Tiles interface {
	RegisterRaster(layerID string, r *raster.Raster)
	UnregisterRaster(layerID string)
	RasterURL(layerID string, resolution int) string
	RegisterImage(layerID string, data []byte, contentType string)
	UnregisterImage(layerID string)
	ImageURL(layerID string) string
}

// Notifier shows a blocking message to the user
type Notifier interface {
	Alert(message string)
}

// Saver stores downloaded bytes under a filename and returns where they went
type Saver interface {
	Save(filename string, data []byte) (string, error)
}

// Deps are the collaborators of a Controller. Models may be nil.
type Deps struct {
	Backend  Backend
	Models   Models
	Tiles    Tiles
	Notifier Notifier
	Saver    Saver
}

// State is the session snapshot sent to the frontend
type State struct {
	Map           mapview.State `json:"map"`
	ExportVisible bool          `json:"exportVisible"`
	RasterName    string        `json:"rasterName,omitempty"`
	Predictions   []string      `json:"predictions"`
}

type prediction struct {
	layer       *mapview.Layer
	data        []byte
	contentType string
	number      int
}

// Controller serializes access to the session state. Network calls run
// without holding the lock.
type Controller struct {
	settings *config.UserSettings
	deps     Deps

	mu       sync.Mutex
	view     *mapview.View
	shape    orb.Polygon
	hasShape bool

	rasterLayer *mapview.Layer
	rasterName  string
	rasterSeq   uint64 // last load started
	rasterShown uint64 // load currently on the map
	rasterCount int

	predictions     map[string]*prediction // by display name
	predictionOrder []string
	predictionCount int

	flight   singleflight.Group
	onChange func(State)

	decode func([]byte) (*raster.Raster, error)
}

// New creates a controller with the startup view described by settings
func New(settings *config.UserSettings, deps Deps) (*Controller, error) {
	if deps.Backend == nil || deps.Tiles == nil || deps.Notifier == nil || deps.Saver == nil {
		return nil, errors.New("viewer: backend, tiles, notifier and saver are required")
	}

	view, err := mapview.New(mapview.Options{
		Center:      orb.Point{settings.DefaultCenterLon, settings.DefaultCenterLat},
		Zoom:        settings.DefaultZoom,
		BaseLayers:  settings.BaseLayers,
		DefaultBase: settings.DefaultBaseLayer,
		MarkerPopup: MarkerPopup,
	})
	if err != nil {
		return nil, err
	}

	return &Controller{
		settings:    settings,
		deps:        deps,
		view:        view,
		predictions: make(map[string]*prediction),
		decode:      raster.Decode,
	}, nil
}

// OnChange registers a callback receiving a snapshot after every state change
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// State returns a snapshot of the session
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	s := State{
		Map:           c.view.Snapshot(),
		ExportVisible: c.hasShape,
		RasterName:    c.rasterName,
		Predictions:   append([]string{}, c.predictionOrder...),
	}
	return s
}

// commit releases the lock and reports the new state
func (c *Controller) commit() {
	s := c.stateLocked()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// SetBaseLayer switches the active base layer
func (c *Controller) SetBaseLayer(name string) error {
	c.mu.Lock()
	if err := c.view.SetBaseLayer(name); err != nil {
		c.mu.Unlock()
		return err
	}
	c.commit()
	return nil
}

// ToggleOverlay shows or hides an overlay by display name
func (c *Controller) ToggleOverlay(name string, on bool) error {
	c.mu.Lock()
	if err := c.view.ToggleOverlay(name, on); err != nil {
		c.mu.Unlock()
		return err
	}
	c.commit()
	return nil
}

// SetView records a pan or zoom made in the frontend
func (c *Controller) SetView(lat, lng float64, zoom int) {
	c.mu.Lock()
	c.view.SetView(orb.Point{lng, lat}, zoom)
	c.commit()
}

// SetViewport records the map size used when fitting raster bounds
func (c *Controller) SetViewport(width, height int) {
	c.mu.Lock()
	c.view.SetViewport(width, height)
	c.mu.Unlock()
}

func (c *Controller) alert(msg string) {
	log.Printf("[Viewer] Alert: %s", msg)
	c.deps.Notifier.Alert(msg)
}
