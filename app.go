package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/posthog/posthog-go"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"sentinel-viewer/internal/backend"
	"sentinel-viewer/internal/cache"
	"sentinel-viewer/internal/config"
	"sentinel-viewer/internal/downloads"
	"sentinel-viewer/internal/handlers/tileserver"
	"sentinel-viewer/internal/viewer"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// stateDebounce coalesces bursts of map-state events, e.g. while panning
const stateDebounce = 50 * time.Millisecond

// App struct
type App struct {
	ctx        context.Context
	settings   *config.UserSettings
	mu         sync.Mutex
	devMode    bool // Enable verbose logging in dev mode only
	phClient   posthog.Client
	tileCache  *cache.TileCache
	tileServer *tileserver.Server
	saver      *downloads.DirSaver
	controller *viewer.Controller

	emitState func(func())
	stateMu   sync.Mutex
	lastState viewer.State
}

// NewApp creates a new App application struct
func NewApp() *App {
	settings, err := config.LoadSettings()
	if err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
		settings = config.DefaultSettings()
	}
	log.Printf("Settings loaded from: %s", config.GetSettingsPath())

	tileCache, err := cache.NewTileCache(settings.RenderCacheTiles)
	if err != nil {
		log.Printf("Failed to initialize tile cache: %v", err)
		tileCache = nil // Continue without cache
	} else {
		log.Printf("Tile cache initialized (max %d tiles)", settings.RenderCacheTiles)
	}

	var phClient posthog.Client
	if PostHogKey != "" {
		client, err := posthog.NewWithConfig(PostHogKey, posthog.Config{Endpoint: PostHogHost})
		if err != nil {
			log.Printf("Failed to initialize PostHog: %v", err)
		} else {
			phClient = client
		}
	}

	return &App{
		settings:  settings,
		phClient:  phClient,
		tileCache: tileCache,
		saver:     downloads.NewDirSaver(settings.DownloadPath),
		emitState: debounce.New(stateDebounce),
	}
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	a.tileServer = tileserver.NewServer(a.tileCache, a.devMode)
	if err := a.tileServer.Start(); err != nil {
		wailsRuntime.LogError(ctx, fmt.Sprintf("Failed to start tile server: %v", err))
	}

	controller, err := viewer.New(a.settings, viewer.Deps{
		Backend:  backend.NewClient(a.settings.BackendURL),
		Models:   backend.NewModelRegistry(a.settings.ModelRegistryURL, nil),
		Tiles:    a.tileServer,
		Notifier: &dialogNotifier{app: a},
		Saver:    a.saver,
	})
	if err != nil {
		wailsRuntime.LogError(ctx, fmt.Sprintf("Failed to create map controller: %v", err))
		return
	}
	controller.OnChange(a.publishState)
	a.controller = controller
	wailsRuntime.LogInfo(ctx, fmt.Sprintf("Map controller ready, backend %s", a.settings.BackendURL))

	a.TrackEvent("app_started", map[string]interface{}{
		"version": a.GetAppVersion(),
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})
}

// shutdown cleans up resources
func (a *App) shutdown(ctx context.Context) {
	if a.tileServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.tileServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Tile server shutdown: %v", err)
		}
	}
	if a.phClient != nil {
		a.phClient.Close()
	}
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient != nil {
		a.phClient.Enqueue(posthog.Capture{
			DistinctId: "backend_user",
			Event:      event,
			Properties: props,
		})
	}
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

// publishState forwards controller snapshots to the frontend
func (a *App) publishState(s viewer.State) {
	a.stateMu.Lock()
	a.lastState = s
	a.stateMu.Unlock()

	a.emitState(func() {
		a.stateMu.Lock()
		latest := a.lastState
		a.stateMu.Unlock()
		wailsRuntime.EventsEmit(a.ctx, "map-state", latest)
	})
}

// emitLog sends a log message to the frontend (only in dev mode)
func (a *App) emitLog(message string) {
	log.Print(message)
	if a.devMode {
		wailsRuntime.EventsEmit(a.ctx, "log", message)
	}
}

func (a *App) ready() error {
	if a.controller == nil {
		return errors.New("map controller not initialized")
	}
	return nil
}

// dialogNotifier shows controller alerts as native message boxes
type dialogNotifier struct {
	app *App
}

func (n *dialogNotifier) Alert(message string) {
	_, err := wailsRuntime.MessageDialog(n.app.ctx, wailsRuntime.MessageDialogOptions{
		Type:    wailsRuntime.InfoDialog,
		Title:   "Sentinel Viewer",
		Message: message,
	})
	if err != nil {
		wailsRuntime.LogError(n.app.ctx, fmt.Sprintf("Failed to show dialog: %v", err))
	}
}

// ===================
// Map state
// ===================

// GetState returns the current map session
func (a *App) GetState() (viewer.State, error) {
	if err := a.ready(); err != nil {
		return viewer.State{}, err
	}
	return a.controller.State(), nil
}

// GetTileServerURL returns the tile server URL
func (a *App) GetTileServerURL() string {
	if a.tileServer == nil {
		return ""
	}
	return a.tileServer.GetTileServerURL()
}

// GetCacheStats returns rendered tile cache statistics
func (a *App) GetCacheStats() cache.Stats {
	if a.tileCache == nil {
		return cache.Stats{}
	}
	return a.tileCache.Stats()
}

// ClearTileCache drops every rendered raster tile
func (a *App) ClearTileCache() {
	if a.tileCache != nil {
		a.tileCache.Clear()
		a.emitLog("[Cache] Rendered tile cache cleared")
	}
}

// SetBaseLayer switches the background imagery
func (a *App) SetBaseLayer(name string) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.controller.SetBaseLayer(name)
}

// ToggleOverlay shows or hides an overlay from a layer switcher
func (a *App) ToggleOverlay(name string, on bool) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.controller.ToggleOverlay(name, on)
}

// SetView records the map position after a pan or zoom
func (a *App) SetView(lat, lng float64, zoom int) error {
	if err := a.ready(); err != nil {
		return err
	}
	a.controller.SetView(lat, lng, zoom)
	return nil
}

// SetViewport records the map size in pixels
func (a *App) SetViewport(width, height int) error {
	if err := a.ready(); err != nil {
		return err
	}
	a.controller.SetViewport(width, height)
	return nil
}

// ===================
// Draw and export
// ===================

// HandleDrawComplete receives the GeoJSON of a shape finished in the draw control
func (a *App) HandleDrawComplete(feature string) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.controller.HandleDrawComplete([]byte(feature))
}

// ExportShape exports the drawn shape for a year. On success the frontend
// receives an export-ready event and asks for the share link.
func (a *App) ExportShape(year string) (*viewer.ExportResult, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}

	res, err := a.controller.ExportShape(a.ctx, viewer.ExportRequest{Year: year})
	if err != nil {
		a.TrackEvent("export_failed", map[string]interface{}{"year": year})
		return nil, err
	}

	a.emitLog(fmt.Sprintf("Export finished: %s", res.Filename))
	wailsRuntime.EventsEmit(a.ctx, "export-ready", res)
	a.TrackEvent("export_completed", map[string]interface{}{"year": year})
	return res, nil
}

// DownloadExport downloads a shared export into the download folder.
// An empty link is a cancelled prompt and returns an empty path.
func (a *App) DownloadExport(link, filename string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}

	path, err := a.controller.DownloadExport(a.ctx, viewer.DownloadRequest{Link: link, Filename: filename})
	if errors.Is(err, viewer.ErrNoLink) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	a.TrackEvent("download_completed", nil)
	a.mu.Lock()
	autoOpen := a.settings.AutoOpenDownloadDir
	a.mu.Unlock()
	if autoOpen {
		if err := a.OpenDownloadFolder(); err != nil {
			log.Printf("Failed to open download folder: %v", err)
		}
	}
	return path, nil
}

// ===================
// Rasters and inference
// ===================

var rasterFilters = []wailsRuntime.FileFilter{
	{DisplayName: "GeoTIFF (*.tif, *.tiff)", Pattern: "*.tif;*.tiff"},
}

// selectFile shows an open dialog and reads the chosen file. An empty name
// means the dialog was cancelled.
func (a *App) selectFile(title string, filters []wailsRuntime.FileFilter) (string, []byte, error) {
	path, err := wailsRuntime.OpenFileDialog(a.ctx, wailsRuntime.OpenDialogOptions{
		Title:   title,
		Filters: filters,
	})
	if err != nil || path == "" {
		return "", nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return filepath.Base(path), data, nil
}

// SelectAndLoadRaster lets the user pick a GeoTIFF and shows it on the map
func (a *App) SelectAndLoadRaster() (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}

	name, data, err := a.selectFile("Select GeoTIFF", rasterFilters)
	if err != nil || name == "" {
		return "", err
	}

	layer, err := a.controller.LoadRaster(a.ctx, viewer.RasterFile{Name: name, Data: data})
	if errors.Is(err, viewer.ErrStale) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	a.emitLog(fmt.Sprintf("Raster loaded: %s", layer))
	a.TrackEvent("raster_loaded", map[string]interface{}{"sizeBytes": len(data)})
	return layer, nil
}

// SelectAndRunInference lets the user pick a GeoTIFF, shows it, and overlays
// the model's prediction for it
func (a *App) SelectAndRunInference(modelName string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}

	name, data, err := a.selectFile("Select GeoTIFF for inference", rasterFilters)
	if err != nil || name == "" {
		return "", err
	}

	overlay, err := a.controller.RunInference(a.ctx, viewer.InferenceRequest{
		Name:         name,
		Data:         data,
		ModelName:    modelName,
		LoadAsRaster: true,
	})
	if errors.Is(err, viewer.ErrStale) {
		return "", nil
	}
	if err != nil {
		a.TrackEvent("inference_failed", map[string]interface{}{"model": modelName})
		return "", err
	}

	a.emitLog(fmt.Sprintf("%s added for model %s", overlay, modelName))
	a.TrackEvent("inference_completed", map[string]interface{}{"model": modelName})
	return overlay, nil
}

// RemovePrediction drops a prediction overlay
func (a *App) RemovePrediction(name string) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.controller.RemovePrediction(name)
}

// SavePrediction writes a prediction overlay as a GeoTIFF into the download folder
func (a *App) SavePrediction(name string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}
	path, err := a.controller.SavePredictionGeoTIFF(name)
	if err != nil {
		return "", err
	}
	a.TrackEvent("prediction_saved", nil)
	return path, nil
}

// ===================
// Models
// ===================

// SelectAndUploadModel lets the user pick a model artifact and uploads it
func (a *App) SelectAndUploadModel() error {
	if err := a.ready(); err != nil {
		return err
	}

	name, data, err := a.selectFile("Select model", []wailsRuntime.FileFilter{
		{DisplayName: "Models (*.onnx, *.pt, *.pth, *.h5)", Pattern: "*.onnx;*.pt;*.pth;*.h5"},
		{DisplayName: "All files", Pattern: "*.*"},
	})
	if err != nil || name == "" {
		return err
	}

	if err := a.controller.UploadModel(a.ctx, viewer.ModelFile{Name: name, Data: data}); err != nil {
		return err
	}
	a.TrackEvent("model_uploaded", map[string]interface{}{"sizeBytes": len(data)})
	return nil
}

// ListModels returns the models in the registry
func (a *App) ListModels() ([]backend.Model, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.controller.ListModels(a.ctx)
}

// DeleteModel removes a model from the registry
func (a *App) DeleteModel(id string) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.controller.DeleteModel(a.ctx, id)
}

// ===================
// Download folder
// ===================

// GetDownloadPath returns the current download directory
func (a *App) GetDownloadPath() string {
	return a.saver.Dir()
}

// SelectDownloadFolder opens a folder picker dialog
func (a *App) SelectDownloadFolder() (string, error) {
	path, err := wailsRuntime.OpenDirectoryDialog(a.ctx, wailsRuntime.OpenDialogOptions{
		Title:            "Select Download Folder",
		DefaultDirectory: a.saver.Dir(),
	})
	if err != nil {
		return "", err
	}

	if path != "" {
		a.saver.SetDir(path)
	}
	return path, nil
}

// OpenDownloadFolder opens the download folder in the system file manager
func (a *App) OpenDownloadFolder() error {
	dir := a.saver.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", dir)
	case "windows":
		cmd = exec.Command("explorer", dir)
	default: // Linux and others
		cmd = exec.Command("xdg-open", dir)
	}
	return cmd.Start()
}
