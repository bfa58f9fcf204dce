package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// BaseLayer represents a background tile layer offered in the layer switcher
type BaseLayer struct {
	Name        string `json:"name"`
	URL         string `json:"url"` // XYZ template, e.g. https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png
	MaxZoom     int    `json:"maxZoom"`
	Attribution string `json:"attribution,omitempty"`
}

// ModelMetadata is the fixed metadata record attached to every model upload
type ModelMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Framework   string   `json:"framework"`
}

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Backend settings
	BackendURL       string `json:"backendURL"`
	ModelRegistryURL string `json:"modelRegistryURL"`

	// Download settings
	DownloadPath        string `json:"downloadPath"`
	AutoOpenDownloadDir bool   `json:"autoOpenDownloadDir"`

	// Default map settings
	DefaultZoom      int         `json:"defaultZoom"`
	DefaultCenterLat float64     `json:"defaultCenterLat"`
	DefaultCenterLon float64     `json:"defaultCenterLon"`
	DefaultBaseLayer string      `json:"defaultBaseLayer"`
	BaseLayers       []BaseLayer `json:"baseLayers"`

	// Overlay rendering
	RasterOpacity     float64 `json:"rasterOpacity"`
	RasterResolution  int     `json:"rasterResolution"` // tile size in pixels
	PredictionOpacity float64 `json:"predictionOpacity"`
	RenderCacheTiles  int     `json:"renderCacheTiles"`

	// Form defaults
	DefaultYear     string `json:"defaultYear"`
	DefaultFilename string `json:"defaultFilename"`

	// Model upload
	ModelMetadata ModelMetadata `json:"modelMetadata"`
}

// DefaultBaseLayers returns the two stock base layers
func DefaultBaseLayers() []BaseLayer {
	return []BaseLayer{
		{
			Name:        "OpenStreetMap",
			URL:         "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			MaxZoom:     19,
			Attribution: "&copy; OpenStreetMap contributors",
		},
		{
			Name:        "Stamen Toner",
			URL:         "https://stamen-tiles.a.ssl.fastly.net/toner/{z}/{x}/{y}.png",
			MaxZoom:     20,
			Attribution: "Map tiles by Stamen Design",
		},
	}
}

// DefaultModelMetadata returns the metadata sent with uploaded models
func DefaultModelMetadata() ModelMetadata {
	return ModelMetadata{
		Name:        "MOE System Final",
		Description: "Multi-Output Encoder system in ONNX format.",
		Tags:        []string{"segmentation", "remote sensing", "onnx"},
		Framework:   "onnx",
	}
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	homeDir, _ := os.UserHomeDir()
	downloadPath := filepath.Join(homeDir, "Downloads", "sentinel")

	return &UserSettings{
		BackendURL:          "http://localhost:5001",
		ModelRegistryURL:    "http://localhost:8000",
		DownloadPath:        downloadPath,
		AutoOpenDownloadDir: true,
		DefaultZoom:         13,
		DefaultCenterLat:    36.81897, // Tunis
		DefaultCenterLon:    10.16579,
		DefaultBaseLayer:    "OpenStreetMap",
		BaseLayers:          DefaultBaseLayers(),
		RasterOpacity:       0.7,
		RasterResolution:    256,
		PredictionOpacity:   0.6,
		RenderCacheTiles:    512,
		DefaultYear:         "2020",
		DefaultFilename:     "image.tif",
		ModelMetadata:       DefaultModelMetadata(),
	}
}

// GetSettingsPath returns the OS-specific settings file path
func GetSettingsPath() string {
	homeDir, _ := os.UserHomeDir()

	baseDir := filepath.Join(homeDir, ".sentinel-viewer", "settings")
	os.MkdirAll(baseDir, 0755)

	return filepath.Join(baseDir, "settings.json")
}

// LoadSettings loads user settings from the default location
func LoadSettings() (*UserSettings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom loads user settings from path, returning defaults if the file is missing
func LoadSettingsFrom(settingsPath string) (*UserSettings, error) {
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Merge with defaults for any missing fields
	defaults := DefaultSettings()
	if settings.BackendURL == "" {
		settings.BackendURL = defaults.BackendURL
	}
	if settings.ModelRegistryURL == "" {
		settings.ModelRegistryURL = defaults.ModelRegistryURL
	}
	if settings.DownloadPath == "" {
		settings.DownloadPath = defaults.DownloadPath
	}
	if settings.DefaultZoom == 0 {
		settings.DefaultZoom = defaults.DefaultZoom
	}
	if settings.DefaultCenterLat == 0 && settings.DefaultCenterLon == 0 {
		settings.DefaultCenterLat = defaults.DefaultCenterLat
		settings.DefaultCenterLon = defaults.DefaultCenterLon
	}
	if len(settings.BaseLayers) == 0 {
		settings.BaseLayers = defaults.BaseLayers
	}
	if settings.DefaultBaseLayer == "" {
		settings.DefaultBaseLayer = settings.BaseLayers[0].Name
	}
	if settings.RasterOpacity == 0 {
		settings.RasterOpacity = defaults.RasterOpacity
	}
	if settings.RasterResolution == 0 {
		settings.RasterResolution = defaults.RasterResolution
	}
	if settings.PredictionOpacity == 0 {
		settings.PredictionOpacity = defaults.PredictionOpacity
	}
	if settings.RenderCacheTiles == 0 {
		settings.RenderCacheTiles = defaults.RenderCacheTiles
	}
	if settings.DefaultYear == "" {
		settings.DefaultYear = defaults.DefaultYear
	}
	if settings.DefaultFilename == "" {
		settings.DefaultFilename = defaults.DefaultFilename
	}
	if settings.ModelMetadata.Name == "" {
		settings.ModelMetadata = defaults.ModelMetadata
	}

	return &settings, nil
}

// SaveSettings saves user settings to the default location
func SaveSettings(settings *UserSettings) error {
	return SaveSettingsTo(GetSettingsPath(), settings)
}

// SaveSettingsTo validates settings and writes them to path
func SaveSettingsTo(settingsPath string, settings *UserSettings) error {
	if err := Validate(settings); err != nil {
		return err
	}

	dir := filepath.Dir(settingsPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// Validate checks a settings value for inconsistent fields
func Validate(settings *UserSettings) error {
	if settings == nil {
		return fmt.Errorf("settings are required")
	}
	if settings.BackendURL == "" {
		return fmt.Errorf("backend URL is required")
	}
	u, err := url.Parse(settings.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend URL: %s", settings.BackendURL)
	}
	if settings.DownloadPath == "" {
		return fmt.Errorf("download path cannot be empty")
	}
	if settings.RasterOpacity < 0 || settings.RasterOpacity > 1 {
		return fmt.Errorf("raster opacity must be between 0 and 1")
	}
	if settings.PredictionOpacity < 0 || settings.PredictionOpacity > 1 {
		return fmt.Errorf("prediction opacity must be between 0 and 1")
	}
	if settings.RasterResolution <= 0 {
		return fmt.Errorf("raster resolution must be positive")
	}
	if len(settings.BaseLayers) == 0 {
		return fmt.Errorf("at least one base layer is required")
	}

	seen := make(map[string]bool)
	for _, layer := range settings.BaseLayers {
		if layer.Name == "" {
			return fmt.Errorf("base layer name is required")
		}
		if layer.URL == "" {
			return fmt.Errorf("base layer %s has no URL", layer.Name)
		}
		if seen[layer.Name] {
			return fmt.Errorf("base layer with name '%s' already exists", layer.Name)
		}
		seen[layer.Name] = true
	}
	if !seen[settings.DefaultBaseLayer] {
		return fmt.Errorf("default base layer '%s' not found", settings.DefaultBaseLayer)
	}

	return nil
}
