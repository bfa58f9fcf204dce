package naming

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RasterLayerName is the registry name of the n-th loaded raster
func RasterLayerName(n int, file string) string {
	return fmt.Sprintf("TIF Layer %d: %s", n, file)
}

// PredictionOverlayName is the registry name of the n-th prediction overlay
func PredictionOverlayName(n int) string {
	return fmt.Sprintf("Prediction Overlay %d", n)
}

// DownloadFilename trims a user supplied filename down to its base name and
// falls back to def when nothing usable is left
func DownloadFilename(name, def string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.FromSlash(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return def
	}
	return name
}

// GeneratePredictionFilename creates a standardized filename for a saved overlay
// Format: prediction_{n}_{quadkey}_z{zoom}_{bbox}.tif
func GeneratePredictionFilename(n int, quadkey string, zoom int, bbox string) string {
	return fmt.Sprintf("prediction_%d_%s_z%d_%s.tif", n, quadkey, zoom, bbox)
}
