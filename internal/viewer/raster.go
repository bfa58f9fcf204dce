package viewer

import (
	"context"
	"fmt"
	"log"

	"sentinel-viewer/internal/mapview"
	"sentinel-viewer/internal/utils/naming"
)

// RasterFile is a GeoTIFF picked by the user
type RasterFile struct {
	Name string
	Data []byte
}

// LoadRaster decodes a GeoTIFF and shows it in place of the current raster.
// A load finishing after a later-started load has already been shown returns
// ErrStale and changes nothing. Failed loads never supersede anything.
func (c *Controller) LoadRaster(ctx context.Context, file RasterFile) (string, error) {
	c.mu.Lock()
	c.rasterSeq++
	seq := c.rasterSeq
	c.mu.Unlock()

	r, err := c.decode(file.Data)
	if err != nil {
		c.alert(fmt.Sprintf("Failed to load %s: %v", file.Name, err))
		return "", fmt.Errorf("failed to decode %s: %w", file.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	if seq < c.rasterShown {
		c.mu.Unlock()
		log.Printf("[Viewer] Discarding stale raster %s", file.Name)
		return "", ErrStale
	}

	if old := c.rasterLayer; old != nil {
		c.removeLayerLocked(old)
		c.deps.Tiles.UnregisterRaster(old.ID)
	}

	layer := mapview.NewRasterLayer("", r.Bounds, c.settings.RasterOpacity, c.settings.RasterResolution)
	c.deps.Tiles.RegisterRaster(layer.ID, r)
	layer.URL = c.deps.Tiles.RasterURL(layer.ID, c.settings.RasterResolution)

	c.rasterCount++
	name := naming.RasterLayerName(c.rasterCount, file.Name)
	if err := c.view.Primary().Overlays.Add(name, layer); err != nil {
		c.mu.Unlock()
		c.deps.Tiles.UnregisterRaster(layer.ID)
		return "", err
	}
	c.view.AddOverlay(layer)
	c.view.FitBounds(r.Bounds)

	c.rasterLayer = layer
	c.rasterName = name
	c.rasterShown = seq
	c.commit()

	log.Printf("[Viewer] Raster layer added: %s", name)
	return name, nil
}

// removeLayerLocked takes a layer off the map and out of every switcher
func (c *Controller) removeLayerLocked(layer *mapview.Layer) {
	c.view.RemoveOverlay(layer)
	for _, s := range c.view.Switchers() {
		s.Overlays.RemoveLayer(layer)
	}
}
