package tileserver

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"sentinel-viewer/internal/cache"
	"sentinel-viewer/internal/raster"
)

var (
	transparentOnce sync.Once
	transparentPNG  []byte
)

// RegisterRaster makes a decoded raster available under the layer ID
func (s *Server) RegisterRaster(layerID string, r *raster.Raster) {
	s.mu.Lock()
	s.rasters[layerID] = r
	s.mu.Unlock()
	log.Printf("[TileServer] Registered raster %s (%dx%d)", layerID, r.Width, r.Height)
}

// UnregisterRaster removes a raster and its cached tiles
func (s *Server) UnregisterRaster(layerID string) {
	s.mu.Lock()
	_, ok := s.rasters[layerID]
	delete(s.rasters, layerID)
	s.mu.Unlock()

	if ok && s.tileCache != nil {
		s.tileCache.PurgeLayer(layerID)
	}
}

// RasterURL returns the Leaflet URL template for a registered raster. Tiles
// stay on the 256 px grid; resolution is the rendered pixel density.
func (s *Server) RasterURL(layerID string, resolution int) string {
	url := fmt.Sprintf("%s/raster/%s/{z}/{x}/{y}.png", s.GetTileServerURL(), layerID)
	if resolution > 0 && resolution != TileSize {
		url += "?size=" + strconv.Itoa(resolution)
	}
	return url
}

// handleRasterTile serves raster tiles with in-memory caching
// URL format: /raster/{layer}/{z}/{x}/{y}.png[?size=N]
func (s *Server) handleRasterTile(w http.ResponseWriter, r *http.Request) {
	layerID := r.PathValue("layer")

	z, err := strconv.Atoi(r.PathValue("z"))
	if err != nil {
		http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		return
	}
	x, err := strconv.Atoi(r.PathValue("x"))
	if err != nil {
		http.Error(w, "Invalid X coordinate", http.StatusBadRequest)
		return
	}
	y, err := strconv.Atoi(strings.TrimSuffix(r.PathValue("y"), ".png"))
	if err != nil {
		http.Error(w, "Invalid Y coordinate", http.StatusBadRequest)
		return
	}

	size := TileSize
	if v := r.URL.Query().Get("size"); v != "" {
		size, err = strconv.Atoi(v)
		if err != nil || size <= 0 || size > MaxRenderSize {
			http.Error(w, "Invalid tile size", http.StatusBadRequest)
			return
		}
	}

	s.mu.RLock()
	ras, ok := s.rasters[layerID]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown raster layer %s", layerID), http.StatusNotFound)
		return
	}

	key := cache.TileKey{Layer: layerID, Z: z, X: x, Y: y, Size: size}
	if s.tileCache != nil {
		if data, found := s.tileCache.Get(key); found {
			if s.devMode {
				log.Printf("[TileServer] Cache hit: %s", key)
			}
			writePNG(w, data, "HIT")
			return
		}
	}

	tile, err := raster.RenderTile(ras, z, x, y, size)
	if errors.Is(err, raster.ErrTileOutside) {
		s.serveTransparentTile(w)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, tile); err != nil {
		http.Error(w, "Failed to encode tile", http.StatusInternalServerError)
		return
	}

	if s.tileCache != nil {
		s.tileCache.Set(key, buf.Bytes())
	}
	writePNG(w, buf.Bytes(), "MISS")
}

// serveTransparentTile writes an empty tile for areas outside the raster
func (s *Server) serveTransparentTile(w http.ResponseWriter) {
	transparentOnce.Do(func() {
		var buf bytes.Buffer
		png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize)))
		transparentPNG = buf.Bytes()
	})
	writePNG(w, transparentPNG, "EMPTY")
}

func writePNG(w http.ResponseWriter, data []byte, status string) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Cache-Status", status)
	w.Write(data)
}
