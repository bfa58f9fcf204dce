package tileserver

import (
	"fmt"
	"log"
	"net/http"
	"strings"
)

// RegisterImage stores prediction image bytes served under the layer ID
func (s *Server) RegisterImage(layerID string, data []byte, contentType string) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	s.mu.Lock()
	s.images[layerID] = storedImage{data: data, contentType: contentType}
	s.mu.Unlock()
	log.Printf("[TileServer] Registered image %s (%d bytes, %s)", layerID, len(data), contentType)
}

// UnregisterImage drops stored image bytes
func (s *Server) UnregisterImage(layerID string) {
	s.mu.Lock()
	delete(s.images, layerID)
	s.mu.Unlock()
}

// ImageURL returns the local URL of a registered image
func (s *Server) ImageURL(layerID string) string {
	return fmt.Sprintf("%s/overlay/%s.png", s.GetTileServerURL(), layerID)
}

// handleOverlay serves stored image bytes
// URL format: /overlay/{layer}.png
func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	layerID := strings.TrimSuffix(r.PathValue("file"), ".png")

	s.mu.RLock()
	img, ok := s.images[layerID]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown overlay %s", layerID), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", img.contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(img.data)
}
