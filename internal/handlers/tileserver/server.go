package tileserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"sentinel-viewer/internal/cache"
	"sentinel-viewer/internal/raster"
)

// TileSize is the edge length of a raster tile on the map grid. Tiles may be
// rendered denser than this via the size query parameter.
const TileSize = 256

// MaxRenderSize bounds the size query parameter
const MaxRenderSize = 1024

// Server serves decoded rasters as XYZ tiles and prediction images to the map
type Server struct {
	tileCache     *cache.TileCache
	tileServerURL string
	devMode       bool

	mu      sync.RWMutex
	rasters map[string]*raster.Raster
	images  map[string]storedImage

	httpServer *http.Server
}

type storedImage struct {
	data        []byte
	contentType string
}

// NewServer creates a new tile server instance
func NewServer(tileCache *cache.TileCache, devMode bool) *Server {
	return &Server{
		tileCache: tileCache,
		devMode:   devMode,
		rasters:   make(map[string]*raster.Raster),
		images:    make(map[string]storedImage),
	}
}

// GetTileServerURL returns the tile server URL
func (s *Server) GetTileServerURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tileServerURL
}

// corsMiddleware adds CORS headers to allow requests from Wails frontend
// On macOS/Linux, Wails uses wails://wails origin which requires CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the routed handler wrapped with CORS
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /raster/{layer}/{z}/{x}/{y}", s.handleRasterTile)
	mux.HandleFunc("GET /overlay/{file}", s.handleOverlay)
	return corsMiddleware(mux)
}

// Start starts the local HTTP server on a random loopback port
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start tile server: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	srv := &http.Server{Handler: s.Handler()}

	s.mu.Lock()
	s.tileServerURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	s.httpServer = srv
	s.mu.Unlock()
	log.Printf("[TileServer] Started on http://127.0.0.1:%d", port)

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[TileServer] Stopped: %v", err)
		}
	}()

	return nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
