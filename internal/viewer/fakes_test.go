package viewer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/paulmach/orb"

	"sentinel-viewer/internal/backend"
	"sentinel-viewer/internal/config"
	"sentinel-viewer/internal/raster"
	"sentinel-viewer/pkg/geotiff"
)

type fakeBackend struct {
	mu sync.Mutex

	exportCalls   int
	exportCoords  orb.Ring
	exportYear    string
	exportYears   []string
	exportResp    *backend.ExportResponse
	exportErr     error
	exportStarted chan struct{}
	exportRelease chan struct{}

	downloadCalls    int
	downloadLink     string
	downloadFilename string
	downloadData     []byte
	downloadErr      error

	predictCalls   int
	predictModel   string
	predictData    []byte
	predictErr     error
	predictStarted chan struct{}
	predictRelease chan struct{}

	uploadCalls   int
	uploadMeta    config.ModelMetadata
	uploadFile    string
	uploadFiles   []string
	uploadErr     error
	uploadStarted chan struct{}
	uploadRelease chan struct{}
}

func (b *fakeBackend) ExportTIF(ctx context.Context, coords orb.Ring, year string) (*backend.ExportResponse, error) {
	b.mu.Lock()
	b.exportCalls++
	b.exportCoords = coords
	b.exportYear = year
	b.exportYears = append(b.exportYears, year)
	signal(b.exportStarted)
	release := b.exportRelease
	b.mu.Unlock()

	if release != nil {
		<-release
	}
	if b.exportErr != nil {
		return nil, b.exportErr
	}
	if b.exportResp != nil {
		return b.exportResp, nil
	}
	return &backend.ExportResponse{Status: "success", Filename: "export"}, nil
}

func (b *fakeBackend) DownloadFromDrive(ctx context.Context, link, filename string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.downloadCalls++
	b.downloadLink = link
	b.downloadFilename = filename
	return b.downloadData, b.downloadErr
}

func (b *fakeBackend) PredictAndShow(ctx context.Context, filename string, file io.Reader, modelName string) (*backend.Prediction, error) {
	b.mu.Lock()
	b.predictCalls++
	b.predictModel = modelName
	signal(b.predictStarted)
	release := b.predictRelease
	b.mu.Unlock()

	if release != nil {
		<-release
	}
	if b.predictErr != nil {
		return nil, b.predictErr
	}
	return &backend.Prediction{Data: b.predictData, ContentType: "image/png"}, nil
}

func (b *fakeBackend) UploadModel(ctx context.Context, filename string, file io.Reader, meta config.ModelMetadata) (map[string]interface{}, error) {
	b.mu.Lock()
	b.uploadCalls++
	b.uploadMeta = meta
	b.uploadFile = filename
	b.uploadFiles = append(b.uploadFiles, filename)
	signal(b.uploadStarted)
	release := b.uploadRelease
	b.mu.Unlock()

	if release != nil {
		<-release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return nil, b.uploadErr
	}
	return map[string]interface{}{"status": "ok"}, nil
}

// signal closes ch once; callers hold b.mu
func signal(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (b *fakeBackend) calls() (export, download, predict, upload int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exportCalls, b.downloadCalls, b.predictCalls, b.uploadCalls
}

type fakeTiles struct {
	mu      sync.Mutex
	rasters map[string]*raster.Raster
	images  map[string][]byte
}

func newFakeTiles() *fakeTiles {
	return &fakeTiles{rasters: map[string]*raster.Raster{}, images: map[string][]byte{}}
}

func (t *fakeTiles) RegisterRaster(id string, r *raster.Raster) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rasters[id] = r
}

func (t *fakeTiles) UnregisterRaster(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rasters, id)
}

func (t *fakeTiles) RasterURL(id string, resolution int) string {
	return fmt.Sprintf("http://tiles/raster/%s/{z}/{x}/{y}.png?size=%d", id, resolution)
}

func (t *fakeTiles) RegisterImage(id string, data []byte, contentType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.images[id] = data
}

func (t *fakeTiles) UnregisterImage(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.images, id)
}

func (t *fakeTiles) ImageURL(id string) string {
	return "http://tiles/overlay/" + id + ".png"
}

func (t *fakeTiles) counts() (rasters, images int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rasters), len(t.images)
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *fakeNotifier) Alert(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, msg)
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.alerts...)
}

type fakeSaver struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (s *fakeSaver) Save(filename string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	s.files[filename] = data
	return "/downloads/" + filename, nil
}

type fakeModels struct {
	deleted []string
}

func (m *fakeModels) ListModels(ctx context.Context) ([]backend.Model, error) {
	return []backend.Model{{ID: "1", Name: "unet"}}, nil
}

func (m *fakeModels) DeleteModel(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type harness struct {
	c        *Controller
	backend  *fakeBackend
	tiles    *fakeTiles
	notifier *fakeNotifier
	saver    *fakeSaver
	models   *fakeModels
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:  &fakeBackend{},
		tiles:    newFakeTiles(),
		notifier: &fakeNotifier{},
		saver:    &fakeSaver{},
		models:   &fakeModels{},
	}
	c, err := New(config.DefaultSettings(), Deps{
		Backend:  h.backend,
		Models:   h.models,
		Tiles:    h.tiles,
		Notifier: h.notifier,
		Saver:    h.saver,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.c = c
	return h
}

// geoTIFF returns a small EPSG:4326 GeoTIFF whose top-left corner is (lon, lat)
func geoTIFF(t *testing.T, lon, lat float64) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []byte{120, 90, 60, 255})
	}
	var buf bytes.Buffer
	if err := geotiff.Encode(&buf, img, geotiff.GeoTags(geotiff.GeographicKeys(), lon, lat, 0.01, 0.01)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: uint8(255 * ((x + y) % 2))})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func polygonFeature(offset float64) []byte {
	return []byte(fmt.Sprintf(`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[%[1]g,36],[%[2]g,36],[%[2]g,37],[%[1]g,37],[%[1]g,36]]]}}`, 10+offset, 10.5+offset))
}
