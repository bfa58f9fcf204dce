package viewer

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinel-viewer/internal/backend"
	"sentinel-viewer/internal/config"
	"sentinel-viewer/internal/mapview"
	"sentinel-viewer/internal/raster"
)

func overlayNames(s State, switcher string) []string {
	for _, sw := range s.Map.Switchers {
		if sw.Name != switcher {
			continue
		}
		var names []string
		for _, o := range sw.Overlays {
			names = append(names, o.Name)
		}
		return names
	}
	return nil
}

func findOverlay(s State, name string) (mapview.LayerState, bool) {
	for _, sw := range s.Map.Switchers {
		for _, o := range sw.Overlays {
			if o.Name == name {
				return o, true
			}
		}
	}
	return mapview.LayerState{}, false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(config.DefaultSettings(), Deps{}); err == nil {
		t.Error("expected error without collaborators")
	}
}

func TestStartupState(t *testing.T) {
	h := newHarness(t)
	s := h.c.State()

	if s.ExportVisible {
		t.Error("export control visible before drawing")
	}
	if s.Map.BaseLayer != "OpenStreetMap" || s.Map.Zoom != 13 {
		t.Errorf("base %q zoom %d", s.Map.BaseLayer, s.Map.Zoom)
	}
	if got := overlayNames(s, mapview.PrimarySwitcher); !equalStrings(got, []string{mapview.MarkerName, mapview.DrawnShapesName}) {
		t.Errorf("overlays = %v", got)
	}
	if len(s.Predictions) != 0 {
		t.Errorf("predictions = %v", s.Predictions)
	}
}

func TestDrawOverwritesShape(t *testing.T) {
	h := newHarness(t)

	if err := h.c.HandleDrawComplete(polygonFeature(0)); err != nil {
		t.Fatal(err)
	}
	if err := h.c.HandleDrawComplete(polygonFeature(1)); err != nil {
		t.Fatal(err)
	}
	if !h.c.State().ExportVisible {
		t.Error("export control should be visible")
	}

	if _, err := h.c.ExportShape(context.Background(), ExportRequest{Year: "2021"}); err != nil {
		t.Fatal(err)
	}
	if h.backend.exportCoords[0][0] != 11 {
		t.Errorf("exported ring starts at %v, want the second shape", h.backend.exportCoords[0])
	}
	if h.backend.exportYear != "2021" {
		t.Errorf("year = %q", h.backend.exportYear)
	}

	drawn, _ := findOverlay(h.c.State(), mapview.DrawnShapesName)
	if n := strings.Count(string(drawn.Features), `"Polygon"`); n != 2 {
		t.Errorf("drawn group holds %d polygons, want 2", n)
	}
}

func TestDrawAcceptsBareGeometry(t *testing.T) {
	h := newHarness(t)
	geom := `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`
	if err := h.c.HandleDrawComplete([]byte(geom)); err != nil {
		t.Fatal(err)
	}
	if !h.c.State().ExportVisible {
		t.Error("export control should be visible")
	}
}

func TestDrawRejectsOtherGeometry(t *testing.T) {
	h := newHarness(t)

	err := h.c.HandleDrawComplete([]byte(`{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}`))
	if !errors.Is(err, ErrUnsupportedGeometry) {
		t.Errorf("point: got %v", err)
	}
	if err := h.c.HandleDrawComplete([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if h.c.State().ExportVisible {
		t.Error("rejected shapes must not enable export")
	}
}

func TestExportWithoutShape(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.ExportShape(context.Background(), ExportRequest{Year: "2020"})
	if !errors.Is(err, ErrNoShape) {
		t.Fatalf("err = %v", err)
	}
	if export, _, _, _ := h.backend.calls(); export != 0 {
		t.Errorf("backend called %d times", export)
	}
	if got := h.notifier.all(); !equalStrings(got, []string{"Draw a shape first!"}) {
		t.Errorf("alerts = %v", got)
	}
}

func TestExportDefaultsYear(t *testing.T) {
	h := newHarness(t)
	h.c.HandleDrawComplete(polygonFeature(0))

	res, err := h.c.ExportShape(context.Background(), ExportRequest{Year: "  "})
	if err != nil {
		t.Fatal(err)
	}
	if h.backend.exportYear != "2020" {
		t.Errorf("year = %q, want default", h.backend.exportYear)
	}
	if res.Status != "success" || res.Filename != "export" {
		t.Errorf("result = %+v", res)
	}
	if len(h.notifier.all()) != 0 {
		t.Errorf("unexpected alerts %v", h.notifier.all())
	}
}

func TestExportFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		alert string
	}{
		{"remote", &backend.RemoteError{Op: "export", StatusCode: 500, Message: "quota exceeded"}, "Export failed: quota exceeded"},
		{"transport", &backend.TransportError{Op: "export", Err: errors.New("connection refused")}, "Error: export: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.c.HandleDrawComplete(polygonFeature(0))
			h.backend.exportErr = tt.err

			if _, err := h.c.ExportShape(context.Background(), ExportRequest{}); !errors.Is(err, tt.err) {
				t.Errorf("err = %v", err)
			}
			if got := h.notifier.all(); !equalStrings(got, []string{tt.alert}) {
				t.Errorf("alerts = %v, want %q", got, tt.alert)
			}
		})
	}
}

func TestExportSingleFlight(t *testing.T) {
	h := newHarness(t)
	h.c.HandleDrawComplete(polygonFeature(0))
	h.backend.exportStarted = make(chan struct{})
	h.backend.exportRelease = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*ExportResult, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = h.c.ExportShape(context.Background(), ExportRequest{})
	}()
	<-h.backend.exportStarted

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = h.c.ExportShape(context.Background(), ExportRequest{})
	}()
	time.Sleep(100 * time.Millisecond)
	close(h.backend.exportRelease)
	wg.Wait()

	if export, _, _, _ := h.backend.calls(); export != 1 {
		t.Errorf("backend called %d times, want 1", export)
	}
	if results[0] == nil || results[1] == nil || results[0].Filename != results[1].Filename {
		t.Errorf("results = %+v %+v", results[0], results[1])
	}
}

func TestExportDifferentInputsNotMerged(t *testing.T) {
	tests := []struct {
		name   string
		second func(h *harness) (*ExportResult, error)
	}{
		{
			name: "different year",
			second: func(h *harness) (*ExportResult, error) {
				return h.c.ExportShape(context.Background(), ExportRequest{Year: "2023"})
			},
		},
		{
			name: "different shape",
			second: func(h *harness) (*ExportResult, error) {
				if err := h.c.HandleDrawComplete(polygonFeature(1)); err != nil {
					return nil, err
				}
				return h.c.ExportShape(context.Background(), ExportRequest{Year: "2019"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.c.HandleDrawComplete(polygonFeature(0))
			started := make(chan struct{})
			release := make(chan struct{})
			h.backend.exportStarted = started
			h.backend.exportRelease = release

			errc := make(chan error, 1)
			go func() {
				_, err := h.c.ExportShape(context.Background(), ExportRequest{Year: "2019"})
				errc <- err
			}()
			<-started

			secondErr := make(chan error, 1)
			go func() {
				_, err := tt.second(h)
				secondErr <- err
			}()
			time.Sleep(100 * time.Millisecond)
			close(release)

			if err := <-errc; err != nil {
				t.Errorf("first export: %v", err)
			}
			if err := <-secondErr; err != nil {
				t.Errorf("second export: %v", err)
			}
			if export, _, _, _ := h.backend.calls(); export != 2 {
				t.Errorf("backend called %d times, want 2", export)
			}
			h.backend.mu.Lock()
			years := append([]string(nil), h.backend.exportYears...)
			h.backend.mu.Unlock()
			if len(years) != 2 {
				t.Errorf("years = %v", years)
			}
		})
	}
}

func TestDownloadBlankLinkSkipsRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.DownloadExport(context.Background(), DownloadRequest{Link: "  ", Filename: "a.tif"})
	if !errors.Is(err, ErrNoLink) {
		t.Errorf("err = %v", err)
	}
	if _, download, _, _ := h.backend.calls(); download != 0 {
		t.Errorf("download called %d times", download)
	}
}

func TestDownloadDefaultsFilename(t *testing.T) {
	h := newHarness(t)
	h.backend.downloadData = []byte("TIFF")

	path, err := h.c.DownloadExport(context.Background(), DownloadRequest{Link: "https://drive/x"})
	if err != nil {
		t.Fatal(err)
	}
	if h.backend.downloadFilename != "image.tif" || path != "/downloads/image.tif" {
		t.Errorf("filename %q path %q", h.backend.downloadFilename, path)
	}
	if string(h.saver.files["image.tif"]) != "TIFF" {
		t.Errorf("saved = %q", h.saver.files["image.tif"])
	}
}

func TestDownloadFailureAlerts(t *testing.T) {
	h := newHarness(t)
	h.backend.downloadErr = &backend.RemoteError{Message: "link expired"}

	if _, err := h.c.DownloadExport(context.Background(), DownloadRequest{Link: "x", Filename: "b.tif"}); err == nil {
		t.Fatal("expected error")
	}
	if got := h.notifier.all(); !equalStrings(got, []string{"Download failed: link expired"}) {
		t.Errorf("alerts = %v", got)
	}
	if len(h.saver.files) != 0 {
		t.Error("nothing should be saved")
	}
}

func TestLoadRasterReplacesPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.c.LoadRaster(ctx, RasterFile{Name: "a.tif", Data: geoTIFF(t, 10, 37)})
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.c.LoadRaster(ctx, RasterFile{Name: "b.tif", Data: geoTIFF(t, 11, 36)})
	if err != nil {
		t.Fatal(err)
	}

	if first != "TIF Layer 1: a.tif" || second != "TIF Layer 2: b.tif" {
		t.Errorf("names = %q, %q", first, second)
	}

	s := h.c.State()
	want := []string{mapview.MarkerName, mapview.DrawnShapesName, second}
	if got := overlayNames(s, mapview.PrimarySwitcher); !equalStrings(got, want) {
		t.Errorf("overlays = %v, want %v", got, want)
	}
	if s.RasterName != second {
		t.Errorf("RasterName = %q", s.RasterName)
	}
	if rasters, _ := h.tiles.counts(); rasters != 1 {
		t.Errorf("tile server holds %d rasters", rasters)
	}

	layer, _ := findOverlay(s, second)
	if !layer.Active || layer.Opacity != 0.7 || layer.Resolution != 256 || layer.Kind != mapview.KindRaster {
		t.Errorf("layer = %+v", layer)
	}
	if !strings.Contains(layer.URL, layer.ID) || !strings.HasSuffix(layer.URL, "?size=256") {
		t.Errorf("url %q does not reference layer %s at resolution 256", layer.URL, layer.ID)
	}
	if math.Abs(s.Map.Center.Lng-11.04) > 1e-6 || math.Abs(s.Map.Center.Lat-35.96) > 1e-3 {
		t.Errorf("view not fit to raster: %+v", s.Map.Center)
	}
}

func TestLoadRasterFailure(t *testing.T) {
	h := newHarness(t)

	if _, err := h.c.LoadRaster(context.Background(), RasterFile{Name: "bad.tif", Data: []byte("nope")}); !errors.Is(err, raster.ErrNotTIFF) {
		t.Errorf("err = %v", err)
	}
	if got := h.notifier.all(); len(got) != 1 || !strings.HasPrefix(got[0], "Failed to load bad.tif") {
		t.Errorf("alerts = %v", got)
	}

	name, err := h.c.LoadRaster(context.Background(), RasterFile{Name: "ok.tif", Data: geoTIFF(t, 10, 37)})
	if err != nil || name != "TIF Layer 1: ok.tif" {
		t.Errorf("name = %q, err = %v", name, err)
	}
}

func TestLoadRasterStale(t *testing.T) {
	h := newHarness(t)
	slowStarted := make(chan struct{})
	release := make(chan struct{})
	h.c.decode = func(data []byte) (*raster.Raster, error) {
		if string(data[:4]) == "slow" {
			close(slowStarted)
			<-release
			data = data[4:]
		}
		return raster.Decode(data)
	}

	slowData := append([]byte("slow"), geoTIFF(t, 10, 37)...)
	errc := make(chan error, 1)
	go func() {
		_, err := h.c.LoadRaster(context.Background(), RasterFile{Name: "old.tif", Data: slowData})
		errc <- err
	}()
	<-slowStarted

	newer, err := h.c.LoadRaster(context.Background(), RasterFile{Name: "new.tif", Data: geoTIFF(t, 11, 36)})
	if err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrStale) {
		t.Errorf("older load: err = %v, want ErrStale", err)
	}
	if s := h.c.State(); s.RasterName != newer {
		t.Errorf("RasterName = %q, want %q", s.RasterName, newer)
	}
	if rasters, _ := h.tiles.counts(); rasters != 1 {
		t.Errorf("tile server holds %d rasters", rasters)
	}
}

func TestInferenceWithoutRaster(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.RunInference(context.Background(), InferenceRequest{Name: "a.tif", Data: []byte("x"), ModelName: "m.onnx"})
	if !errors.Is(err, ErrNoRaster) {
		t.Errorf("err = %v", err)
	}
	if _, _, predict, _ := h.backend.calls(); predict != 0 {
		t.Errorf("predict called %d times", predict)
	}
	if got := h.notifier.all(); !equalStrings(got, []string{"Load a raster first!"}) {
		t.Errorf("alerts = %v", got)
	}
}

func TestInferenceOverlaysAccumulate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.predictData = pngBytes(t, 4, 4)

	h.c.LoadRaster(ctx, RasterFile{Name: "a.tif", Data: geoTIFF(t, 10, 37)})
	rasterLayer, _ := findOverlay(h.c.State(), "TIF Layer 1: a.tif")

	first, err := h.c.RunInference(ctx, InferenceRequest{Name: "a.tif", Data: []byte("x"), ModelName: " unet.onnx "})
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.c.RunInference(ctx, InferenceRequest{Name: "a.tif", Data: []byte("x"), ModelName: "unet.onnx"})
	if err != nil {
		t.Fatal(err)
	}

	if first != "Prediction Overlay 1" || second != "Prediction Overlay 2" {
		t.Errorf("names = %q, %q", first, second)
	}
	if h.backend.predictModel != "unet.onnx" {
		t.Errorf("model = %q", h.backend.predictModel)
	}

	s := h.c.State()
	if got := overlayNames(s, PredictionSwitcher); !equalStrings(got, []string{first, second}) {
		t.Errorf("prediction switcher = %v", got)
	}
	if !equalStrings(s.Predictions, []string{first, second}) {
		t.Errorf("Predictions = %v", s.Predictions)
	}

	overlay, _ := findOverlay(s, first)
	if overlay.Opacity != 0.6 || overlay.Kind != mapview.KindImageOverlay || !overlay.Active {
		t.Errorf("overlay = %+v", overlay)
	}
	if overlay.Bounds == nil || *overlay.Bounds != *rasterLayer.Bounds {
		t.Errorf("overlay bounds %v, raster bounds %v", overlay.Bounds, rasterLayer.Bounds)
	}
	if _, images := h.tiles.counts(); images != 2 {
		t.Errorf("tile server holds %d images", images)
	}

	alerts := h.notifier.all()
	if len(alerts) != 2 || alerts[0] != "Prediction overlay added!" {
		t.Errorf("alerts = %v", alerts)
	}
}

func TestInferenceFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.c.LoadRaster(ctx, RasterFile{Name: "a.tif", Data: geoTIFF(t, 10, 37)})
	h.backend.predictErr = &backend.RemoteError{StatusCode: 500, Message: "model not found"}

	if _, err := h.c.RunInference(ctx, InferenceRequest{Name: "a.tif", ModelName: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if got := h.notifier.all(); !equalStrings(got, []string{"Prediction failed: model not found"}) {
		t.Errorf("alerts = %v", got)
	}
	if len(h.c.State().Predictions) != 0 {
		t.Error("no overlay should be added")
	}
}

func TestLoadRasterFailedLaterLoadKeepsEarlier(t *testing.T) {
	h := newHarness(t)
	slowStarted := make(chan struct{})
	release := make(chan struct{})
	h.c.decode = func(data []byte) (*raster.Raster, error) {
		if string(data[:4]) == "slow" {
			close(slowStarted)
			<-release
			data = data[4:]
		}
		return raster.Decode(data)
	}

	slowData := append([]byte("slow"), geoTIFF(t, 10, 37)...)
	type result struct {
		name string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		name, err := h.c.LoadRaster(context.Background(), RasterFile{Name: "good.tif", Data: slowData})
		done <- result{name, err}
	}()
	<-slowStarted

	if _, err := h.c.LoadRaster(context.Background(), RasterFile{Name: "bad.tif", Data: []byte("not a tiff")}); err == nil {
		t.Fatal("expected decode error")
	}
	close(release)

	res := <-done
	if res.err != nil {
		t.Fatalf("earlier load: %v", res.err)
	}
	if s := h.c.State(); s.RasterName != res.name || res.name != "TIF Layer 1: good.tif" {
		t.Errorf("RasterName = %q, load returned %q", s.RasterName, res.name)
	}
}

func TestInferenceStaleAfterRasterReplaced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.predictData = pngBytes(t, 2, 2)
	h.backend.predictStarted = make(chan struct{})
	h.backend.predictRelease = make(chan struct{})

	h.c.LoadRaster(ctx, RasterFile{Name: "a.tif", Data: geoTIFF(t, 10, 37)})

	errc := make(chan error, 1)
	go func() {
		_, err := h.c.RunInference(ctx, InferenceRequest{Name: "a.tif", ModelName: "m"})
		errc <- err
	}()
	<-h.backend.predictStarted

	h.c.LoadRaster(ctx, RasterFile{Name: "b.tif", Data: geoTIFF(t, 11, 36)})
	close(h.backend.predictRelease)

	if err := <-errc; !errors.Is(err, ErrStale) {
		t.Errorf("err = %v, want ErrStale", err)
	}
	if len(h.c.State().Predictions) != 0 {
		t.Error("stale prediction was added")
	}
}

func TestInferenceLoadsRasterFirst(t *testing.T) {
	h := newHarness(t)
	h.backend.predictData = pngBytes(t, 2, 2)

	name, err := h.c.RunInference(context.Background(), InferenceRequest{
		Name:         "scene.tif",
		Data:         geoTIFF(t, 10, 37),
		ModelName:    "m",
		LoadAsRaster: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := h.c.State()
	if s.RasterName != "TIF Layer 1: scene.tif" || name != "Prediction Overlay 1" {
		t.Errorf("raster %q overlay %q", s.RasterName, name)
	}
}

func TestRemovePrediction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.predictData = pngBytes(t, 2, 2)
	h.c.LoadRaster(ctx, RasterFile{Name: "a.tif", Data: geoTIFF(t, 10, 37)})
	name, _ := h.c.RunInference(ctx, InferenceRequest{Name: "a.tif", ModelName: "m"})

	if err := h.c.RemovePrediction(name); err != nil {
		t.Fatal(err)
	}
	if len(h.c.State().Predictions) != 0 {
		t.Error("prediction still listed")
	}
	if _, images := h.tiles.counts(); images != 0 {
		t.Errorf("tile server holds %d images", images)
	}
	if err := h.c.RemovePrediction(name); !errors.Is(err, ErrUnknownPrediction) {
		t.Errorf("second remove: %v", err)
	}
}

func TestSavePredictionGeoTIFF(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.predictData = pngBytes(t, 8, 8)
	h.c.LoadRaster(ctx, RasterFile{Name: "a.tif", Data: geoTIFF(t, 10, 37)})
	name, err := h.c.RunInference(ctx, InferenceRequest{Name: "a.tif", ModelName: "m"})
	if err != nil {
		t.Fatal(err)
	}

	path, err := h.c.SavePredictionGeoTIFF(name)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(path, "/downloads/prediction_1_") || !strings.HasSuffix(path, ".tif") {
		t.Errorf("path = %q", path)
	}

	var saved []byte
	for _, data := range h.saver.files {
		saved = data
	}
	r, err := raster.Decode(saved)
	if err != nil {
		t.Fatalf("saved GeoTIFF does not decode: %v", err)
	}
	if r.EPSG != 3857 {
		t.Errorf("EPSG = %d", r.EPSG)
	}
	if math.Abs(r.Bounds.Min.Lon()-10) > 1e-6 || math.Abs(r.Bounds.Max.Lat()-37) > 1e-6 ||
		math.Abs(r.Bounds.Max.Lon()-10.08) > 1e-6 || math.Abs(r.Bounds.Min.Lat()-36.92) > 1e-6 {
		t.Errorf("bounds = %v", r.Bounds)
	}

	if _, err := h.c.SavePredictionGeoTIFF("missing"); !errors.Is(err, ErrUnknownPrediction) {
		t.Errorf("missing: %v", err)
	}
}

func TestUploadModelUsesFixedMetadata(t *testing.T) {
	for _, content := range [][]byte{[]byte("onnx weights"), {}, []byte(`{"name":"other"}`)} {
		h := newHarness(t)
		if err := h.c.UploadModel(context.Background(), ModelFile{Name: "model.onnx", Data: content}); err != nil {
			t.Fatal(err)
		}
		want := config.DefaultModelMetadata()
		got := h.backend.uploadMeta
		if got.Name != want.Name || got.Description != want.Description || got.Framework != want.Framework || !equalStrings(got.Tags, want.Tags) {
			t.Errorf("metadata = %+v", got)
		}
		if alerts := h.notifier.all(); !equalStrings(alerts, []string{"Model uploaded successfully!"}) {
			t.Errorf("alerts = %v", alerts)
		}
	}
}

func TestUploadOverlappingFiles(t *testing.T) {
	tests := []struct {
		name      string
		second    ModelFile
		wantCalls int
	}{
		{"same file shares request", ModelFile{Name: "a.onnx", Data: []byte("weights-a")}, 1},
		{"different name", ModelFile{Name: "b.onnx", Data: []byte("weights-a")}, 2},
		{"different content", ModelFile{Name: "a.onnx", Data: []byte("weights-b")}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			started := make(chan struct{})
			release := make(chan struct{})
			h.backend.uploadStarted = started
			h.backend.uploadRelease = release

			errc := make(chan error, 2)
			go func() {
				errc <- h.c.UploadModel(context.Background(), ModelFile{Name: "a.onnx", Data: []byte("weights-a")})
			}()
			<-started
			go func() {
				errc <- h.c.UploadModel(context.Background(), tt.second)
			}()
			time.Sleep(100 * time.Millisecond)
			close(release)

			for i := 0; i < 2; i++ {
				if err := <-errc; err != nil {
					t.Errorf("upload: %v", err)
				}
			}
			if _, _, _, upload := h.backend.calls(); upload != tt.wantCalls {
				t.Errorf("upload calls = %d, want %d", upload, tt.wantCalls)
			}
			if alerts := h.notifier.all(); len(alerts) != tt.wantCalls {
				t.Errorf("alerts = %v", alerts)
			}
		})
	}
}

func TestUploadModelFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.uploadErr = &backend.TransportError{Op: "upload", Err: errors.New("refused")}

	if err := h.c.UploadModel(context.Background(), ModelFile{Name: "m.onnx"}); err == nil {
		t.Fatal("expected error")
	}
	if alerts := h.notifier.all(); !equalStrings(alerts, []string{"Model upload failed!"}) {
		t.Errorf("alerts = %v", alerts)
	}
}

func TestMapOperationsNotify(t *testing.T) {
	h := newHarness(t)
	var states []State
	h.c.OnChange(func(s State) { states = append(states, s) })

	if err := h.c.SetBaseLayer("Stamen Toner"); err != nil {
		t.Fatal(err)
	}
	if err := h.c.SetBaseLayer("Nope"); err == nil {
		t.Error("expected error for unknown base layer")
	}
	if err := h.c.ToggleOverlay(mapview.MarkerName, true); err != nil {
		t.Fatal(err)
	}
	h.c.SetView(40, 5, 50)

	if len(states) != 3 {
		t.Fatalf("got %d notifications, want 3", len(states))
	}
	last := states[2]
	if last.Map.BaseLayer != "Stamen Toner" {
		t.Errorf("base = %q", last.Map.BaseLayer)
	}
	if marker, _ := findOverlay(last, mapview.MarkerName); !marker.Active {
		t.Error("marker should be active")
	}
	if last.Map.Zoom != 20 || last.Map.Center.Lat != 40 || last.Map.Center.Lng != 5 {
		t.Errorf("view = %+v zoom %d", last.Map.Center, last.Map.Zoom)
	}
}

func TestModelRegistryPassthrough(t *testing.T) {
	h := newHarness(t)
	models, err := h.c.ListModels(context.Background())
	if err != nil || len(models) != 1 || models[0].Name != "unet" {
		t.Errorf("models = %v, err = %v", models, err)
	}
	if err := h.c.DeleteModel(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	if !equalStrings(h.models.deleted, []string{"1"}) {
		t.Errorf("deleted = %v", h.models.deleted)
	}
}
