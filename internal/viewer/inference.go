package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/samber/lo"

	"sentinel-viewer/internal/backend"
	"sentinel-viewer/internal/mapview"
	"sentinel-viewer/internal/utils/naming"
	"sentinel-viewer/pkg/geotiff"
)

// InferenceRequest is a raster to run a model on. With LoadAsRaster set the
// file is first loaded as the current raster, so the overlay lines up with it.
type InferenceRequest struct {
	Name         string
	Data         []byte
	ModelName    string
	LoadAsRaster bool
}

// ModelFile is a model artifact to upload
type ModelFile struct {
	Name string
	Data []byte
}

// RunInference sends a raster to the backend and overlays the returned image
// on the bounds of the raster loaded when the request started
func (c *Controller) RunInference(ctx context.Context, req InferenceRequest) (string, error) {
	if req.LoadAsRaster {
		if _, err := c.LoadRaster(ctx, RasterFile{Name: req.Name, Data: req.Data}); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	anchor := c.rasterLayer
	c.mu.Unlock()

	if anchor == nil {
		c.alert("Load a raster first!")
		return "", ErrNoRaster
	}

	model := strings.TrimSpace(req.ModelName)
	pred, err := c.deps.Backend.PredictAndShow(ctx, req.Name, bytes.NewReader(req.Data), model)
	if err != nil {
		c.alert("Prediction failed: " + err.Error())
		return "", err
	}

	c.mu.Lock()
	if c.rasterLayer != anchor {
		c.mu.Unlock()
		log.Printf("[Viewer] Discarding prediction for replaced raster")
		return "", ErrStale
	}

	layer := mapview.NewImageOverlay("", anchor.Bounds, c.settings.PredictionOpacity)
	c.deps.Tiles.RegisterImage(layer.ID, pred.Data, pred.ContentType)
	layer.URL = c.deps.Tiles.ImageURL(layer.ID)

	c.predictionCount++
	name := naming.PredictionOverlayName(c.predictionCount)
	switcher := c.view.AddSwitcher(PredictionSwitcher)
	if err := switcher.Overlays.Add(name, layer); err != nil {
		c.mu.Unlock()
		c.deps.Tiles.UnregisterImage(layer.ID)
		return "", err
	}
	c.view.AddOverlay(layer)

	c.predictions[name] = &prediction{
		layer:       layer,
		data:        pred.Data,
		contentType: pred.ContentType,
		number:      c.predictionCount,
	}
	c.predictionOrder = append(c.predictionOrder, name)
	c.commit()

	log.Printf("[Viewer] %s added with model %s", name, model)
	c.alert("Prediction overlay added!")
	return name, nil
}

// RemovePrediction drops a prediction overlay from the map
func (c *Controller) RemovePrediction(name string) error {
	c.mu.Lock()
	p, ok := c.predictions[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPrediction, name)
	}
	c.removeLayerLocked(p.layer)
	delete(c.predictions, name)
	c.predictionOrder = lo.Without(c.predictionOrder, name)
	c.deps.Tiles.UnregisterImage(p.layer.ID)
	c.commit()
	return nil
}

// SavePredictionGeoTIFF writes a prediction overlay as a Web Mercator GeoTIFF
// covering the overlay's bounds
func (c *Controller) SavePredictionGeoTIFF(name string) (string, error) {
	c.mu.Lock()
	p, ok := c.predictions[name]
	zoom := c.view.Zoom
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPrediction, name)
	}

	img, _, err := image.Decode(bytes.NewReader(p.data))
	if err != nil {
		return "", fmt.Errorf("failed to decode prediction image (%s): %w", p.contentType, err)
	}

	b := p.layer.Bounds
	nw := project.WGS84.ToMercator(orb.Point{b.Min.Lon(), b.Max.Lat()})
	se := project.WGS84.ToMercator(orb.Point{b.Max.Lon(), b.Min.Lat()})
	size := img.Bounds().Size()
	pw := (se[0] - nw[0]) / float64(size.X)
	ph := (nw[1] - se[1]) / float64(size.Y)

	var buf bytes.Buffer
	tags := geotiff.GeoTags(geotiff.ProjectedKeys(3857), nw[0], nw[1], pw, ph)
	if err := geotiff.Encode(&buf, img, tags); err != nil {
		return "", fmt.Errorf("failed to encode GeoTIFF: %w", err)
	}

	filename := naming.GeneratePredictionFilename(p.number, naming.GenerateQuadkey(b, zoom), zoom, naming.GenerateBBoxString(b))
	path, err := c.deps.Saver.Save(filename, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to save %s: %w", filename, err)
	}
	log.Printf("[Viewer] Saved %s as %s", name, path)
	return path, nil
}

// UploadModel sends a model artifact with the configured metadata.
// Overlapping uploads of the same file share one request.
func (c *Controller) UploadModel(ctx context.Context, file ModelFile) error {
	_, err, _ := c.flight.Do(flightKey("upload", []byte(file.Name), file.Data), func() (interface{}, error) {
		resp, err := c.deps.Backend.UploadModel(ctx, file.Name, bytes.NewReader(file.Data), c.settings.ModelMetadata)
		if err != nil {
			log.Printf("[Viewer] Upload failed: %v", err)
			c.alert("Model upload failed!")
			return nil, err
		}
		log.Printf("[Viewer] Upload response: %v", resp)
		c.alert("Model uploaded successfully!")
		return resp, nil
	})
	return err
}

// ListModels returns the models known to the registry
func (c *Controller) ListModels(ctx context.Context) ([]backend.Model, error) {
	if c.deps.Models == nil {
		return nil, errors.New("model registry not configured")
	}
	return c.deps.Models.ListModels(ctx)
}

// DeleteModel removes a model from the registry
func (c *Controller) DeleteModel(ctx context.Context, id string) error {
	if c.deps.Models == nil {
		return errors.New("model registry not configured")
	}
	return c.deps.Models.DeleteModel(ctx, id)
}
