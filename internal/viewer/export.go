package viewer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"sentinel-viewer/internal/backend"
	"sentinel-viewer/internal/utils/naming"
)

// ExportRequest carries the inputs of an export
type ExportRequest struct {
	Year string `json:"year"`
}

// ExportResult is a successful export. The file still has to be shared on
// Drive before it can be downloaded.
type ExportResult struct {
	Status   string `json:"status"`
	Filename string `json:"filename,omitempty"`
}

// DownloadRequest names the shared file to fetch and how to save it
type DownloadRequest struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
}

// HandleDrawComplete stores a freshly drawn shape. data is a GeoJSON Feature
// or bare geometry; only polygons (rectangles included) are accepted.
func (c *Controller) HandleDrawComplete(data []byte) error {
	poly, err := parsePolygon(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.view.DrawnShapes().AddShape(poly)
	c.shape = poly
	c.hasShape = true
	c.commit()

	log.Printf("[Viewer] Shape drawn with %d vertices", len(poly[0]))
	return nil
}

func parsePolygon(data []byte) (orb.Polygon, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	var geom orb.Geometry
	if head.Type == "Feature" {
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("invalid GeoJSON feature: %w", err)
		}
		geom = f.Geometry
	} else {
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("invalid GeoJSON geometry: %w", err)
		}
		geom = g.Geometry()
	}

	poly, ok := geom.(orb.Polygon)
	if !ok || len(poly) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, head.Type)
	}
	return poly, nil
}

// flightKey identifies a request by its kind and inputs, so only identical
// overlapping requests share one backend call
func flightKey(kind string, parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return kind + ":" + hex.EncodeToString(h.Sum(nil))
}

// ExportShape asks the backend to export the current shape for a year.
// Overlapping calls for the same shape and year share one request.
func (c *Controller) ExportShape(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	c.mu.Lock()
	shape, ok := c.shape, c.hasShape
	c.mu.Unlock()

	if !ok {
		c.alert("Draw a shape first!")
		return nil, ErrNoShape
	}

	year := strings.TrimSpace(req.Year)
	if year == "" {
		year = c.settings.DefaultYear
	}

	key := flightKey("export", []byte(year), []byte(fmt.Sprint(shape[0])))
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		log.Printf("[Viewer] Exporting %d vertices for %s", len(shape[0]), year)
		resp, err := c.deps.Backend.ExportTIF(ctx, shape[0], year)
		if err != nil {
			var re *backend.RemoteError
			if errors.As(err, &re) {
				c.alert("Export failed: " + re.Message)
			} else {
				c.alert("Error: " + err.Error())
			}
			return nil, err
		}
		return &ExportResult{Status: resp.Status, Filename: resp.Filename}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ExportResult), nil
}

// DownloadExport fetches a shared export and saves it. A blank link means the
// user cancelled and no request is made.
func (c *Controller) DownloadExport(ctx context.Context, req DownloadRequest) (string, error) {
	link := strings.TrimSpace(req.Link)
	if link == "" {
		return "", ErrNoLink
	}
	filename := naming.DownloadFilename(req.Filename, c.settings.DefaultFilename)

	data, err := c.deps.Backend.DownloadFromDrive(ctx, link, filename)
	if err != nil {
		c.alert("Download failed: " + err.Error())
		return "", err
	}

	path, err := c.deps.Saver.Save(filename, data)
	if err != nil {
		c.alert("Download failed: " + err.Error())
		return "", fmt.Errorf("failed to save %s: %w", filename, err)
	}
	log.Printf("[Viewer] Saved %s (%d bytes)", path, len(data))
	return path, nil
}
