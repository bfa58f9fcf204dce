// Package raster decodes GeoTIFF files into display images with geographic
// bounds, and resamples them into Web Mercator map tiles.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"

	"github.com/paulmach/orb"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"sentinel-viewer/pkg/geotiff"
)

var (
	ErrNotTIFF          = errors.New("not a TIFF file")
	ErrNotGeoreferenced = errors.New("raster has no georeferencing tags")
	ErrUnsupportedCRS   = errors.New("unsupported coordinate reference system")
	ErrUnsupportedData  = errors.New("unsupported raster layout")
	ErrTooLarge         = errors.New("raster dimensions too large")
)

// MaxDimension bounds the width and height of decoded rasters
const MaxDimension = 20000

// Raster is a decoded, georeferenced image
type Raster struct {
	Width     int
	Height    int
	Bands     int
	EPSG      int
	Transform GeoTransform
	Image     *image.NRGBA
	Bounds    orb.Bound // WGS84 lon/lat

	proj Projection
}

// Decode parses a GeoTIFF held in memory
func Decode(data []byte) (*Raster, error) {
	d, err := readIFD(data)
	if err != nil {
		return nil, err
	}

	width := int(d.first(geotiff.TagType_ImageWidth, 0))
	height := int(d.first(geotiff.TagType_ImageLength, 0))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: missing image dimensions", ErrNotTIFF)
	}
	if width > MaxDimension || height > MaxDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, width, height)
	}

	keys := readGeoKeys(d)
	transform, err := readGeoTransform(d, keys)
	if err != nil {
		return nil, err
	}
	epsg, err := epsgFromKeys(keys)
	if err != nil {
		return nil, err
	}
	proj, err := ProjectionFor(epsg)
	if err != nil {
		return nil, err
	}

	img, err := decodePixels(data, d, width, height)
	if err != nil {
		return nil, err
	}

	r := &Raster{
		Width:     width,
		Height:    height,
		Bands:     int(d.first(geotiff.TagType_SamplesPerPixel, 1)),
		EPSG:      epsg,
		Transform: transform,
		Image:     img,
		proj:      proj,
	}
	r.Bounds = r.computeBounds()

	log.Printf("[Raster] Decoded %dx%d, %d band(s), EPSG:%d, bounds %v", width, height, r.Bands, epsg, r.Bounds)
	return r, nil
}

// computeBounds projects the raster outline to WGS84. Edge midpoints are
// included because projected edges are curves in lon/lat.
func (r *Raster) computeBounds() orb.Bound {
	w, h := float64(r.Width), float64(r.Height)
	samples := [][2]float64{
		{0, 0}, {w / 2, 0}, {w, 0},
		{0, h / 2}, {w, h / 2},
		{0, h}, {w / 2, h}, {w, h},
	}

	var b orb.Bound
	for i, s := range samples {
		x, y := r.Transform.Apply(s[0], s[1])
		p := r.proj.ToWGS84(orb.Point{x, y})
		if i == 0 {
			b = p.Bound()
		} else {
			b = b.Extend(p)
		}
	}
	return b
}

// PixelAt returns the pixel containing the WGS84 point, if inside the raster
func (r *Raster) PixelAt(lon, lat float64) (col, row int, ok bool) {
	p := r.proj.FromWGS84(orb.Point{lon, lat})
	fc, fr, ok := r.Transform.Invert(p[0], p[1])
	if !ok || fc < 0 || fr < 0 {
		return 0, 0, false
	}
	col, row = int(fc), int(fr)
	if col >= r.Width || row >= r.Height {
		return 0, 0, false
	}
	return col, row, true
}

// decodePixels uses the x/image decoder for standard layouts and the band
// reader for multi-band imagery, which x/image/tiff would read as grayscale
func decodePixels(data []byte, d *ifd, width, height int) (*image.NRGBA, error) {
	samples := d.first(geotiff.TagType_SamplesPerPixel, 1)
	photometric := d.first(geotiff.TagType_PhotometricInterpretation, photometricBlackIsZero)
	if samples > 4 || (samples >= 3 && photometric != photometricRGB) {
		return readBands(data, d, width, height)
	}

	img, stdErr := tiff.Decode(bytes.NewReader(data))
	if stdErr == nil {
		return toDisplay(img), nil
	}

	out, err := readBands(data, d, width, height)
	if err != nil {
		if errors.Is(err, ErrUnsupportedData) {
			return nil, fmt.Errorf("failed to decode raster: %v (%w)", stdErr, err)
		}
		return nil, err
	}
	return out, nil
}

// toDisplay converts decoded images to 8-bit NRGBA, stretching 16-bit data
func toDisplay(img image.Image) *image.NRGBA {
	switch m := img.(type) {
	case *image.Gray16:
		band := make([]uint16, 0, m.Rect.Dx()*m.Rect.Dy())
		for y := m.Rect.Min.Y; y < m.Rect.Max.Y; y++ {
			for x := m.Rect.Min.X; x < m.Rect.Max.X; x++ {
				band = append(band, m.Gray16At(x, y).Y)
			}
		}
		return composeRGB([3][]uint16{band, band, band}, m.Rect.Dx(), m.Rect.Dy(), nil)
	case *image.RGBA64, *image.NRGBA64:
		b := m.Bounds()
		var bands [3][]uint16
		for i := range bands {
			bands[i] = make([]uint16, 0, b.Dx()*b.Dy())
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBA64Model.Convert(m.At(x, y)).(color.NRGBA64)
				bands[0] = append(bands[0], c.R)
				bands[1] = append(bands[1], c.G)
				bands[2] = append(bands[2], c.B)
			}
		}
		return composeRGB(bands, b.Dx(), b.Dy(), nil)
	case *image.NRGBA:
		if m.Rect.Min == (image.Point{}) {
			return m
		}
	}

	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
