package raster

import (
	"fmt"

	"sentinel-viewer/pkg/geotiff"
)

// GeoTransform maps pixel (col, row) to CRS coordinates:
//
//	X = OriginX + col*PixelWidth + row*RowRotation
//	Y = OriginY + col*ColRotation + row*PixelHeight
type GeoTransform struct {
	OriginX     float64
	PixelWidth  float64
	RowRotation float64
	OriginY     float64
	ColRotation float64
	PixelHeight float64
}

// Apply converts a pixel position to CRS coordinates
func (g GeoTransform) Apply(col, row float64) (x, y float64) {
	x = g.OriginX + col*g.PixelWidth + row*g.RowRotation
	y = g.OriginY + col*g.ColRotation + row*g.PixelHeight
	return x, y
}

// Invert converts CRS coordinates to a pixel position
func (g GeoTransform) Invert(x, y float64) (col, row float64, ok bool) {
	det := g.PixelWidth*g.PixelHeight - g.RowRotation*g.ColRotation
	if det == 0 {
		return 0, 0, false
	}
	dx := x - g.OriginX
	dy := y - g.OriginY
	col = (dx*g.PixelHeight - dy*g.RowRotation) / det
	row = (dy*g.PixelWidth - dx*g.ColRotation) / det
	return col, row, true
}

// geoKeys is the decoded GeoKeyDirectory (short values only)
type geoKeys map[uint16]uint16

func readGeoKeys(d *ifd) geoKeys {
	dir := d.uints(geotiff.TagType_GeoKeyDirectoryTag)
	keys := make(geoKeys)
	if len(dir) < 4 {
		return keys
	}

	n := int(dir[3])
	for i := 0; i < n; i++ {
		base := 4 + i*4
		if base+3 >= len(dir) {
			break
		}
		id, location, value := dir[base], dir[base+1], dir[base+3]
		// Location 0 means the value is stored inline
		if location == 0 {
			keys[uint16(id)] = uint16(value)
		}
	}
	return keys
}

// epsgFromKeys resolves the raster CRS from GeoKeys
func epsgFromKeys(keys geoKeys) (int, error) {
	if code, ok := keys[geotiff.GeoKey_ProjectedCSType]; ok && code != 0 && code != 32767 {
		return int(code), nil
	}
	if code, ok := keys[geotiff.GeoKey_GeographicType]; ok && code != 0 && code != 32767 {
		return int(code), nil
	}
	if keys[geotiff.GeoKey_GTModelType] == geotiff.ModelTypeGeographic {
		return 4326, nil
	}
	if len(keys) == 0 {
		// Tie points without keys: assume lon/lat
		return 4326, nil
	}
	return 0, fmt.Errorf("%w: user-defined coordinate system", ErrUnsupportedCRS)
}

// readGeoTransform builds the pixel-to-CRS transform from model tags
func readGeoTransform(d *ifd, keys geoKeys) (GeoTransform, error) {
	var g GeoTransform

	if m := d.floats(geotiff.TagType_ModelTransformationTag); len(m) >= 16 {
		g = GeoTransform{
			OriginX: m[3], PixelWidth: m[0], RowRotation: m[1],
			OriginY: m[7], ColRotation: m[4], PixelHeight: m[5],
		}
	} else {
		tie := d.floats(geotiff.TagType_ModelTiepointTag)
		scale := d.floats(geotiff.TagType_ModelPixelScaleTag)
		if len(tie) < 6 || len(scale) < 2 {
			return g, ErrNotGeoreferenced
		}
		i, j, x, y := tie[0], tie[1], tie[3], tie[4]
		g = GeoTransform{
			OriginX:     x - i*scale[0],
			PixelWidth:  scale[0],
			OriginY:     y + j*scale[1],
			PixelHeight: -scale[1],
		}
	}

	// PixelIsPoint rasters reference pixel centers
	if keys[geotiff.GeoKey_GTRasterType] == geotiff.RasterPixelIsPoint {
		g.OriginX -= 0.5 * (g.PixelWidth + g.RowRotation)
		g.OriginY -= 0.5 * (g.ColRotation + g.PixelHeight)
	}

	return g, nil
}
