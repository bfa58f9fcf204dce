package raster

import (
	"errors"
	"fmt"
	"image"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

// ErrTileOutside is returned for tiles that do not touch the raster
var ErrTileOutside = errors.New("tile outside raster bounds")

// MaxZoom is the deepest XYZ zoom level RenderTile accepts
const MaxZoom = 24

// RenderTile resamples r into a size x size XYZ tile using nearest neighbour.
// Pixels outside the raster are transparent.
func RenderTile(r *Raster, z, x, y, size int) (*image.NRGBA, error) {
	if z < 0 || z > MaxZoom || x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		return nil, fmt.Errorf("invalid tile %d/%d/%d", z, x, y)
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid tile size %d", size)
	}

	tile := maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
	tb := tile.Bound()
	if !tb.Intersects(r.Bounds) {
		return nil, ErrTileOutside
	}

	// Tile pixels are evenly spaced in Mercator metres
	min := project.WGS84.ToMercator(tb.Min)
	max := project.WGS84.ToMercator(tb.Max)
	stepX := (max[0] - min[0]) / float64(size)
	stepY := (max[1] - min[1]) / float64(size)

	lons := make([]float64, size)
	for px := 0; px < size; px++ {
		p := project.Mercator.ToWGS84(orb.Point{min[0] + (float64(px)+0.5)*stepX, min[1]})
		lons[px] = p.Lon()
	}

	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	src := r.Image
	for py := 0; py < size; py++ {
		// Row 0 is the northern edge
		lat := project.Mercator.ToWGS84(orb.Point{min[0], max[1] - (float64(py)+0.5)*stepY}).Lat()
		if lat < r.Bounds.Min.Lat() || lat > r.Bounds.Max.Lat() {
			continue
		}
		for px := 0; px < size; px++ {
			col, row, ok := r.PixelAt(lons[px], lat)
			if !ok {
				continue
			}
			si := src.PixOffset(col, row)
			di := out.PixOffset(px, py)
			copy(out.Pix[di:di+4], src.Pix[si:si+4])
		}
	}

	return out, nil
}
