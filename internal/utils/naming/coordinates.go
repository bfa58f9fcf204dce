package naming

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// GenerateQuadkey generates a quadkey string for the tile at zoom level z
// holding the center of the bound
func GenerateQuadkey(b orb.Bound, zoom int) string {
	tile := maptile.At(b.Center(), maptile.Zoom(zoom))

	var quadkey strings.Builder
	for i := zoom; i > 0; i-- {
		digit := 0
		mask := uint32(1) << (i - 1)
		if tile.X&mask != 0 {
			digit++
		}
		if tile.Y&mask != 0 {
			digit += 2
		}
		quadkey.WriteByte(byte('0' + digit))
	}
	return quadkey.String()
}

// GenerateBBoxString creates a bbox string for filenames: S-N_W-E
func GenerateBBoxString(b orb.Bound) string {
	return fmt.Sprintf("%s-%s_%s-%s",
		SanitizeCoordinate(b.Min.Lat(), true),
		SanitizeCoordinate(b.Max.Lat(), true),
		SanitizeCoordinate(b.Min.Lon(), false),
		SanitizeCoordinate(b.Max.Lon(), false))
}

// SanitizeCoordinate formats a coordinate for use in filenames (removes minus sign, uses N/S/E/W)
// Replaces decimal point with 'p' for Windows compatibility
func SanitizeCoordinate(coord float64, isLat bool) string {
	var dir string
	switch {
	case isLat && coord < 0:
		dir = "S"
	case isLat:
		dir = "N"
	case coord < 0:
		dir = "W"
	default:
		dir = "E"
	}
	coordStr := fmt.Sprintf("%.4f", math.Abs(coord))
	coordStr = strings.Replace(coordStr, ".", "p", 1)
	return coordStr + dir
}
