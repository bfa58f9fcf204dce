package raster

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"

	"sentinel-viewer/pkg/geotiff"
)

// TIFF compression schemes handled by the band reader
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	predictorNone       = 1
	predictorHorizontal = 2

	sampleFormatUint = 1

	photometricBlackIsZero = 1
	photometricRGB         = 2
)

// rgbBands picks display bands. Three-band rasters are assumed to be RGB;
// larger stacks follow the Sentinel-2 B2,B3,B4,... ordering, so red, green
// and blue are the third, second and first bands.
func rgbBands(samples int) [3]int {
	if samples == 3 {
		return [3]int{0, 1, 2}
	}
	return [3]int{2, 1, 0}
}

// bandLayout describes how samples are stored
type bandLayout struct {
	width, height int
	samples       int
	bytesPer      int // 1 or 2
	compression   uint64
	predictor     uint64

	tiled           bool
	chunkW, chunkH  int
	offsets, counts []uint64
}

func newBandLayout(d *ifd, width, height int) (*bandLayout, error) {
	samples := int(d.first(geotiff.TagType_SamplesPerPixel, 1))
	if samples < 3 {
		return nil, fmt.Errorf("%w: %d band(s)", ErrUnsupportedData, samples)
	}

	bits := d.uints(geotiff.TagType_BitsPerSample)
	if len(bits) == 0 {
		return nil, fmt.Errorf("%w: missing BitsPerSample", ErrUnsupportedData)
	}
	for _, b := range bits {
		if b != bits[0] || (b != 8 && b != 16) {
			return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedData, b)
		}
	}
	for _, f := range d.uints(geotiff.TagType_SampleFormat) {
		if f != sampleFormatUint {
			return nil, fmt.Errorf("%w: sample format %d", ErrUnsupportedData, f)
		}
	}
	if planar := d.first(geotiff.TagType_PlanarConfiguration, 1); planar != 1 {
		return nil, fmt.Errorf("%w: planar configuration %d", ErrUnsupportedData, planar)
	}

	l := &bandLayout{
		width:       width,
		height:      height,
		samples:     samples,
		bytesPer:    int(bits[0] / 8),
		compression: d.first(geotiff.TagType_Compression, compressionNone),
		predictor:   d.first(geotiff.TagType_Predictor, predictorNone),
	}

	switch l.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupportedData, l.compression)
	}
	if l.predictor != predictorNone && l.predictor != predictorHorizontal {
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupportedData, l.predictor)
	}

	if d.has(geotiff.TagType_TileOffsets) {
		l.tiled = true
		l.chunkW = int(d.first(geotiff.TagType_TileWidth, 0))
		l.chunkH = int(d.first(geotiff.TagType_TileLength, 0))
		l.offsets = d.uints(geotiff.TagType_TileOffsets)
		l.counts = d.uints(geotiff.TagType_TileByteCounts)
	} else {
		l.chunkW = width
		l.chunkH = int(d.first(geotiff.TagType_RowsPerStrip, uint64(height)))
		if l.chunkH > height {
			l.chunkH = height
		}
		l.offsets = d.uints(geotiff.TagType_StripOffsets)
		l.counts = d.uints(geotiff.TagType_StripByteCounts)
	}
	if l.chunkW <= 0 || l.chunkH <= 0 || len(l.offsets) == 0 || len(l.offsets) != len(l.counts) {
		return nil, fmt.Errorf("%w: bad strip or tile layout", ErrUnsupportedData)
	}

	return l, nil
}

func (l *bandLayout) chunksAcross() int {
	return (l.width + l.chunkW - 1) / l.chunkW
}

// inflate returns the decompressed bytes of one chunk
func (l *bandLayout) inflate(raw []byte) ([]byte, error) {
	switch l.compression {
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		return io.ReadAll(r)
	case compressionDeflate, compressionDeflateOld:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	// Rows are modified in place when undoing the predictor
	return bytes.Clone(raw), nil
}

// readBands decodes chunky multi-band 8/16-bit rasters into a stretched RGB image
func readBands(data []byte, d *ifd, width, height int) (*image.NRGBA, error) {
	l, err := newBandLayout(d, width, height)
	if err != nil {
		return nil, err
	}

	pick := rgbBands(l.samples)
	var bands [3][]uint16
	for i := range bands {
		bands[i] = make([]uint16, width*height)
	}

	rowSamples := l.chunkW * l.samples
	rowBytes := rowSamples * l.bytesPer
	across := l.chunksAcross()

	for idx, off := range l.offsets {
		cnt := l.counts[idx]
		if off+cnt > uint64(len(data)) {
			return nil, fmt.Errorf("chunk %d out of range", idx)
		}
		buf, err := l.inflate(data[off : off+cnt])
		if err != nil {
			return nil, fmt.Errorf("failed to decompress chunk %d: %w", idx, err)
		}

		x0, y0 := 0, idx*l.chunkH
		if l.tiled {
			x0 = (idx % across) * l.chunkW
			y0 = (idx / across) * l.chunkH
		}

		for r := 0; r < l.chunkH; r++ {
			y := y0 + r
			if y >= height {
				break
			}
			start := r * rowBytes
			if start+rowBytes > len(buf) {
				// Last strips may be shorter than RowsPerStrip
				break
			}
			row := buf[start : start+rowBytes]
			if l.predictor == predictorHorizontal {
				undoPredictor(row, l.samples, l.bytesPer, d)
			}

			for c := 0; c < l.chunkW; c++ {
				x := x0 + c
				if x >= width {
					break
				}
				for k, band := range pick {
					bands[k][y*width+x] = sampleAt(row, c*l.samples+band, l.bytesPer, d)
				}
			}
		}
	}

	noData, hasNoData := d.noData()
	var mask []bool
	if hasNoData && noData >= 0 && noData <= 65535 {
		nd := uint16(noData)
		mask = make([]bool, width*height)
		for i := range mask {
			mask[i] = bands[0][i] == nd && bands[1][i] == nd && bands[2][i] == nd
		}
	}

	return composeRGB(bands, width, height, mask), nil
}

func sampleAt(row []byte, i, bytesPer int, d *ifd) uint16 {
	if bytesPer == 1 {
		return uint16(row[i])
	}
	return d.order.Uint16(row[i*2:])
}

// undoPredictor reverses horizontal differencing in place
func undoPredictor(row []byte, samples, bytesPer int, d *ifd) {
	if bytesPer == 1 {
		for i := samples; i < len(row); i++ {
			row[i] += row[i-samples]
		}
		return
	}
	n := len(row) / 2
	for i := samples; i < n; i++ {
		v := d.order.Uint16(row[i*2:]) + d.order.Uint16(row[(i-samples)*2:])
		d.order.PutUint16(row[i*2:], v)
	}
}

// composeRGB stretches three bands between their 2nd and 98th percentiles.
// Masked pixels become transparent and are left out of the percentiles.
func composeRGB(bands [3][]uint16, width, height int, mask []bool) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, width, height))

	var lo, hi [3]float64
	for k := range bands {
		lo[k], hi[k] = percentiles(bands[k], mask, 0.02, 0.98)
	}

	for i := 0; i < width*height; i++ {
		p := out.Pix[i*4 : i*4+4]
		if mask != nil && mask[i] {
			continue
		}
		for k := range bands {
			v := (float64(bands[k][i]) - lo[k]) / (hi[k] - lo[k] + 1e-8)
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			p[k] = uint8(v * 255)
		}
		p[3] = 255
	}

	return out
}

// percentiles returns the values at quantiles q1 and q2 using a histogram
func percentiles(band []uint16, mask []bool, q1, q2 float64) (float64, float64) {
	var hist [65536]uint32
	total := 0
	for i, v := range band {
		if mask != nil && mask[i] {
			continue
		}
		hist[v]++
		total++
	}
	if total == 0 {
		return 0, 65535
	}

	lowTarget := int(q1 * float64(total-1))
	highTarget := int(q2 * float64(total-1))
	lo, hi := -1, -1
	seen := 0
	for v, n := range hist {
		if n == 0 {
			continue
		}
		seen += int(n)
		if lo < 0 && seen > lowTarget {
			lo = v
		}
		if seen > highTarget {
			hi = v
			break
		}
	}
	return float64(lo), float64(hi)
}
