package raster

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"sentinel-viewer/pkg/geotiff"
)

// field is one raw IFD entry
type field struct {
	datatype uint16
	count    uint32
	raw      []byte
}

// ifd is the first image file directory of a classic TIFF
type ifd struct {
	order  binary.ByteOrder
	fields map[uint16]field
}

var typeSizes = map[uint16]uint32{
	geotiff.DataType_Byte:      1,
	geotiff.DataType_ASCII:     1,
	geotiff.DataType_Short:     2,
	geotiff.DataType_Long:      4,
	geotiff.DataType_Rational:  8,
	geotiff.DataType_SByte:     1,
	geotiff.DataType_Undefined: 1,
	geotiff.DataType_SShort:    2,
	geotiff.DataType_SLong:     4,
	geotiff.DataType_SRational: 8,
	geotiff.DataType_Float:     4,
	geotiff.DataType_Double:    8,
	geotiff.DataType_IFD:       4,
}

// readIFD parses the TIFF header and first IFD of data
func readIFD(data []byte) (*ifd, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: file too short", ErrNotTIFF)
	}

	var order binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order marker", ErrNotTIFF)
	}

	switch order.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("BigTIFF is not supported")
	default:
		return nil, fmt.Errorf("%w: bad magic number", ErrNotTIFF)
	}

	offset := order.Uint32(data[4:8])
	if uint64(offset)+2 > uint64(len(data)) {
		return nil, fmt.Errorf("%w: IFD offset out of range", ErrNotTIFF)
	}

	n := uint32(order.Uint16(data[offset : offset+2]))
	entriesEnd := uint64(offset) + 2 + uint64(n)*12
	if entriesEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: IFD truncated", ErrNotTIFF)
	}

	d := &ifd{order: order, fields: make(map[uint16]field, n)}
	for i := uint32(0); i < n; i++ {
		e := data[offset+2+i*12 : offset+2+(i+1)*12]
		tag := order.Uint16(e[0:2])
		datatype := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])

		size, known := typeSizes[datatype]
		if !known {
			continue // unknown types are skipped, as readers must
		}

		total := uint64(size) * uint64(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			valOffset := uint64(order.Uint32(e[8:12]))
			if valOffset+total > uint64(len(data)) {
				return nil, fmt.Errorf("%w: tag %d value out of range", ErrNotTIFF, tag)
			}
			raw = data[valOffset : valOffset+total]
		}

		d.fields[tag] = field{datatype: datatype, count: count, raw: raw}
	}

	return d, nil
}

func (d *ifd) has(tag uint16) bool {
	_, ok := d.fields[tag]
	return ok
}

// uints returns an integer-typed field as uint64 values
func (d *ifd) uints(tag uint16) []uint64 {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}

	out := make([]uint64, 0, f.count)
	for i := uint32(0); i < f.count; i++ {
		switch f.datatype {
		case geotiff.DataType_Byte, geotiff.DataType_Undefined:
			out = append(out, uint64(f.raw[i]))
		case geotiff.DataType_Short:
			out = append(out, uint64(d.order.Uint16(f.raw[i*2:])))
		case geotiff.DataType_Long, geotiff.DataType_IFD:
			out = append(out, uint64(d.order.Uint32(f.raw[i*4:])))
		default:
			return nil
		}
	}
	return out
}

// first returns the first value of an integer field, or def when absent
func (d *ifd) first(tag uint16, def uint64) uint64 {
	vs := d.uints(tag)
	if len(vs) == 0 {
		return def
	}
	return vs[0]
}

// floats returns a numeric field as float64 values
func (d *ifd) floats(tag uint16) []float64 {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}

	switch f.datatype {
	case geotiff.DataType_Double:
		out := make([]float64, f.count)
		for i := range out {
			out[i] = math.Float64frombits(d.order.Uint64(f.raw[i*8:]))
		}
		return out
	case geotiff.DataType_Float:
		out := make([]float64, f.count)
		for i := range out {
			out[i] = float64(math.Float32frombits(d.order.Uint32(f.raw[i*4:])))
		}
		return out
	case geotiff.DataType_Rational:
		out := make([]float64, f.count)
		for i := range out {
			num := d.order.Uint32(f.raw[i*8:])
			den := d.order.Uint32(f.raw[i*8+4:])
			if den != 0 {
				out[i] = float64(num) / float64(den)
			}
		}
		return out
	}

	ints := d.uints(tag)
	out := make([]float64, len(ints))
	for i, v := range ints {
		out[i] = float64(v)
	}
	return out
}

// ascii returns an ASCII field without its NUL terminator
func (d *ifd) ascii(tag uint16) string {
	f, ok := d.fields[tag]
	if !ok || f.datatype != geotiff.DataType_ASCII {
		return ""
	}
	return strings.TrimRight(string(f.raw), "\x00")
}

// noData returns the GDAL nodata value when declared
func (d *ifd) noData() (float64, bool) {
	s := strings.TrimSpace(d.ascii(geotiff.TagType_GDALNoData))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
