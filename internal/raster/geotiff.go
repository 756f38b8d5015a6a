package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
)

// TIFF and GeoTIFF tags read or written here.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// GeoKey ids.
const (
	keyModelType     = 1024
	keyRasterType    = 1025
	keyGeographicCRS = 2048
	keyProjectedCRS  = 3072
)

const (
	modelTypeProjected  = 1
	modelTypeGeographic = 2
)

const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

var typeSize = map[uint16]int{1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8, 16: 8}

// ErrNotGeoTIFF is returned for TIFF files without georeferencing.
var ErrNotGeoTIFF = errors.New("geotiff: missing georeferencing tags")

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   []byte // value bytes, already resolved from their offset
}

// Decode parses a single-band 8-bit GeoTIFF.
func Decode(b []byte) (*Raster, error) {
	entries, order, err := readIFD(b)
	if err != nil {
		return nil, err
	}

	scale, err := doubles(entries, order, tagModelPixelScale, 3)
	if err != nil {
		return nil, err
	}
	tie, err := doubles(entries, order, tagModelTiepoint, 6)
	if err != nil {
		return nil, err
	}
	if scale[0] <= 0 || scale[1] <= 0 {
		return nil, fmt.Errorf("geotiff: unsupported pixel scale %v", scale[:2])
	}

	epsg, err := geoKeyEPSG(entries, order)
	if err != nil {
		return nil, err
	}

	img, err := tiff.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("geotiff: decode pixels: %w", err)
	}
	r := &Raster{
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		Transform: Transform{
			OriginX:     tie[3] - tie[0]*scale[0],
			OriginY:     tie[4] + tie[1]*scale[1],
			PixelWidth:  scale[0],
			PixelHeight: scale[1],
		},
		EPSG: epsg,
	}
	r.Pix, err = grayPixels(img)
	if err != nil {
		return nil, err
	}

	if e, ok := entries[tagGDALNoData]; ok {
		s := strings.TrimSpace(strings.TrimRight(string(e.raw), "\x00"))
		if v, err := strconv.ParseFloat(s, 64); err == nil && v >= 0 && v <= 255 && v == math.Trunc(v) {
			r.HasNoData = true
			r.NoData = uint8(v)
		}
	}
	return r, r.Validate()
}

func grayPixels(img image.Image) ([]uint8, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, w*h)
	switch m := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			copy(out[y*w:(y+1)*w], m.Pix[y*m.Stride:y*m.Stride+w])
		}
	case *image.Paletted:
		// Palette indices are the stored values.
		for y := 0; y < h; y++ {
			copy(out[y*w:(y+1)*w], m.Pix[y*m.Stride:y*m.Stride+w])
		}
	default:
		return nil, fmt.Errorf("geotiff: unsupported pixel layout %T, want 8-bit single band", img)
	}
	return out, nil
}

func readIFD(b []byte) (map[uint16]ifdEntry, binary.ByteOrder, error) {
	if len(b) < 8 {
		return nil, nil, errors.New("geotiff: short header")
	}
	var order binary.ByteOrder
	switch string(b[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, nil, errors.New("geotiff: bad byte order mark")
	}
	if order.Uint16(b[2:4]) != 42 {
		return nil, nil, errors.New("geotiff: not a classic TIFF")
	}

	off := int(order.Uint32(b[4:8]))
	if off+2 > len(b) {
		return nil, nil, errors.New("geotiff: IFD offset out of range")
	}
	n := int(order.Uint16(b[off : off+2]))
	if off+2+12*n > len(b) {
		return nil, nil, errors.New("geotiff: truncated IFD")
	}

	entries := make(map[uint16]ifdEntry, n)
	for i := 0; i < n; i++ {
		e := b[off+2+12*i : off+2+12*(i+1)]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])
		size, known := typeSize[typ]
		if !known {
			continue
		}
		total := size * int(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			vo := int(order.Uint32(e[8:12]))
			if vo < 0 || vo+total > len(b) {
				return nil, nil, fmt.Errorf("geotiff: tag %d value out of range", tag)
			}
			raw = b[vo : vo+total]
		}
		entries[tag] = ifdEntry{typ: typ, count: count, raw: raw}
	}
	return entries, order, nil
}

func doubles(entries map[uint16]ifdEntry, order binary.ByteOrder, tag uint16, min int) ([]float64, error) {
	e, ok := entries[tag]
	if !ok {
		return nil, ErrNotGeoTIFF
	}
	if e.typ != typeDouble || int(e.count) < min {
		return nil, fmt.Errorf("geotiff: tag %d has type %d count %d", tag, e.typ, e.count)
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(e.raw[8*i:]))
	}
	return out, nil
}

func geoKeyEPSG(entries map[uint16]ifdEntry, order binary.ByteOrder) (int, error) {
	e, ok := entries[tagGeoKeyDirectory]
	if !ok {
		return 0, ErrNotGeoTIFF
	}
	if e.typ != typeShort || e.count < 4 {
		return 0, errors.New("geotiff: malformed GeoKeyDirectory")
	}
	keys := make([]uint16, e.count)
	for i := range keys {
		keys[i] = order.Uint16(e.raw[2*i:])
	}

	values := map[uint16]uint16{}
	n := int(keys[3])
	for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
		k := keys[4+4*i:]
		// Only inline SHORT values (location 0) carry the codes we need.
		if k[1] == 0 {
			values[k[0]] = k[3]
		}
	}

	switch values[keyModelType] {
	case modelTypeProjected:
		if code := values[keyProjectedCRS]; code != 0 && code != 32767 {
			return int(code), nil
		}
		return 0, errors.New("geotiff: projected raster without an EPSG code")
	default:
		if code := values[keyGeographicCRS]; code != 0 && code != 32767 {
			return int(code), nil
		}
		return 4326, nil
	}
}

// Encode writes r as an uncompressed, single-strip GeoTIFF. The output is
// a pure function of r.
func Encode(r *Raster) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	modelType := uint16(modelTypeGeographic)
	crsKey := uint16(keyGeographicCRS)
	if r.EPSG != 4326 {
		modelType = modelTypeProjected
		crsKey = keyProjectedCRS
	}
	geoKeys := []uint16{
		1, 1, 0, 3,
		keyModelType, 0, 1, modelType,
		keyRasterType, 0, 1, 1,
		crsKey, 0, 1, uint16(r.EPSG),
	}

	le := binary.LittleEndian
	short := func(v uint16) []byte { return le.AppendUint16(nil, v) }
	long := func(v uint32) []byte { return le.AppendUint32(nil, v) }
	dbl := func(vs ...float64) []byte {
		var out []byte
		for _, v := range vs {
			out = le.AppendUint64(out, math.Float64bits(v))
		}
		return out
	}
	shorts := func(vs []uint16) []byte {
		var out []byte
		for _, v := range vs {
			out = le.AppendUint16(out, v)
		}
		return out
	}

	type entry struct {
		tag   uint16
		typ   uint16
		count uint32
		data  []byte
	}
	stripLen := uint32(len(r.Pix))
	entries := []entry{
		{tagImageWidth, typeLong, 1, long(uint32(r.Width))},
		{tagImageLength, typeLong, 1, long(uint32(r.Height))},
		{tagBitsPerSample, typeShort, 1, short(8)},
		{tagCompression, typeShort, 1, short(1)},
		{tagPhotometric, typeShort, 1, short(1)},
		{tagStripOffsets, typeLong, 1, nil}, // patched below
		{tagSamplesPerPixel, typeShort, 1, short(1)},
		{tagRowsPerStrip, typeLong, 1, long(uint32(r.Height))},
		{tagStripByteCounts, typeLong, 1, long(stripLen)},
		{tagPlanarConfig, typeShort, 1, short(1)},
		{tagSampleFormat, typeShort, 1, short(1)},
		{tagModelPixelScale, typeDouble, 3, dbl(r.Transform.PixelWidth, r.Transform.PixelHeight, 0)},
		{tagModelTiepoint, typeDouble, 6, dbl(0, 0, 0, r.Transform.OriginX, r.Transform.OriginY, 0)},
		{tagGeoKeyDirectory, typeShort, uint32(len(geoKeys)), shorts(geoKeys)},
	}
	if r.HasNoData {
		s := strconv.Itoa(int(r.NoData)) + "\x00"
		entries = append(entries, entry{tagGDALNoData, typeASCII, uint32(len(s)), []byte(s)})
	}

	ifdSize := 2 + 12*len(entries) + 4
	dataOff := 8 + ifdSize
	// Out-of-line values follow the IFD, word aligned.
	var extra bytes.Buffer
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			offsets[i] = uint32(dataOff + extra.Len())
			extra.Write(e.data)
			if extra.Len()%2 == 1 {
				extra.WriteByte(0)
			}
		}
	}
	stripOff := uint32(dataOff + extra.Len())
	entries[5].data = long(stripOff)

	var out bytes.Buffer
	out.Grow(int(stripOff) + len(r.Pix))
	out.WriteString("II")
	out.Write(short(42))
	out.Write(long(8))
	out.Write(short(uint16(len(entries))))
	for i, e := range entries {
		out.Write(short(e.tag))
		out.Write(short(e.typ))
		out.Write(long(e.count))
		if len(e.data) > 4 {
			out.Write(long(offsets[i]))
			continue
		}
		var field [4]byte
		copy(field[:], e.data)
		out.Write(field[:])
	}
	out.Write(long(0))
	out.Write(extra.Bytes())
	out.Write(r.Pix)
	return out.Bytes(), nil
}
