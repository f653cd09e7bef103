package datasets

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

type pcdField struct {
	name   string
	typ    scalarType
	count  int
	offset int // byte offset within a binary record
}

type pcdHeader struct {
	fields []pcdField
	width  int
	height int
	points int
	data   string
	stride int // bytes per binary record
}

func (h *pcdHeader) field(names ...string) int {
	for _, n := range names {
		for i, f := range h.fields {
			if strings.EqualFold(f.name, n) {
				return i
			}
		}
	}
	return -1
}

// readPCD decodes a PCD v0.7 file with DATA ascii, binary or
// binary_compressed. Fields x, y and z are required; intensity (or i) and a
// packed rgb/rgba field are optional.
func readPCD(data []byte, source string) (*pointcloud.Frame, error) {
	h, body, err := parsePCDHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, source, err)
	}

	ix, iy, iz := h.field("x"), h.field("y"), h.field("z")
	if ix < 0 || iy < 0 || iz < 0 {
		return nil, fmt.Errorf("%w: %s: PCD needs x, y and z fields", ErrUnsupportedFormat, source)
	}
	ii := h.field("intensity", "i")
	ic := h.field("rgb", "rgba")

	var rows [][]float64
	var rgbBits []uint32
	switch h.data {
	case "ascii":
		rows, rgbBits, err = pcdASCII(h, body, ic)
	case "binary":
		rows, rgbBits, err = pcdBinary(h, body, ic)
	case "binary_compressed":
		rows, rgbBits, err = pcdCompressed(h, body, ic)
	default:
		err = fmt.Errorf("unknown DATA type %q", h.data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, source, err)
	}

	b := newCloudBuilder(len(rows), ii >= 0, ic >= 0)
	for r, row := range rows {
		var c pointcloud.Color
		if ic >= 0 {
			c = packedRGB(rgbBits[r])
		}
		var in float32
		if ii >= 0 {
			in = float32(row[ii])
		}
		b.add(row[ix], row[iy], row[iz], in, c)
	}
	return b.frame(source), nil
}

func parsePCDHeader(data []byte) (*pcdHeader, []byte, error) {
	h := &pcdHeader{height: 1}
	var sizes, counts []int
	var types []string
	var names []string

	rest := data
	for {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			return nil, nil, fmt.Errorf("header has no DATA line")
		}
		line := strings.TrimSpace(string(rest[:nl]))
		rest = rest[nl+1:]
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		key, vals := strings.ToUpper(parts[0]), parts[1:]
		var err error
		switch key {
		case "VERSION", "VIEWPOINT":
		case "FIELDS":
			names = vals
		case "SIZE":
			sizes, err = atois(vals)
		case "TYPE":
			types = vals
		case "COUNT":
			counts, err = atois(vals)
		case "WIDTH":
			h.width, err = atoiCount(vals)
		case "HEIGHT":
			h.height, err = atoiCount(vals)
		case "POINTS":
			h.points, err = atoiCount(vals)
		case "DATA":
			if len(vals) != 1 {
				return nil, nil, fmt.Errorf("invalid DATA line %q", line)
			}
			h.data = strings.ToLower(vals[0])
		default:
			return nil, nil, fmt.Errorf("unknown header line %q", line)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("invalid %s line: %w", key, err)
		}
		if key == "DATA" {
			break
		}
	}

	if len(names) == 0 || len(sizes) != len(names) || len(types) != len(names) {
		return nil, nil, fmt.Errorf("FIELDS, SIZE and TYPE must have the same length")
	}
	if counts == nil {
		counts = make([]int, len(names))
		for i := range counts {
			counts[i] = 1
		}
	}
	if len(counts) != len(names) {
		return nil, nil, fmt.Errorf("COUNT must match FIELDS")
	}
	if h.points == 0 {
		if h.width > 0 && h.height > math.MaxInt/h.width {
			return nil, nil, fmt.Errorf("WIDTH %d x HEIGHT %d overflows", h.width, h.height)
		}
		h.points = h.width * h.height
	}

	for i, name := range names {
		typ := scalarType{size: sizes[i]}
		switch strings.ToUpper(types[i]) {
		case "F":
			typ.kind = kindFloat
		case "I":
			typ.kind = kindInt
		case "U":
			typ.kind = kindUint
		default:
			return nil, nil, fmt.Errorf("unknown TYPE %q", types[i])
		}
		if !typ.valid() || counts[i] < 1 || counts[i] > math.MaxInt32 {
			return nil, nil, fmt.Errorf("invalid SIZE/COUNT for field %s", name)
		}
		h.fields = append(h.fields, pcdField{name: name, typ: typ, count: counts[i], offset: h.stride})
		h.stride += typ.size * counts[i]
	}
	if h.stride > 0 && h.points > math.MaxInt/h.stride {
		return nil, nil, fmt.Errorf("POINTS %d is too large for a %d byte record", h.points, h.stride)
	}
	return h, rest, nil
}

func atois(vals []string) ([]int, error) {
	out := make([]int, len(vals))
	for i, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func atoi1(vals []string) (int, error) {
	if len(vals) != 1 {
		return 0, fmt.Errorf("expected one value")
	}
	return strconv.Atoi(vals[0])
}

func atoiCount(vals []string) (int, error) {
	n, err := atoi1(vals)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

// pcdASCII returns one row per point holding the first element of each
// field, plus the raw rgb bits when ic >= 0.
func pcdASCII(h *pcdHeader, body []byte, ic int) ([][]float64, []uint32, error) {
	rows := make([][]float64, 0, min(h.points, bytes.Count(body, []byte{'\n'})+1))
	var rgb []uint32
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() && len(rows) < h.points {
		toks := strings.Fields(sc.Text())
		if len(toks) == 0 {
			continue
		}
		row := make([]float64, len(h.fields))
		t := 0
		for fi, f := range h.fields {
			if t+f.count > len(toks) {
				return nil, nil, fmt.Errorf("point %d has %d values, expected more", len(rows), len(toks))
			}
			if fi == ic {
				bits, err := asciiRGB(f, toks[t])
				if err != nil {
					return nil, nil, err
				}
				rgb = append(rgb, bits)
			} else {
				v, err := f.typ.parse(toks[t])
				if err != nil {
					// PCL writes "nan" for invalid points.
					if strings.EqualFold(toks[t], "nan") {
						v = math.NaN()
					} else {
						return nil, nil, fmt.Errorf("point %d field %s: %w", len(rows), f.name, err)
					}
				}
				row[fi] = v
			}
			t += f.count
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if len(rows) != h.points {
		return nil, nil, fmt.Errorf("expected %d points, found %d", h.points, len(rows))
	}
	return rows, rgb, nil
}

func asciiRGB(f pcdField, tok string) (uint32, error) {
	if f.typ.kind == kindFloat {
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid rgb value %q", tok)
		}
		return math.Float32bits(float32(v)), nil
	}
	v, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid rgb value %q", tok)
	}
	return uint32(v), nil
}

func pcdBinary(h *pcdHeader, body []byte, ic int) ([][]float64, []uint32, error) {
	need := h.points * h.stride
	if len(body) < need {
		return nil, nil, errTruncated("PCD binary", need, len(body))
	}
	rows := make([][]float64, h.points)
	var rgb []uint32
	if ic >= 0 {
		rgb = make([]uint32, h.points)
	}
	for p := 0; p < h.points; p++ {
		rec := body[p*h.stride:]
		row := make([]float64, len(h.fields))
		for fi, f := range h.fields {
			b := rec[f.offset:]
			if fi == ic {
				rgb[p] = uint32(f.typ.bits(b, binary.LittleEndian))
				continue
			}
			row[fi] = f.typ.decode(b, binary.LittleEndian)
		}
		rows[p] = row
	}
	return rows, rgb, nil
}

// pcdCompressed handles binary_compressed: two uint32 sizes followed by an
// LZF block whose payload is stored field by field (structure of arrays).
func pcdCompressed(h *pcdHeader, body []byte, ic int) ([][]float64, []uint32, error) {
	if len(body) < 8 {
		return nil, nil, errTruncated("PCD compressed header", 8, len(body))
	}
	compressed := int(binary.LittleEndian.Uint32(body[0:4]))
	uncompressed := int(binary.LittleEndian.Uint32(body[4:8]))
	if len(body)-8 < compressed {
		return nil, nil, errTruncated("PCD compressed", compressed, len(body)-8)
	}
	if uncompressed != h.points*h.stride {
		return nil, nil, fmt.Errorf("compressed payload is %d bytes, expected %d", uncompressed, h.points*h.stride)
	}
	raw, err := lzfDecompress(body[8:8+compressed], uncompressed)
	if err != nil {
		return nil, nil, err
	}

	rows := make([][]float64, h.points)
	for p := range rows {
		rows[p] = make([]float64, len(h.fields))
	}
	var rgb []uint32
	if ic >= 0 {
		rgb = make([]uint32, h.points)
	}
	off := 0
	for fi, f := range h.fields {
		elem := f.typ.size * f.count
		for p := 0; p < h.points; p++ {
			b := raw[off+p*elem:]
			if fi == ic {
				rgb[p] = uint32(f.typ.bits(b, binary.LittleEndian))
				continue
			}
			rows[p][fi] = f.typ.decode(b, binary.LittleEndian)
		}
		off += elem * h.points
	}
	return rows, rgb, nil
}
