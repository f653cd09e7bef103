package datasets

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

var plyTypes = map[string]scalarType{
	"char": {kindInt, 1}, "int8": {kindInt, 1},
	"uchar": {kindUint, 1}, "uint8": {kindUint, 1},
	"short": {kindInt, 2}, "int16": {kindInt, 2},
	"ushort": {kindUint, 2}, "uint16": {kindUint, 2},
	"int": {kindInt, 4}, "int32": {kindInt, 4},
	"uint": {kindUint, 4}, "uint32": {kindUint, 4},
	"float": {kindFloat, 4}, "float32": {kindFloat, 4},
	"double": {kindFloat, 8}, "float64": {kindFloat, 8},
}

type plyProperty struct {
	name   string
	typ    scalarType
	isList bool
	offset int
}

type plyElement struct {
	name   string
	count  int
	props  []plyProperty
	stride int
	fixed  bool // no list properties
}

func (e *plyElement) prop(names ...string) int {
	for _, n := range names {
		for i, p := range e.props {
			if p.name == n {
				return i
			}
		}
	}
	return -1
}

// readPLY decodes the vertex element of an ascii or binary PLY file.
// Properties x, y and z are required; red/green/blue and intensity are
// optional. Elements before the vertices must have fixed-size records in
// binary files so they can be skipped.
func readPLY(data []byte, source string) (*pointcloud.Frame, error) {
	format, elements, body, err := parsePLYHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, source, err)
	}

	vi := -1
	for i, e := range elements {
		if e.name == "vertex" {
			vi = i
			break
		}
	}
	if vi < 0 {
		return nil, fmt.Errorf("%w: %s: PLY has no vertex element", ErrUnsupportedFormat, source)
	}
	v := elements[vi]
	ix, iy, iz := v.prop("x"), v.prop("y"), v.prop("z")
	if ix < 0 || iy < 0 || iz < 0 {
		return nil, fmt.Errorf("%w: %s: PLY vertices need x, y and z", ErrUnsupportedFormat, source)
	}
	ir, ig, ib := v.prop("red", "r"), v.prop("green", "g"), v.prop("blue", "b")
	hasColor := ir >= 0 && ig >= 0 && ib >= 0
	ii := v.prop("intensity", "scalar_intensity", "scalar_Intensity")

	var rows [][]float64
	switch format {
	case "ascii":
		rows, err = plyASCII(elements[:vi], v, body)
	case "binary_little_endian":
		rows, err = plyBinary(elements[:vi], v, body, binary.LittleEndian)
	case "binary_big_endian":
		rows, err = plyBinary(elements[:vi], v, body, binary.BigEndian)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, source, err)
	}

	b := newCloudBuilder(len(rows), ii >= 0, hasColor)
	for _, row := range rows {
		var c pointcloud.Color
		if hasColor {
			c = pointcloud.Color{
				R: colorByte(row[ir], v.props[ir].typ),
				G: colorByte(row[ig], v.props[ig].typ),
				B: colorByte(row[ib], v.props[ib].typ),
			}
		}
		var in float32
		if ii >= 0 {
			in = float32(row[ii])
		}
		b.add(row[ix], row[iy], row[iz], in, c)
	}
	return b.frame(source), nil
}

// colorByte maps a colour channel to 0..255. Float channels are in [0, 1].
func colorByte(v float64, t scalarType) uint8 {
	if t.kind == kindFloat {
		v *= 255
	}
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func parsePLYHeader(data []byte) (string, []*plyElement, []byte, error) {
	var (
		format   string
		elements []*plyElement
		cur      *plyElement
	)
	rest := data
	first := true
	for {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			return "", nil, nil, fmt.Errorf("header has no end_header line")
		}
		line := strings.TrimSpace(string(rest[:nl]))
		rest = rest[nl+1:]
		if first {
			if line != "ply" {
				return "", nil, nil, fmt.Errorf("missing ply magic")
			}
			first = false
			continue
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "format":
			if len(parts) < 2 {
				return "", nil, nil, fmt.Errorf("invalid format line %q", line)
			}
			format = parts[1]
		case "comment", "obj_info":
		case "element":
			if len(parts) != 3 {
				return "", nil, nil, fmt.Errorf("invalid element line %q", line)
			}
			n, err := strconv.Atoi(parts[2])
			if err != nil || n < 0 {
				return "", nil, nil, fmt.Errorf("invalid element count in %q", line)
			}
			cur = &plyElement{name: parts[1], count: n, fixed: true}
			elements = append(elements, cur)
		case "property":
			if cur == nil {
				return "", nil, nil, fmt.Errorf("property before element")
			}
			if len(parts) >= 5 && parts[1] == "list" {
				cur.props = append(cur.props, plyProperty{name: parts[4], isList: true})
				cur.fixed = false
				continue
			}
			if len(parts) != 3 {
				return "", nil, nil, fmt.Errorf("invalid property line %q", line)
			}
			typ, ok := plyTypes[parts[1]]
			if !ok {
				return "", nil, nil, fmt.Errorf("unknown property type %q", parts[1])
			}
			cur.props = append(cur.props, plyProperty{name: parts[2], typ: typ, offset: cur.stride})
			cur.stride += typ.size
		case "end_header":
			return format, elements, rest, nil
		default:
			return "", nil, nil, fmt.Errorf("unknown header line %q", line)
		}
	}
}

func plyASCII(before []*plyElement, v *plyElement, body []byte) ([][]float64, error) {
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	skip := 0
	for _, e := range before {
		skip += e.count
	}
	for i := 0; i < skip; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("unexpected end of data in preceding elements")
		}
	}
	if !v.fixed {
		return nil, fmt.Errorf("list properties in vertex element are not supported")
	}

	rows := make([][]float64, 0, v.count)
	for len(rows) < v.count {
		if !sc.Scan() {
			return nil, fmt.Errorf("expected %d vertices, found %d", v.count, len(rows))
		}
		toks := strings.Fields(sc.Text())
		if len(toks) < len(v.props) {
			return nil, fmt.Errorf("vertex %d has %d values, expected %d", len(rows), len(toks), len(v.props))
		}
		row := make([]float64, len(v.props))
		for i, p := range v.props {
			val, err := p.typ.parse(toks[i])
			if err != nil {
				return nil, fmt.Errorf("vertex %d property %s: %w", len(rows), p.name, err)
			}
			row[i] = val
		}
		rows = append(rows, row)
	}
	return rows, sc.Err()
}

func plyBinary(before []*plyElement, v *plyElement, body []byte, order binary.ByteOrder) ([][]float64, error) {
	off := 0
	for _, e := range before {
		if !e.fixed {
			return nil, fmt.Errorf("element %q precedes vertices and has list properties", e.name)
		}
		off += e.count * e.stride
	}
	if !v.fixed {
		return nil, fmt.Errorf("list properties in vertex element are not supported")
	}
	need := off + v.count*v.stride
	if len(body) < need {
		return nil, errTruncated("PLY", need, len(body))
	}

	rows := make([][]float64, v.count)
	for i := range rows {
		rec := body[off+i*v.stride:]
		row := make([]float64, len(v.props))
		for j, p := range v.props {
			row[j] = p.typ.decode(rec[p.offset:], order)
		}
		rows[i] = row
	}
	return rows, nil
}
