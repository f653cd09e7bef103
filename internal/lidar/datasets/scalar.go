package datasets

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/pointcloud"
)

type scalarKind int

const (
	kindInt scalarKind = iota
	kindUint
	kindFloat
)

// scalarType is one numeric field encoding shared by the PCD and PLY readers.
type scalarType struct {
	kind scalarKind
	size int
}

func (t scalarType) valid() bool {
	switch t.kind {
	case kindFloat:
		return t.size == 4 || t.size == 8
	default:
		return t.size == 1 || t.size == 2 || t.size == 4 || t.size == 8
	}
}

func (t scalarType) decode(b []byte, order binary.ByteOrder) float64 {
	switch t.kind {
	case kindFloat:
		if t.size == 4 {
			return float64(math.Float32frombits(order.Uint32(b)))
		}
		return math.Float64frombits(order.Uint64(b))
	case kindUint:
		return float64(t.bits(b, order))
	default:
		switch t.size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(order.Uint16(b)))
		case 4:
			return float64(int32(order.Uint32(b)))
		default:
			return float64(int64(order.Uint64(b)))
		}
	}
}

// bits returns the raw field bits, used for packed rgb values.
func (t scalarType) bits(b []byte, order binary.ByteOrder) uint64 {
	switch t.size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	default:
		return order.Uint64(b)
	}
}

func (t scalarType) parse(tok string) (float64, error) {
	if t.kind == kindFloat {
		return strconv.ParseFloat(tok, 64)
	}
	if t.kind == kindUint {
		v, err := strconv.ParseUint(tok, 10, 64)
		return float64(v), err
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	return float64(v), err
}

// packedRGB unpacks the PCL convention of 0x00RRGGBB stored in a float or
// uint32 field.
func packedRGB(bits uint32) pointcloud.Color {
	return pointcloud.Color{R: uint8(bits >> 16), G: uint8(bits >> 8), B: uint8(bits)}
}

// cloudBuilder accumulates points and optional attributes while readers
// decode records. Points with non-finite coordinates are dropped.
type cloudBuilder struct {
	points    []r3.Vec
	intensity []float32
	colors    []pointcloud.Color
	hasI      bool
	hasC      bool
}

func newCloudBuilder(n int, hasIntensity, hasColor bool) *cloudBuilder {
	b := &cloudBuilder{points: make([]r3.Vec, 0, n), hasI: hasIntensity, hasC: hasColor}
	if hasIntensity {
		b.intensity = make([]float32, 0, n)
	}
	if hasColor {
		b.colors = make([]pointcloud.Color, 0, n)
	}
	return b
}

func (b *cloudBuilder) add(x, y, z float64, intensity float32, c pointcloud.Color) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) ||
		math.IsInf(x, 0) || math.IsInf(y, 0) || math.IsInf(z, 0) {
		return
	}
	b.points = append(b.points, r3.Vec{X: x, Y: y, Z: z})
	if b.hasI {
		b.intensity = append(b.intensity, intensity)
	}
	if b.hasC {
		b.colors = append(b.colors, c)
	}
}

// frame builds the result. Explicit colours win; otherwise intensity is
// normalised by its maximum and mapped through viridis.
func (b *cloudBuilder) frame(source string) *pointcloud.Frame {
	f := &pointcloud.Frame{
		Points:    b.points,
		Intensity: b.intensity,
		Colors:    b.colors,
		Source:    source,
	}
	if !b.hasC && b.hasI {
		f.ColorizeIntensity(viridis)
	}
	return f
}

var viridis = pointcloud.Viridis()

func errTruncated(format string, need, have int) error {
	return fmt.Errorf("%w: truncated %s data (need %d bytes, have %d)", ErrUnsupportedFormat, format, need, have)
}
