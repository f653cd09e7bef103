package visualiser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/lidar-visualizer/internal/lidar/visualiser/pb"
)

func wireFrame(n int) *pb.Frame {
	f := &pb.Frame{Index: 1, Source: "wire", Background: "black"}
	for i := 0; i < n; i++ {
		f.X = append(f.X, float32(i))
		f.Y = append(f.Y, float32(-i))
		f.Z = append(f.Z, float32(i)/10)
		f.RGB = append(f.RGB, byte(i), byte(i+1), byte(i+2))
		f.Intensity = append(f.Intensity, float32(i*2))
	}
	return f
}

func TestDecimateWire(t *testing.T) {
	src := wireFrame(10)

	got := decimateWire(src, 0.5)
	assert.Equal(t, []float32{0, 2, 4, 6, 8}, got.X)
	assert.Equal(t, []float32{0, -2, -4, -6, -8}, got.Y)
	assert.Equal(t, []byte{2, 3, 4}, got.RGB[3:6])
	assert.Equal(t, []float32{0, 4, 8, 12, 16}, got.Intensity)
	assert.Equal(t, "wire", got.Source)
	assert.Len(t, src.X, 10, "input must not change")

	got = decimateWire(src, 0.01)
	assert.Equal(t, []float32{0}, got.X)
}

func TestDecimateWire_PassThrough(t *testing.T) {
	src := wireFrame(4)
	for _, ratio := range []float32{0, 1, -1, 2} {
		assert.Same(t, src, decimateWire(src, ratio))
	}
	empty := &pb.Frame{}
	assert.Same(t, empty, decimateWire(empty, 0.5))
}

func TestDecimateWire_WithoutOptionalFields(t *testing.T) {
	src := wireFrame(6)
	src.RGB, src.Intensity = nil, nil
	got := decimateWire(src, 0.5)
	assert.Len(t, got.X, 3)
	assert.Nil(t, got.RGB)
	assert.Nil(t, got.Intensity)
}
