package parse

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
	"github.com/banshee-data/lidar-visualizer/internal/testutil"
)

const nestedMetadata = `{
  "sensor_info": {"prod_line": "OS-0-32", "prod_sn": "122233000111"},
  "config_params": {"lidar_mode": "512x20", "udp_port_lidar": 7000, "udp_profile_lidar": "RNG19_RFL8_SIG16_NIR16"},
  "beam_intrinsics": {
    "beam_altitude_angles": [10, 0],
    "beam_azimuth_angles": [1, -1],
    "lidar_origin_to_beam_origin_mm": 15.8
  },
  "lidar_intrinsics": {
    "lidar_to_sensor_transform": [-1, 0, 0, 0, 0, -1, 0, 0, 0, 0, 1, 38.2, 0, 0, 0, 1]
  },
  "lidar_data_format": {
    "columns_per_packet": 16,
    "pixels_per_column": 2,
    "pixel_shift_by_row": [4, -4]
  }
}`

func TestParseOusterMetadata_Legacy(t *testing.T) {
	m, err := ParseOusterMetadata(testutil.OusterMetadataJSON(16, 64, 8, OusterProfileLegacy))
	require.NoError(t, err)

	assert.Equal(t, "OS-1-16", m.ProductLine)
	assert.Equal(t, 64, m.ColumnsPerFrame)
	assert.Equal(t, 8, m.ColumnsPerPacket)
	assert.Equal(t, 16, m.PixelsPerColumn)
	assert.Equal(t, OusterProfileLegacy, m.Profile)
	assert.Equal(t, 7502, m.LidarPort)
	assert.Equal(t, identity4(), m.LidarToSensorTransform)
}

func TestParseOusterMetadata_Nested(t *testing.T) {
	m, err := ParseOusterMetadata([]byte(nestedMetadata))
	require.NoError(t, err)

	want := &OusterMetadata{
		ProductLine:               "OS-0-32",
		SerialNumber:              "122233000111",
		LidarMode:                 "512x20",
		BeamAltitudeAngles:        []float64{10, 0},
		BeamAzimuthAngles:         []float64{1, -1},
		LidarOriginToBeamOriginMM: 15.8,
		LidarToSensorTransform:    [16]float64{-1, 0, 0, 0, 0, -1, 0, 0, 0, 0, 1, 38.2, 0, 0, 0, 1},
		ColumnsPerFrame:           512,
		ColumnsPerPacket:          16,
		PixelsPerColumn:           2,
		PixelShiftByRow:           []int{4, -4},
		Profile:                   OusterProfileRNG19,
		LidarPort:                 7000,
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOusterMetadata_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"invalid json", `{"beam`, "invalid metadata JSON"},
		{"no beams", `{"lidar_mode": "1024x10"}`, "pixels_per_column"},
		{"mismatched azimuths", `{"lidar_mode": "1024x10", "beam_altitude_angles": [1, 2], "beam_azimuth_angles": [0]}`, "beam_azimuth_angles"},
		{"bad mode", `{"lidar_mode": "fast", "beam_altitude_angles": [1], "beam_azimuth_angles": [0]}`, "invalid lidar_mode"},
		{"no mode", `{"beam_altitude_angles": [1], "beam_azimuth_angles": [0]}`, "columns_per_frame"},
		{"bad transform", `{"lidar_mode": "1024x10", "beam_altitude_angles": [1], "beam_azimuth_angles": [0], "lidar_to_sensor_transform": [1, 2]}`, "lidar_to_sensor_transform"},
		{"profile", `{"lidar_mode": "1024x10", "beam_altitude_angles": [1], "beam_azimuth_angles": [0], "data_format": {"udp_profile_lidar": "FUSA_RNG15_RFL8_NIR8_DUAL"}}`, "unsupported udp_profile_lidar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOusterMetadata([]byte(tt.doc))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadOusterMetadata(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("drive/os1.json", testutil.OusterMetadataJSON(4, 32, 16, OusterProfileLegacy), 0o644))

	m, err := LoadOusterMetadata(fs, "drive/os1.json")
	require.NoError(t, err)
	assert.Equal(t, 4, m.PixelsPerColumn)

	_, err = LoadOusterMetadata(fs, "drive/missing.json")
	assert.ErrorContains(t, err, "failed to read metadata")
}

func TestXYZLut_Directions(t *testing.T) {
	m := &OusterMetadata{
		BeamAltitudeAngles:     []float64{0, 45},
		BeamAzimuthAngles:      []float64{0, 0},
		LidarToSensorTransform: identity4(),
		ColumnsPerFrame:        4,
		ColumnsPerPacket:       4,
		PixelsPerColumn:        2,
		Profile:                OusterProfileLegacy,
	}
	lut, err := NewXYZLut(m)
	require.NoError(t, err)

	// Column 0 has encoder angle 2π, pointing along +X.
	p := lut.Point(0, 0, 1000)
	assert.InDelta(t, 1.0, p.X, 1e-9)
	assert.InDelta(t, 0.0, p.Y, 1e-9)

	// Column 1 of 4 has encoder angle 3π/2, pointing along -Y.
	p = lut.Point(0, 1, 2000)
	assert.InDelta(t, 0.0, p.X, 1e-9)
	assert.InDelta(t, -2.0, p.Y, 1e-9)

	p = lut.Point(1, 0, 1000)
	assert.InDelta(t, math.Sqrt2/2, p.X, 1e-9)
	assert.InDelta(t, math.Sqrt2/2, p.Z, 1e-9)
}

func TestXYZLut_SensorTransform(t *testing.T) {
	m := &OusterMetadata{
		BeamAltitudeAngles: []float64{0},
		BeamAzimuthAngles:  []float64{0},
		// 180° yaw and a 100 mm lift.
		LidarToSensorTransform: [16]float64{-1, 0, 0, 0, 0, -1, 0, 0, 0, 0, 1, 100, 0, 0, 0, 1},
		ColumnsPerFrame:        4,
		ColumnsPerPacket:       4,
		PixelsPerColumn:        1,
		Profile:                OusterProfileLegacy,
	}
	lut, err := NewXYZLut(m)
	require.NoError(t, err)

	p := lut.Point(0, 0, 1000)
	assert.InDelta(t, -1.0, p.X, 1e-9)
	assert.InDelta(t, 0.1, p.Z, 1e-9)
}

func TestXYZLut_BeamOriginOffset(t *testing.T) {
	m := &OusterMetadata{
		BeamAltitudeAngles:        []float64{0},
		BeamAzimuthAngles:         []float64{0},
		LidarOriginToBeamOriginMM: 10,
		LidarToSensorTransform:    identity4(),
		ColumnsPerFrame:           4,
		ColumnsPerPacket:          4,
		PixelsPerColumn:           1,
		Profile:                   OusterProfileLegacy,
	}
	lut, err := NewXYZLut(m)
	require.NoError(t, err)

	// With zero beam azimuth the origin offset is along the ray and cancels.
	p := lut.Point(0, 0, 1000)
	assert.InDelta(t, 1.0, p.X, 1e-9)
}

func TestOusterDecoder_Legacy(t *testing.T) {
	m, err := ParseOusterMetadata(testutil.OusterMetadataJSON(4, 32, 8, OusterProfileLegacy))
	require.NoError(t, err)
	dec, err := NewOusterDecoder(m)
	require.NoError(t, err)

	assert.Equal(t, 8*(16+4*12+4), dec.PacketSize())

	data := testutil.OusterLegacyPacket(4, 8, 12, 8, 5000, 200, 1_000_000)
	id, err := dec.FrameID(data)
	require.NoError(t, err)
	assert.Equal(t, 12, id)

	pkt, err := dec.DecodePacket(data)
	require.NoError(t, err)
	assert.Equal(t, 12, pkt.FrameID)
	assert.Equal(t, uint64(1_000_000), pkt.Timestamp)
	assert.Equal(t, 8, pkt.Columns)
	require.Len(t, pkt.Returns, 32)

	r := pkt.Returns[0]
	assert.Equal(t, uint32(5000), r.RangeMM)
	assert.Equal(t, uint16(200), r.Reflectivity)
	assert.Equal(t, 8, r.Column)
	assert.InDelta(t, 5.0, r3.Norm(r.Point), 1e-9)
}

func TestOusterDecoder_LegacySkipsInvalidColumnsAndZeroRange(t *testing.T) {
	m, err := ParseOusterMetadata(testutil.OusterMetadataJSON(4, 32, 8, OusterProfileLegacy))
	require.NoError(t, err)
	dec, err := NewOusterDecoder(m)
	require.NoError(t, err)

	data := testutil.OusterLegacyPacket(4, 8, 1, 0, 5000, 1, 0)
	colSize := 16 + 4*12 + 4
	// Invalidate column 0 and zero the range of column 1, row 2.
	copy(data[colSize-4:colSize], []byte{0, 0, 0, 0})
	copy(data[colSize+16+2*12:], []byte{0, 0, 0, 0})

	pkt, err := dec.DecodePacket(data)
	require.NoError(t, err)
	assert.Equal(t, 7, pkt.Columns)
	assert.Len(t, pkt.Returns, 7*4-1)
}

func TestOusterDecoder_RNG19(t *testing.T) {
	m, err := ParseOusterMetadata(testutil.OusterMetadataJSON(4, 32, 16, OusterProfileRNG19))
	require.NoError(t, err)
	dec, err := NewOusterDecoder(m)
	require.NoError(t, err)

	assert.Equal(t, 32+16*(12+4*12)+32, dec.PacketSize())

	data := testutil.OusterRNG19Packet(4, 16, 300, 16, 2500, 9, 42)
	pkt, err := dec.DecodePacket(data)
	require.NoError(t, err)
	assert.Equal(t, 300, pkt.FrameID)
	assert.Equal(t, uint64(42), pkt.Timestamp)
	require.Len(t, pkt.Returns, 64)
	assert.Equal(t, uint16(9), pkt.Returns[0].Reflectivity)
	assert.Equal(t, 31, pkt.Returns[63].Column)
}

func TestOusterDecoder_Errors(t *testing.T) {
	m, err := ParseOusterMetadata(testutil.OusterMetadataJSON(4, 16, 8, OusterProfileLegacy))
	require.NoError(t, err)
	dec, err := NewOusterDecoder(m)
	require.NoError(t, err)

	_, err = dec.DecodePacket(make([]byte, 10))
	assert.ErrorContains(t, err, "invalid packet size")
	_, err = dec.FrameID(make([]byte, 10))
	assert.ErrorContains(t, err, "invalid packet size")

	// Measurement ids 16..23 do not fit a 16-column frame.
	_, err = dec.DecodePacket(testutil.OusterLegacyPacket(4, 8, 1, 16, 5000, 1, 0))
	assert.ErrorContains(t, err, "measurement id 16 out of range")
}
