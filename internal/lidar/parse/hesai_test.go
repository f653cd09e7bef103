package parse

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-visualizer/internal/fsutil"
	"github.com/banshee-data/lidar-visualizer/internal/testutil"
)

func flatConfig() Pandar40PConfig {
	var config Pandar40PConfig
	for i := 0; i < CHANNELS_PER_BLOCK; i++ {
		config.AngleCorrections[i] = AngleCorrection{Channel: i + 1}
		config.FiretimeCorrections[i] = FiretimeCorrection{Channel: i + 1}
	}
	return config
}

func TestIsPandar40PPacket(t *testing.T) {
	assert.True(t, IsPandar40PPacket(make([]byte, PACKET_SIZE_STANDARD)))
	assert.True(t, IsPandar40PPacket(make([]byte, PACKET_SIZE_SEQUENCE)))
	assert.False(t, IsPandar40PPacket(make([]byte, 1024)))
}

func TestParsePacket_Geometry(t *testing.T) {
	parser := NewPandar40PParser(flatConfig())
	// 90° on every block, 1 m (250 * 4 mm).
	var az [10]uint16
	for i := range az {
		az[i] = 9000
	}
	pkt, err := parser.ParsePacket(testutil.HesaiPacket(az, 250, 77, 600))
	require.NoError(t, err)

	require.Len(t, pkt.Returns, BLOCKS_PER_PACKET*CHANNELS_PER_BLOCK)
	r := pkt.Returns[0]
	assert.InDelta(t, 1.0, r.Distance, 1e-9)
	assert.InDelta(t, 90.0, r.Azimuth, 1e-9)
	assert.InDelta(t, 1.0, r.Point.X, 1e-9)
	assert.InDelta(t, 0.0, r.Point.Y, 1e-9)
	assert.InDelta(t, 0.0, r.Point.Z, 1e-9)
	assert.Equal(t, uint8(77), r.Reflectivity)
	assert.Equal(t, 1, r.Channel)
	assert.Equal(t, 90.0, pkt.BlockAzimuths[9])
}

func TestParsePacket_ElevationAndFiretime(t *testing.T) {
	config := flatConfig()
	config.AngleCorrections[0].Elevation = 30
	config.FiretimeCorrections[0].FireTime = 100 // µs
	parser := NewPandar40PParser(config)

	pkt, err := parser.ParsePacket(testutil.HesaiPacket([10]uint16{}, 500, 1, 600))
	require.NoError(t, err)

	r := pkt.Returns[0]
	// 600 RPM is 3600°/s, so 100 µs shifts azimuth by 0.36°.
	assert.InDelta(t, 0.36, r.Azimuth, 1e-9)
	assert.InDelta(t, 2*math.Sin(30*math.Pi/180), r.Point.Z, 1e-9)
	assert.InDelta(t, 30.0, r.Elevation, 1e-9)
}

func TestParsePacket_AzimuthWrapsIntoRange(t *testing.T) {
	config := flatConfig()
	config.AngleCorrections[0].Azimuth = -1.5
	parser := NewPandar40PParser(config)

	pkt, err := parser.ParsePacket(testutil.HesaiPacket([10]uint16{}, 250, 1, 600))
	require.NoError(t, err)
	assert.InDelta(t, 358.5, pkt.Returns[0].Azimuth, 1e-9)
}

func TestParsePacket_SkipsZeroDistance(t *testing.T) {
	parser := NewPandar40PParser(flatConfig())
	pkt, err := parser.ParsePacket(testutil.HesaiPacket([10]uint16{}, 0, 1, 600))
	require.NoError(t, err)
	assert.Empty(t, pkt.Returns)
}

func TestParsePacket_WithSequence(t *testing.T) {
	data := append(testutil.HesaiPacket([10]uint16{}, 250, 1, 600), 0x2A, 0, 0, 0)
	pkt, err := NewPandar40PParser(flatConfig()).ParsePacket(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), pkt.Tail.UDPSequence)
}

func TestParsePacket_Tail(t *testing.T) {
	pkt, err := NewPandar40PParser(flatConfig()).ParsePacket(testutil.HesaiPacket([10]uint16{}, 250, 1, 600))
	require.NoError(t, err)

	assert.Equal(t, uint16(600), pkt.Tail.MotorSpeed)
	assert.Equal(t, uint8(0x37), pkt.Tail.ReturnMode)
	assert.Equal(t, uint8(0x42), pkt.Tail.FactoryInfo)
	assert.Equal(t, 2024, pkt.Tail.CombinedTimestamp.Year())
	assert.Equal(t, 500000*1000, pkt.Tail.CombinedTimestamp.Nanosecond())
}

func TestParsePacket_Errors(t *testing.T) {
	parser := NewPandar40PParser(flatConfig())

	_, err := parser.ParsePacket(make([]byte, 100))
	assert.ErrorContains(t, err, "invalid packet size")

	bad := testutil.HesaiPacket([10]uint16{}, 250, 1, 600)
	bad[124] = 0x00
	_, err = parser.ParsePacket(bad)
	assert.ErrorContains(t, err, "block 1")
}

func TestLoadPandar40PConfig(t *testing.T) {
	angles, firetimes := testutil.HesaiCalibrationCSV()
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("cal/angles.csv", angles, 0o644))
	require.NoError(t, fs.WriteFile("cal/angles_firetime.csv", firetimes, 0o644))

	config, err := LoadPandar40PConfig(fs, "cal/angles.csv", "cal/angles_firetime.csv")
	require.NoError(t, err)
	assert.Equal(t, 40, config.AngleCorrections[39].Channel)
	assert.InDelta(t, -10.0, config.AngleCorrections[0].Elevation, 1e-9)

	config, err = LoadPandar40PConfig(fs, "cal/angles.csv", "")
	require.NoError(t, err)
	assert.Equal(t, 7, config.FiretimeCorrections[6].Channel)
	assert.Zero(t, config.FiretimeCorrections[6].FireTime)
}

func TestLoadPandar40PConfig_ByteOrderMark(t *testing.T) {
	angles, _ := testutil.HesaiCalibrationCSV()
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("angles.csv", append([]byte("\xef\xbb\xbf"), angles...), 0o644))

	_, err := LoadPandar40PConfig(fs, "angles.csv", "")
	require.NoError(t, err)
}

func TestLoadPandar40PConfig_Errors(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"header", "Chan,Elev,Az\n1,0,0\n", "invalid header"},
		{"empty", "Channel,Elevation,Azimuth\n", "insufficient data"},
		{"channel", "Channel,Elevation,Azimuth\nx,0,0\n", "invalid channel number"},
		{"elevation", "Channel,Elevation,Azimuth\n1,abc,0\n", "invalid elevation"},
		{"range", "Channel,Elevation,Azimuth\n41,0,0\n", "out of range"},
		{"missing channels", "Channel,Elevation,Azimuth\n1,0,0\n", "missing angle correction for channel 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, fs.WriteFile(tt.name+".csv", []byte(tt.content), 0o644))
			_, err := LoadPandar40PConfig(fs, tt.name+".csv", "")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := LoadPandar40PConfig(fs, "absent.csv", "")
	assert.Error(t, err)
}

func TestParseFiretimeCorrections_InvalidHeader(t *testing.T) {
	config := &Pandar40PConfig{}
	err := parseFiretimeCorrections([][]string{{"Channel", "delay"}, {"1", "0"}}, config)
	assert.ErrorContains(t, err, "invalid header")
}
